package queue

import (
	"context"
	"testing"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *loop {
	t.Helper()
	pool := conn.Begin(t)
	t.Cleanup(pool.Close)

	cfg, err := applyOpts(conn.Unique(t))
	require.NoError(t, err)

	s, err := newSchema(pool, cfg)
	require.NoError(t, err)
	require.NoError(t, s.EnsureTable(context.Background()))

	st, err := newStorage(pool, cfg)
	require.NoError(t, err)

	notify := newNotifier(pool, cfg)
	obs := newObservers()
	metrics := newQueueMetrics(st, cfg)
	return newLoop(cfg, st, notify, obs, metrics)
}

func Test_Loop_StartStop_Idempotent(t *testing.T) {
	assert := assert.New(t)
	l := newTestLoop(t)
	ctx := context.Background()

	assert.NoError(l.Start(ctx))
	assert.NoError(l.Start(ctx), "starting an already-running loop must be a no-op")

	assert.NoError(l.Stop(ctx))
	assert.NoError(l.Stop(ctx), "stopping an already-stopped loop must be a no-op")
}

func Test_Loop_RestartAfterStop(t *testing.T) {
	assert := assert.New(t)
	l := newTestLoop(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Stop(ctx))
	assert.NoError(l.Start(ctx), "a stopped loop must be startable again")
	assert.NoError(l.Stop(ctx))
}

func Test_Loop_ClaimsAndDispatchesToHandler(t *testing.T) {
	assert := assert.New(t)
	l := newTestLoop(t)
	ctx := context.Background()

	id, err := enqueue(ctx, l.storage, "work", nil)
	require.NoError(t, err)

	done := make(chan uuid.UUID, 1)
	l.RegisterHandler("work", func(ctx context.Context, msg *Message) error {
		done <- msg.Id
		return nil
	})

	require.NoError(t, l.Start(ctx))
	defer l.Stop(ctx)

	select {
	case got := <-done:
		assert.Equal(id, got)
	case <-time.After(10 * time.Second):
		t.Fatal("handler was never invoked")
	}
}
