package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	// Packages
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func Test_Notifier_WakesOnNotify(t *testing.T) {
	assert := assert.New(t)
	pool := conn.Begin(t)
	t.Cleanup(pool.Close)

	cfg, err := applyOpts(conn.Unique(t))
	require.NoError(t, err)

	n := newNotifier(pool, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go n.Run(ctx)

	// Give the listener a moment to subscribe before notifying.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, pool.Exec(ctx, fmt.Sprintf("NOTIFY %s", cfg.channel)))

	select {
	case _, ok := <-n.Wake():
		assert.True(ok, "the wake channel is never closed")
	case <-time.After(5 * time.Second):
		t.Fatal("notifier never woke up after NOTIFY")
	}
}

func Test_Notifier_Wake_NonBlockingWhenUnread(t *testing.T) {
	assert := assert.New(t)
	pool := conn.Begin(t)
	t.Cleanup(pool.Close)

	cfg, err := applyOpts(conn.Unique(t))
	require.NoError(t, err)

	n := newNotifier(pool, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go n.Run(ctx)

	time.Sleep(200 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Exec(ctx, fmt.Sprintf("NOTIFY %s", cfg.channel)))
	}

	select {
	case <-n.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("notifier never woke up")
	}
	assert.NotNil(n.Wake(), "wake channel stays usable after repeated sends")
}
