package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	// Packages
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts ...Opt) *Queue {
	t.Helper()
	pool := conn.Begin(t)
	t.Cleanup(pool.Close)

	q, err := New(context.Background(), pool, conn.Unique(t), opts...)
	require.NoError(t, err)
	require.NotNil(t, q)
	return q
}

////////////////////////////////////////////////////////////////////////////////
// HAPPY PATH

func Test_Queue_HappyPath(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "greet", map[string]any{"name": "ada"})
	assert.NoError(err)
	assert.NotZero(id)

	msg, err := q.storage.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(Pending, msg.Status)
	assert.Equal(5, msg.Priority, "default priority is 5")
	assert.Equal(DefaultMaxRetries, msg.MaxRetries)

	processed := make(chan *Message, 1)
	q.RegisterHandler("greet", func(ctx context.Context, msg *Message) error {
		processed <- msg
		return nil
	})

	require.NoError(t, q.Start(ctx, WithConcurrency(2)))
	defer q.Stop(ctx)

	select {
	case got := <-processed:
		assert.Equal(id, got.Id)
	case <-time.After(10 * time.Second):
		t.Fatal("message was never dispatched")
	}

	assert.Eventually(func() bool {
		m, err := q.storage.Get(ctx, id)
		return err == nil && m.Status == Completed
	}, 5*time.Second, 50*time.Millisecond, "message should be acked to COMPLETED")
}

////////////////////////////////////////////////////////////////////////////////
// RETRY AND DEAD LETTER

func Test_Queue_RetryThenDeadLetter(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "fail-always", nil, WithMaxRetries(2))
	assert.NoError(err)

	var attempts int32
	var mu sync.Mutex
	q.RegisterHandler("fail-always", func(ctx context.Context, msg *Message) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("handler always fails")
	})

	require.NoError(t, q.Start(ctx, WithConcurrency(1)))
	defer q.Stop(ctx)

	assert.Eventually(func() bool {
		m, err := q.storage.Get(ctx, id)
		return err == nil && m.Status == DeadLetter
	}, 30*time.Second, 100*time.Millisecond, "message should eventually be dead-lettered")

	m, err := q.storage.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(3, m.RetryCount, "max_retries=2 means retry_count=3 is what exceeds it")
	assert.NotNil(m.LastError)
	assert.Contains(*m.LastError, "handler always fails")
}

////////////////////////////////////////////////////////////////////////////////
// MANUAL DEQUEUE

func Test_Queue_Dequeue_ManualDispatch(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	none, err := q.Dequeue(ctx)
	assert.NoError(err)
	assert.Nil(none, "an empty queue has nothing to dequeue")

	id, err := q.Enqueue(ctx, "manual", nil)
	assert.NoError(err)

	msg, err := q.Dequeue(ctx)
	assert.NoError(err)
	require.NotNil(t, msg)
	assert.Equal(id, msg.Id)
	assert.Equal(Processing, msg.Status, "dequeue claims the row under the same lock as the managed loop")

	assert.NoError(q.Ack(ctx, id))
	m, err := q.storage.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(Completed, m.Status)
}

////////////////////////////////////////////////////////////////////////////////
// PRIORITY ORDERING

func Test_Queue_PriorityOrdering(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	lowId, err := q.Enqueue(ctx, "noop", nil, WithPriority(10))
	assert.NoError(err)
	highId, err := q.Enqueue(ctx, "noop", nil, WithPriority(1))
	assert.NoError(err)

	first, err := q.storage.ClaimNext(ctx)
	assert.NoError(err)
	assert.Equal(highId, first.Id)

	second, err := q.storage.ClaimNext(ctx)
	assert.NoError(err)
	assert.Equal(lowId, second.Id)
}

////////////////////////////////////////////////////////////////////////////////
// CRASH RECOVERY (stale reset sweeper)

func Test_Queue_CrashRecovery_StaleReset(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t, WithVisibilityTimeout(time.Millisecond))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "crash", nil)
	assert.NoError(err)

	claimed, err := q.storage.ClaimNext(ctx)
	assert.NoError(err)
	assert.Equal(id, claimed.Id)

	time.Sleep(10 * time.Millisecond)

	n, err := q.storage.ResetStale(ctx, time.Now().Add(-time.Millisecond))
	assert.NoError(err)
	assert.EqualValues(1, n)

	m, err := q.storage.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(Pending, m.Status, "a message abandoned in PROCESSING must become claimable again")
}

////////////////////////////////////////////////////////////////////////////////
// OUTBOX ATOMICITY

func Test_Queue_WithTransaction_Atomicity(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	t.Run("CommittedEnqueueIsVisible", func(t *testing.T) {
		err := q.WithTransaction(ctx, func(ctx context.Context, tx *TxContext) error {
			_, err := tx.Enqueue(ctx, "outbox-ok", map[string]any{"n": 1})
			return err
		})
		assert.NoError(err)

		stats, err := q.Stats(ctx)
		assert.NoError(err)
		assert.GreaterOrEqual(stats.Pending, uint64(1))
	})

	t.Run("RolledBackEnqueueIsNotVisible", func(t *testing.T) {
		before, err := q.Stats(ctx)
		assert.NoError(err)

		sentinel := errors.New("rollback me")
		err = q.WithTransaction(ctx, func(ctx context.Context, tx *TxContext) error {
			if _, err := tx.Enqueue(ctx, "outbox-rollback", nil); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(err, sentinel)

		after, err := q.Stats(ctx)
		assert.NoError(err)
		assert.Equal(before.Pending, after.Pending, "a rolled back transaction must not leave its enqueue visible")
	})
}

////////////////////////////////////////////////////////////////////////////////
// IDEMPOTENT HANDLER (Execute)

func Test_Queue_Execute_Idempotent(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	key := fmt.Sprintf("idem-%s", conn.Unique(t))
	var runs int32
	var mu sync.Mutex
	op := func(ctx context.Context) (any, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		return map[string]any{"ok": true}, nil
	}

	result1, first1, err := q.Execute(ctx, key, time.Minute, op)
	assert.NoError(err)
	assert.True(first1)
	assert.NotNil(result1)

	result2, first2, err := q.Execute(ctx, key, time.Minute, op)
	assert.NoError(err)
	assert.False(first2)
	assert.Equal(result1, result2)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(1, runs, "op must run exactly once per key")
}

////////////////////////////////////////////////////////////////////////////////
// INSPECTION AND MAINTENANCE

func Test_Queue_FindByStatusAndCleanup(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "inspect", nil)
	assert.NoError(err)

	msgs, count, err := q.FindByStatus(ctx, Pending)
	assert.NoError(err)
	assert.GreaterOrEqual(count, uint64(1))
	found := false
	for _, m := range msgs {
		if m.Id == id {
			found = true
		}
	}
	assert.True(found)

	claimed, err := q.storage.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.NoError(q.Ack(ctx, claimed.Id))

	n, err := q.CleanupCompleted(ctx, -time.Hour)
	assert.NoError(err)
	assert.GreaterOrEqual(n, int64(1))
}

////////////////////////////////////////////////////////////////////////////////
// OBSERVABILITY

func Test_Queue_Observe(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	var kinds []EventKind
	var mu sync.Mutex
	unsubscribe := q.Observe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	defer unsubscribe()

	q.RegisterHandler("observed", func(ctx context.Context, msg *Message) error { return nil })
	require.NoError(t, q.Start(ctx))
	defer q.Stop(ctx)

	_, err := q.Enqueue(ctx, "observed", nil)
	assert.NoError(err)

	assert.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range kinds {
			if k == EventAck {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

////////////////////////////////////////////////////////////////////////////////
// SCHEMA

func Test_Queue_GenerateMigration(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	out := q.GenerateMigration()
	assert.Contains(out, "CREATE TABLE IF NOT EXISTS")
}
