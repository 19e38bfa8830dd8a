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

func newTestStorage(t *testing.T) *storage {
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
	return st
}

// nackUntilDeadLetter claims id (already PENDING) and nacks it repeatedly,
// waiting out each backoff and promoting back to PENDING in between, until
// retry_count exceeds max_retries and the message reaches DEAD_LETTER.
func nackUntilDeadLetter(t *testing.T, st *storage, id uuid.UUID, maxRetries int) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i <= maxRetries; i++ {
		claimed, err := st.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.Equal(t, id, claimed.Id)

		status, err := st.Nack(ctx, id, assert.AnError)
		require.NoError(t, err)
		if status == DeadLetter {
			return
		}

		// The backoff after the (i+1)th nack is 2^i seconds.
		time.Sleep(time.Duration(1<<i)*time.Second + 200*time.Millisecond)
		n, err := st.PromoteRetries(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	}
	t.Fatal("message never reached DEAD_LETTER")
}

func Test_Storage_InsertGetClaim(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	id, err := enqueue(ctx, st, "t", map[string]any{"x": 1})
	assert.NoError(err)

	got, err := st.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(Pending, got.Status)

	claimed, err := st.ClaimNext(ctx)
	assert.NoError(err)
	assert.Equal(id, claimed.Id)
	assert.Equal(Processing, claimed.Status)

	none, err := st.ClaimNext(ctx)
	assert.NoError(err)
	assert.Nil(none, "no further claimable rows should return nil, nil")
}

func Test_Storage_Ack_SilentOnRaceLoss(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	id, err := enqueue(ctx, st, "t", nil)
	assert.NoError(err)

	// Ack on a row that never left PENDING: the update matches zero rows,
	// which must be tolerated silently (spec "Ack races with a sweeper").
	err = st.Ack(ctx, id)
	assert.NoError(err)

	m, err := st.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(Pending, m.Status, "a no-op ack must not change status")
}

func Test_Storage_Nack_RaceLost(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	id, err := enqueue(ctx, st, "t", nil)
	assert.NoError(err)

	// Never claimed, so it's not PROCESSING: nack must report ErrRaceLost.
	_, err = st.Nack(ctx, id, assert.AnError)
	assert.ErrorIs(err, ErrRaceLost)
}

func Test_Storage_Nack_RetryThenDeadLetter(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	id, err := enqueue(ctx, st, "t", nil, WithMaxRetries(1))
	assert.NoError(err)

	claimed, err := st.ClaimNext(ctx)
	assert.NoError(err)
	assert.Equal(id, claimed.Id)

	status, err := st.Nack(ctx, id, assert.AnError)
	assert.NoError(err)
	assert.Equal(Failed, status, "retry_count (1) <= max_retries (1) must stay out of DEAD_LETTER")

	m, err := st.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(Failed, m.Status)
	assert.Equal(1, m.RetryCount)
	assert.NotNil(m.NextRetryAt)

	// Wait out the first backoff (2^0 seconds) and promote back to PENDING
	// for the failure that actually exhausts retries.
	time.Sleep(1200 * time.Millisecond)
	n, err := st.PromoteRetries(ctx)
	assert.NoError(err)
	assert.EqualValues(1, n)

	reclaimed, err := st.ClaimNext(ctx)
	assert.NoError(err)
	assert.Equal(id, reclaimed.Id)

	status, err = st.Nack(ctx, id, assert.AnError)
	assert.NoError(err)
	assert.Equal(DeadLetter, status, "retry_count (2) > max_retries (1) exhausts retries")

	m, err = st.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(DeadLetter, m.Status)
	assert.Equal(2, m.RetryCount)
	assert.Nil(m.NextRetryAt, "a dead-lettered message has no pending retry")
}

func Test_Storage_Retry_Unconditional(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	id, err := enqueue(ctx, st, "t", nil, WithMaxRetries(1))
	assert.NoError(err)

	claimed, err := st.ClaimNext(ctx)
	assert.NoError(err)
	_, err = st.Nack(ctx, claimed.Id, assert.AnError)
	assert.NoError(err)

	m, err := st.Retry(ctx, id)
	assert.NoError(err)
	assert.Equal(Pending, m.Status)
	assert.Equal(0, m.RetryCount, "manual retry resets retry_count")
	assert.Nil(m.LastError)
}

func Test_Storage_Stats(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	_, err := enqueue(ctx, st, "t", nil)
	assert.NoError(err)
	_, err = enqueue(ctx, st, "t", nil)
	assert.NoError(err)

	stats, err := st.Stats(ctx)
	assert.NoError(err)
	assert.EqualValues(2, stats.Pending)
	assert.Zero(stats.Processing)
}

func Test_Storage_PromoteRetries(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	id, err := enqueue(ctx, st, "t", nil, WithMaxRetries(5))
	assert.NoError(err)

	claimed, err := st.ClaimNext(ctx)
	assert.NoError(err)
	status, err := st.Nack(ctx, claimed.Id, assert.AnError)
	assert.NoError(err)
	assert.Equal(Failed, status)

	// next_retry_at is in the future; nothing should promote yet.
	n, err := st.PromoteRetries(ctx)
	assert.NoError(err)
	assert.Zero(n)

	m, err := st.Get(ctx, id)
	assert.NoError(err)
	assert.Equal(Failed, m.Status)
	assert.NotNil(m.NextRetryAt)
	_ = m.NextRetryAt
}

func Test_Storage_CleanupDeadLetters(t *testing.T) {
	assert := assert.New(t)
	st := newTestStorage(t)
	ctx := context.Background()

	id, err := enqueue(ctx, st, "t", nil, WithMaxRetries(1))
	assert.NoError(err)
	nackUntilDeadLetter(t, st, id, 1)

	n, err := st.CleanupDeadLetters(ctx, time.Now().Add(time.Hour))
	assert.NoError(err)
	assert.EqualValues(1, n)

	_, err = st.Get(ctx, id)
	assert.ErrorContains(err, "not_found")
}
