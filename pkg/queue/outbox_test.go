package queue

import (
	"context"
	"errors"
	"testing"

	// Packages
	uuid "github.com/google/uuid"
	assert "github.com/stretchr/testify/assert"
)

func Test_TxContext_Query_RawStatementRunsInTransaction(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	table := "outbox_scratch_" + conn.Unique(t)
	err := q.WithTransaction(ctx, func(ctx context.Context, tx *TxContext) error {
		if err := tx.Query(ctx, "CREATE TEMPORARY TABLE "+table+" (id int)"); err != nil {
			return err
		}
		return tx.Query(ctx, "INSERT INTO "+table+" (id) VALUES (1)")
	})
	assert.NoError(err)
}

func Test_TxContext_Query_RolledBackOnError(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := q.WithTransaction(ctx, func(ctx context.Context, tx *TxContext) error {
		if err := tx.Query(ctx, "CREATE TEMPORARY TABLE t_never (id int)"); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(err, sentinel)
}

func Test_TxContext_Enqueue_SharesTransaction(t *testing.T) {
	assert := assert.New(t)
	q := newTestQueue(t)
	ctx := context.Background()

	var id uuid.UUID
	err := q.WithTransaction(ctx, func(ctx context.Context, tx *TxContext) error {
		got, err := tx.Enqueue(ctx, "outbox-combo", map[string]any{"k": "v"})
		if err != nil {
			return err
		}
		id = got
		return tx.Query(ctx, "SELECT 1")
	})
	assert.NoError(err)
	assert.NotEqual(uuid.Nil, id)

	msgs, _, err := q.FindByStatus(ctx, Pending)
	assert.NoError(err)
	found := false
	for _, m := range msgs {
		if m.Id == id {
			found = true
		}
	}
	assert.True(found, "enqueue performed inside WithTransaction must be committed")
}
