package queue

import (
	"context"

	// Packages
	pg "github.com/systeric/pgqueue"
	uuid "github.com/google/uuid"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// TxContext is handed to the caller's function inside WithTransaction
// (spec §4.5): a raw query capability plus Enqueue, both bound to the same
// transaction so the enqueue's notification is only delivered on commit.
type TxContext struct {
	conn    pg.Conn
	storage *storage
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Query runs a raw statement against the caller's transaction, for
// work unrelated to the queue table itself (spec §4.5 "raw parameterized
// query"). Query accepts no arguments: the statement text is run as given,
// and an @name placeholder in it resolves only against bind variables the
// transaction's connection already holds (the queue's table and channel
// names and its query set), not against caller-supplied values.
func (tx *TxContext) Query(ctx context.Context, query string) error {
	return tx.conn.Exec(ctx, query)
}

// Enqueue inserts a message within the caller's transaction, exactly as
// Queue.Enqueue does outside one (spec §4.5 "Enqueues performed through
// this context insert into the queue table within the same transaction").
func (tx *TxContext) Enqueue(ctx context.Context, typ string, payload any, opts ...EnqueueOpt) (uuid.UUID, error) {
	return enqueue(ctx, tx.storage, typ, payload, opts...)
}
