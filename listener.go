package pg

import (
	"context"

	// Packages
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	types "github.com/systeric/pgqueue/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Notification is a single LISTEN/NOTIFY message received on a subscribed
// channel. Payload is advisory only - it is never the sole carrier of data.
type Notification struct {
	Channel string
	Payload string
}

// Listener holds one dedicated database session subscribed to zero or more
// notification channels. The session is not returned to the pool until
// Close is called, so a Listener should be created once and reused for the
// lifetime of whatever is waiting on it.
type Listener interface {
	// Listen issues LISTEN for the named channel on the dedicated session.
	Listen(ctx context.Context, channel string) error

	// WaitForNotification blocks until a notification arrives on any
	// channel this listener has subscribed to, or ctx is done.
	WaitForNotification(ctx context.Context) (*Notification, error)

	// Close unsubscribes (best-effort) and releases the dedicated session.
	Close(ctx context.Context) error
}

type listener struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
}

// Ensure interfaces are satisfied
var _ Listener = (*listener)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// newListener acquires a dedicated connection from pool. The connection is
// held until Close is called.
func newListener(ctx context.Context, pool *pgxpool.Pool) (Listener, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, pgerror(err)
	}
	return &listener{pool: pool, conn: conn}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (l *listener) Listen(ctx context.Context, channel string) error {
	if !types.IsIdentifier(channel) {
		return ErrBadParameter.Withf("invalid channel name: %q", channel)
	}
	_, err := l.conn.Exec(ctx, `LISTEN `+channel)
	return pgerror(err)
}

func (l *listener) WaitForNotification(ctx context.Context) (*Notification, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, pgerror(err)
	}
	return &Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

func (l *listener) Close(ctx context.Context) error {
	_, err := l.conn.Exec(ctx, `UNLISTEN *`)
	l.conn.Release()
	return pgerror(err)
}

////////////////////////////////////////////////////////////////////////////////
// POOLCONN

// Listener acquires a new dedicated session from the pool and returns a
// Listener bound to it. The pool itself is never closed by the listener;
// ownership of the pool remains with whoever constructed it.
func (p *poolconn) Listener() Listener {
	l, err := newListener(context.Background(), p.conn.Pool)
	if err != nil {
		return nil
	}
	return l
}
