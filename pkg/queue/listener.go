package queue

import (
	"context"
	"errors"
	"time"

	// Packages
	pg "github.com/systeric/pgqueue"
	gobreaker "github.com/sony/gobreaker"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// notifier is the Notification Listener (spec §4.3): it wraps the root
// package's long-lived LISTEN/NOTIFY session and turns it into a channel of
// wakeups, reconnecting through a circuit breaker when the session drops
// instead of hammering the pool with doomed acquire attempts.
type notifier struct {
	pool    pg.PoolConn
	channel string
	cb      *gobreaker.CircuitBreaker

	wake chan struct{}
	errs chan error
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newNotifier(pool pg.PoolConn, c *config) *notifier {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pgqueue-listener-" + c.name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &notifier{
		pool:    pool,
		channel: c.channel,
		cb:      cb,
		wake:    make(chan struct{}, 1),
		errs:    make(chan error, 1),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Wake returns a channel that receives a value whenever a PENDING message is
// inserted. It is never closed and safe to range-select on for the lifetime
// of the notifier.
func (n *notifier) Wake() <-chan struct{} {
	return n.wake
}

// Run subscribes to the queue's notification channel and forwards every
// NOTIFY as a non-blocking wakeup until ctx is cancelled. A dropped session
// is reacquired through the circuit breaker; while the breaker is open, Run
// simply waits out its timeout before trying again (spec §4.3 "Reconnect").
func (n *notifier) Run(ctx context.Context) {
	for ctx.Err() == nil {
		_, err := n.cb.Execute(func() (any, error) {
			return nil, n.session(ctx)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case n.errs <- err:
			default:
			}
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Errs returns the channel on which session failures are reported. Reads
// are best-effort; a slow consumer does not block Run.
func (n *notifier) Errs() <-chan error {
	return n.errs
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// session acquires one listener, subscribes, and pumps notifications until
// the session errors or ctx is cancelled.
func (n *notifier) session(ctx context.Context) error {
	listener := n.pool.Listener()
	if listener == nil {
		return pg.ErrStorageFault.With("could not acquire a listener session")
	}
	defer listener.Close(context.Background())

	if err := listener.Listen(ctx, n.channel); err != nil {
		return err
	}

	for {
		if _, err := listener.WaitForNotification(ctx); err != nil {
			return err
		}
		select {
		case n.wake <- struct{}{}:
		default:
		}
	}
}
