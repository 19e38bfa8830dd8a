package queue

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	ref "github.com/mutablelogic/go-server/pkg/ref"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Handler processes one claimed message. A nil return acks the message; a
// non-nil return nacks it with the error as cause.
type Handler func(ctx context.Context, msg *Message) error

// loop is the Consumption Loop (spec §4.4): it pairs registered handlers
// with claimed messages under a concurrency bound, wakes on notification
// or poll, and runs the two reclamation sweepers. The handler registry
// keys by message type (one entry per type), unlike the teacher's
// per-queue-name worker map; the self-perpetuating try-consume dispatch
// below has no teacher analogue - the teacher's NextTask polling model
// fetches one task per loop iteration rather than claiming concurrently,
// so this part is built fresh in the teacher's idiom.
type loop struct {
	cfg     *config
	storage *storage
	notify  *notifier
	obs     *observers
	metrics *queueMetrics

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
	cancel   context.CancelFunc

	sem       chan struct{}
	active    int64
	loopWG    sync.WaitGroup
	handlerWG sync.WaitGroup

	staleBackoff time.Duration
	retryBackoff time.Duration
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newLoop(cfg *config, storage *storage, notify *notifier, obs *observers, metrics *queueMetrics) *loop {
	return &loop{
		cfg:      cfg,
		storage:  storage,
		notify:   notify,
		obs:      obs,
		metrics:  metrics,
		handlers: make(map[string]Handler),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterHandler associates a message type with a handler. Safe to call
// before or after Start; messages of unregistered types fail with
// ErrHandlerMissing when claimed.
func (l *loop) RegisterHandler(typ string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[typ] = h
}

// Start begins dispatching, until Stop is called. ctx is used only for
// logging; cancelling it does not stop the loop.
// Idempotent: a second Start while already running is a no-op.
func (l *loop) Start(ctx context.Context, opts ...StartOpt) error {
	o := &startOpts{concurrency: 1}
	for _, opt := range opts {
		opt(o)
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.sem = make(chan struct{}, o.concurrency)
	l.running = true
	l.mu.Unlock()

	log := ref.Log(ctx)
	if log == nil {
		log = logger.New(os.Stdout, logger.Text, false)
	}

	l.loopWG.Add(4)
	go func() { defer l.loopWG.Done(); l.notify.Run(loopCtx) }()
	go func() { defer l.loopWG.Done(); l.dispatchLoop(loopCtx) }()
	go func() { defer l.loopWG.Done(); l.sweepStale(loopCtx) }()
	go func() { defer l.loopWG.Done(); l.sweepRetries(loopCtx) }()

	l.obs.Emit(Event{Kind: EventStarted})
	log.Print(ctx, "consumption loop started")
	return nil
}

// Stop drains in-flight handlers to completion, stops the background
// loops, and releases the notification listener. Idempotent (spec §9
// "Stop protocol").
func (l *loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.loopWG.Wait()
	l.handlerWG.Wait()

	l.obs.Emit(Event{Kind: EventStopped})
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// DISPATCH

// dispatchLoop wakes on notification or a failsafe poll tick and tries to
// drain claimable work, mirroring the teacher's RunTaskLoop dual
// poll+LISTEN strategy (task.go).
func (l *loop) dispatchLoop(ctx context.Context) {
	poll := time.NewTicker(l.cfg.sweepInterval)
	defer poll.Stop()

	l.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify.Wake():
			l.obs.Emit(Event{Kind: EventNotification})
			l.drain(ctx)
		case <-poll.C:
			l.drain(ctx)
		}
	}
}

// drain claims and dispatches messages until the concurrency bound is
// reached or the queue holds nothing claimable. Each dispatched worker
// calls drain again on completion - the self-perpetuating try-consume
// step - so a burst of work drains without waiting for the next wakeup.
func (l *loop) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case l.sem <- struct{}{}:
		default:
			return
		}

		msg, err := l.storage.ClaimNext(ctx)
		if err != nil {
			<-l.sem
			l.obs.Emit(Event{Kind: EventError, Err: err})
			return
		}
		if msg == nil {
			<-l.sem
			return
		}

		atomic.AddInt64(&l.active, 1)
		l.metrics.setActiveWorkers(atomic.LoadInt64(&l.active))
		l.metrics.incClaim()
		l.obs.Emit(Event{Kind: EventDequeued, MessageId: msg.Id.String()})

		l.handlerWG.Add(1)
		go func(m *Message) {
			defer l.handlerWG.Done()
			l.process(context.WithoutCancel(ctx), m)
			<-l.sem
			atomic.AddInt64(&l.active, -1)
			l.metrics.setActiveWorkers(atomic.LoadInt64(&l.active))
			l.drain(ctx)
		}(msg)
	}
}

// process runs the registered handler for m's type and acks or nacks the
// result.
func (l *loop) process(ctx context.Context, m *Message) {
	l.mu.RLock()
	h, ok := l.handlers[m.Type]
	l.mu.RUnlock()

	if !ok {
		err := ErrHandlerMissing.Withf("no handler registered for type %q", m.Type)
		l.nack(ctx, m, err)
		return
	}

	spanCtx, endspan := otel.StartSpan(l.cfg.tracer, ctx, "pgqueue.handle."+m.Type,
		attribute.String("message.id", m.Id.String()),
	)
	err := h(spanCtx, m)
	endspan(err)

	if err != nil {
		l.nack(ctx, m, ErrHandlerFailure.WithErr(err))
		return
	}

	if err := l.storage.Ack(ctx, m.Id); err != nil {
		l.obs.Emit(Event{Kind: EventError, Err: err})
		return
	}
	l.metrics.incAck()
	l.obs.Emit(Event{Kind: EventAck, MessageId: m.Id.String()})
}

func (l *loop) nack(ctx context.Context, m *Message, cause error) {
	status, err := l.storage.Nack(ctx, m.Id, cause)
	if err != nil && !errors.Is(err, ErrRaceLost) {
		l.obs.Emit(Event{Kind: EventError, Err: err})
		return
	}
	l.metrics.incNack()
	l.obs.Emit(Event{Kind: EventNack, MessageId: m.Id.String(), Err: cause})
	if status == DeadLetter {
		l.metrics.incDeadLetter()
	}
}

////////////////////////////////////////////////////////////////////////////////
// SWEEPERS

// sweepStale periodically resets abandoned PROCESSING rows back to
// PENDING, rescheduling itself at sweep_interval + the sweeper's own
// backoff (reset to zero on success, grown on failure), independent of
// the retry-promotion sweeper's backoff state.
func (l *loop) sweepStale(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.sweepInterval + l.staleBackoff):
		}

		cutoff := time.Now().Add(-l.cfg.visibilityTimeout)
		n, err := l.storage.ResetStale(ctx, cutoff)
		if err != nil {
			l.staleBackoff = nextBackoff(l.staleBackoff)
			l.obs.Emit(Event{Kind: EventError, Err: ErrSweepFailure.WithErr(err)})
			continue
		}
		l.staleBackoff = 0
		if n > 0 {
			l.metrics.addStaleReset(n)
			l.obs.Emit(Event{Kind: EventStaleReset, Count: n})
		}
	}
}

// sweepRetries periodically promotes elapsed-backoff FAILED rows back to
// PENDING, with its own independent backoff state.
func (l *loop) sweepRetries(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.sweepInterval + l.retryBackoff):
		}

		n, err := l.storage.PromoteRetries(ctx)
		if err != nil {
			l.retryBackoff = nextBackoff(l.retryBackoff)
			l.obs.Emit(Event{Kind: EventError, Err: ErrSweepFailure.WithErr(err)})
			continue
		}
		l.retryBackoff = 0
		if n > 0 {
			l.metrics.addRetryReset(n)
			l.obs.Emit(Event{Kind: EventRetryReset, Count: n})
		}
	}
}

// nextBackoff grows a sweeper's backoff per spec.md §9 ("exponential
// backoff up to 60s"): doubled, floored at 1s, capped at 60s.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next < time.Second {
		next = time.Second
	}
	if next > 60*time.Second {
		next = 60 * time.Second
	}
	return next
}
