package queue

import (
	"context"
	"time"

	// Packages
	pg "github.com/systeric/pgqueue"
	uuid "github.com/google/uuid"
	prometheus "github.com/prometheus/client_golang/prometheus"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queue is a durable, transactional, PostgreSQL-backed message queue bound
// to one table/channel pair. It composes the six cooperating components
// (spec §2): the Storage Adapter, Schema Manager, Notification Listener,
// Consumption Loop, Outbox Gateway and Idempotency Store.
type Queue struct {
	cfg     *config
	storage *storage
	schema  *schema
	loop    *loop
	idem    *idempotency
	obs     *observers
	metrics *queueMetrics
}

// Ensure interfaces are satisfied
var _ prometheus.Collector = (*Queue)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New binds a Queue to name on pool, ensures its schema exists, and returns
// it ready to Enqueue/Start (spec §3/§4). name must match ^[A-Za-z_][A-Za-z0-9_]*$
// and becomes part of the table and channel names.
func New(ctx context.Context, pool pg.PoolConn, name string, opts ...Opt) (*Queue, error) {
	cfg, err := applyOpts(name, opts...)
	if err != nil {
		return nil, err
	}

	sch, err := newSchema(pool, cfg)
	if err != nil {
		return nil, err
	}
	if err := sch.EnsureTable(ctx); err != nil {
		return nil, err
	}

	st, err := newStorage(pool, cfg)
	if err != nil {
		return nil, err
	}

	idem, err := newIdempotency(pool)
	if err != nil {
		return nil, err
	}

	obs := newObservers()
	metrics := newQueueMetrics(st, cfg)
	notify := newNotifier(pool, cfg)
	lp := newLoop(cfg, st, notify, obs, metrics)

	return &Queue{
		cfg:     cfg,
		storage: st,
		schema:  sch,
		loop:    lp,
		idem:    idem,
		obs:     obs,
		metrics: metrics,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - SCHEMA

// GenerateMigration renders this queue's DDL as a single SQL text, for
// callers who manage schema through their own migration tooling instead of
// calling New/EnsureTable directly (spec §4.2).
func (q *Queue) GenerateMigration() string {
	return q.schema.GenerateMigration()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - PRODUCE

// Enqueue inserts a new message with status PENDING, returning its
// generated id (spec §4.1 "Enqueue"). WithPriority/WithMaxRetries override
// the queue's per-call and per-queue defaults respectively.
func (q *Queue) Enqueue(ctx context.Context, typ string, payload any, opts ...EnqueueOpt) (uuid.UUID, error) {
	id, err := enqueue(ctx, q.storage, typ, payload, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	q.obs.Emit(Event{Kind: EventEnqueued, MessageId: id.String()})
	return id, nil
}

// WithTransaction runs fn inside one database transaction, handing it a
// TxContext that can both run raw statements and Enqueue further messages
// within that same transaction (spec §4.5 "Outbox Gateway"). The
// notification for any messages enqueued through it is only delivered once
// the transaction commits - atomicity is the root package's, not this
// package's, to provide.
func (q *Queue) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *TxContext) error) error {
	return q.storage.conn.Tx(ctx, func(c pg.Conn) error {
		bound := c.With("table", q.cfg.table, "channel", q.cfg.channel).WithQueries(q.storage.queries)
		tx := &TxContext{conn: bound, storage: &storage{conn: bound, queries: q.storage.queries, defaultMaxRetries: q.storage.defaultMaxRetries}}
		return fn(ctx, tx)
	})
}

// enqueue validates and applies defaults (priority 5, the queue's
// configured default max_retries) before inserting (spec §3 "Message"
// column defaults).
func enqueue(ctx context.Context, st *storage, typ string, payload any, opts ...EnqueueOpt) (uuid.UUID, error) {
	o := &enqueueOpts{priority: 5}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxRetries == 0 {
		o.maxRetries = st.defaultMaxRetries
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, pg.ErrStorageFault.WithErr(err)
	}

	m, err := st.InsertOne(ctx, messageMeta{
		Id:         id,
		Type:       typ,
		Payload:    payload,
		Priority:   o.priority,
		MaxRetries: o.maxRetries,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return m.Id, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - CONSUME

// RegisterHandler associates a message type with the function that
// processes it (spec §4.4). Safe to call before or after Start.
func (q *Queue) RegisterHandler(typ string, h Handler) {
	q.loop.RegisterHandler(typ, h)
}

// Start begins the consumption loop: claiming, dispatching to registered
// handlers, and running the two reclamation sweepers, until Stop is called
// (spec §4.4 "Start").
func (q *Queue) Start(ctx context.Context, opts ...StartOpt) error {
	return q.loop.Start(ctx, opts...)
}

// Stop drains in-flight handler invocations to completion and halts the
// background loops (spec §4.4 "Stop").
func (q *Queue) Stop(ctx context.Context) error {
	return q.loop.Stop(ctx)
}

// Dequeue atomically claims one PENDING message for a caller driving its own
// dispatch loop instead of Start/RegisterHandler (spec §6 "dequeue() ->
// message | none"). Returns nil, nil when nothing is claimable. A message
// returned here must eventually be Ack'd or Nack'd by the caller; it is not
// tracked by the managed consumption loop's active-worker bookkeeping.
func (q *Queue) Dequeue(ctx context.Context) (*Message, error) {
	msg, err := q.storage.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	q.metrics.incClaim()
	q.obs.Emit(Event{Kind: EventDequeued, MessageId: msg.Id.String()})
	return msg, nil
}

// Ack manually completes a message outside the consumption loop, for
// callers driving their own dispatch (spec §4.1 "Ack").
func (q *Queue) Ack(ctx context.Context, id uuid.UUID) error {
	return q.storage.Ack(ctx, id)
}

// Nack manually fails a message outside the consumption loop, scheduling a
// retry or dead-lettering it if retries are exhausted (spec §4.1 "Nack").
func (q *Queue) Nack(ctx context.Context, id uuid.UUID, cause error) (Status, error) {
	return q.storage.Nack(ctx, id, cause)
}

// Retry unconditionally requeues a message for immediate reprocessing
// regardless of its current status (spec §4.1 "Retry", operator-initiated).
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) (*Message, error) {
	return q.storage.Retry(ctx, id)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - INSPECT

// Stats returns the aggregate per-status snapshot (spec §4.1 "Stats").
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	return q.storage.Stats(ctx)
}

// FindByStatus lists messages in a given status, paginated and ordered per
// opts (spec §4.1 "Listing by status").
func (q *Queue) FindByStatus(ctx context.Context, status Status, opts ...FindOpt) ([]Message, uint64, error) {
	list, err := q.storage.FindByStatus(ctx, status, opts...)
	if err != nil {
		return nil, 0, err
	}
	return list.Body, list.Count, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - MAINTENANCE

// CleanupCompleted deletes COMPLETED rows older than olderThan, returning
// the number deleted (spec §4.1/§4.4 "retention cleanup").
func (q *Queue) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.storage.CleanupCompleted(ctx, time.Now().Add(-olderThan))
}

// CleanupDeadLetters deletes DEAD_LETTER rows older than olderThan,
// returning the number deleted.
func (q *Queue) CleanupDeadLetters(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.storage.CleanupDeadLetters(ctx, time.Now().Add(-olderThan))
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - IDEMPOTENCY

// Execute runs op at most once per key before expiry, returning the
// previously cached result on a repeat call within the TTL (spec §4.6).
// This is a supplement to the operation surface spec.md names explicitly:
// the Idempotency Store is one of the six cooperating components spec.md
// §2 calls out as part of the core, so it is exposed here rather than left
// reachable only through package-internal wiring.
func (q *Queue) Execute(ctx context.Context, key string, ttl time.Duration, op func(ctx context.Context) (any, error)) (result any, first bool, err error) {
	return q.idem.Execute(ctx, key, ttl, op)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - OBSERVABILITY

// Observe registers obs to receive every event the queue emits (spec §6
// "Events"), returning a function that unsubscribes it.
func (q *Queue) Observe(obs Observer) (unsubscribe func()) {
	return q.obs.Subscribe(obs)
}

// Describe implements prometheus.Collector, delegating to the queue's
// internal collector.
func (q *Queue) Describe(ch chan<- *prometheus.Desc) {
	q.metrics.Describe(ch)
}

// Collect implements prometheus.Collector, delegating to the queue's
// internal collector.
func (q *Queue) Collect(ch chan<- prometheus.Metric) {
	q.metrics.Collect(ch)
}
