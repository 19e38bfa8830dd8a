package queue

import (
	"regexp"
	"time"

	// Packages
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// config holds the immutable-at-runtime per-queue configuration (spec §3
// "Queue configuration").
type config struct {
	name             string
	table            string
	channel          string
	visibilityTimeout time.Duration
	sweepInterval    time.Duration
	defaultMaxRetries int
	metricsNamespace string
	tracer           trace.Tracer
}

// Opt configures a Queue at construction time.
type Opt func(*config) error

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultSweepInterval     = 5 * time.Second
	DefaultMaxRetries        = 3
	DefaultFindLimit         = 100
	DefaultMetricsNamespace  = "pgqueue"

	tablePrefix = "systeric_pgqueue_"
)

var reQueueName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// applyOpts builds a config for queue name, applying defaults then opts.
func applyOpts(name string, opts ...Opt) (*config, error) {
	if !reQueueName.MatchString(name) {
		return nil, ErrValidation.Withf("invalid queue name %q", name)
	}

	c := &config{
		name:              name,
		table:             tablePrefix + name,
		channel:           tablePrefix + name + "_channel",
		visibilityTimeout: DefaultVisibilityTimeout,
		sweepInterval:     DefaultSweepInterval,
		defaultMaxRetries: DefaultMaxRetries,
		metricsNamespace:  DefaultMetricsNamespace,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WithVisibilityTimeout sets the interval after which a PROCESSING row is
// considered abandoned and reset to PENDING. Must be > 0.
func WithVisibilityTimeout(d time.Duration) Opt {
	return func(c *config) error {
		if d <= 0 {
			return ErrValidation.With("visibility timeout must be > 0")
		}
		c.visibilityTimeout = d
		return nil
	}
}

// WithSweepInterval sets the base interval between sweeper runs. Must be > 0.
func WithSweepInterval(d time.Duration) Opt {
	return func(c *config) error {
		if d <= 0 {
			return ErrValidation.With("sweep interval must be > 0")
		}
		c.sweepInterval = d
		return nil
	}
}

// WithDefaultMaxRetries sets the default max_retries applied to messages
// enqueued without an explicit override. Must be >= 1.
func WithDefaultMaxRetries(n int) Opt {
	return func(c *config) error {
		if n < 1 {
			return ErrValidation.With("default max retries must be >= 1")
		}
		c.defaultMaxRetries = n
		return nil
	}
}

// WithMetricsNamespace overrides the Prometheus namespace/subsystem label
// used by the queue's collectors.
func WithMetricsNamespace(ns string) Opt {
	return func(c *config) error {
		if ns != "" {
			c.metricsNamespace = ns
		}
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer used for handler dispatch spans.
// Storage round trips and sweeps are not traced by it.
func WithTracer(t trace.Tracer) Opt {
	return func(c *config) error {
		c.tracer = t
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// ENQUEUE / START OPTIONS

// enqueueOpts holds the per-call overrides accepted by Enqueue.
type enqueueOpts struct {
	priority   int
	maxRetries int
}

// EnqueueOpt overrides a single message's priority or max-retries at
// enqueue time.
type EnqueueOpt func(*enqueueOpts)

// WithPriority sets the message priority, 1 (most urgent) to 10.
func WithPriority(p int) EnqueueOpt {
	return func(o *enqueueOpts) { o.priority = p }
}

// WithMaxRetries overrides the queue's default max_retries for one message.
func WithMaxRetries(n int) EnqueueOpt {
	return func(o *enqueueOpts) { o.maxRetries = n }
}

// startOpts holds Start's parameters.
type startOpts struct {
	concurrency int
}

// StartOpt configures a single Start call.
type StartOpt func(*startOpts)

// WithConcurrency sets the number of concurrent in-flight handler
// invocations. Must be >= 1; default 1.
func WithConcurrency(n int) StartOpt {
	return func(o *startOpts) {
		if n >= 1 {
			o.concurrency = n
		}
	}
}

// findOpts holds FindByStatus's parameters.
type findOpts struct {
	limit   uint64
	offset  uint64
	orderBy string
	order   string
}

// FindOpt configures a single FindByStatus call.
type FindOpt func(*findOpts)

// WithLimit overrides FindByStatus's default result limit (100).
func WithLimit(n uint64) FindOpt {
	return func(o *findOpts) { o.limit = n }
}

// WithOffset sets the pagination offset for FindByStatus.
func WithOffset(n uint64) FindOpt {
	return func(o *findOpts) { o.offset = n }
}

// WithOrderBy sets the sort column, one of "created_at" or "priority".
func WithOrderBy(col string) FindOpt {
	return func(o *findOpts) { o.orderBy = col }
}

// WithOrder sets the sort direction, one of "ASC" or "DESC".
func WithOrder(dir string) FindOpt {
	return func(o *findOpts) { o.order = dir }
}
