package queue

import (
	"context"
	"embed"
	"errors"
	"time"

	// Packages
	pg "github.com/systeric/pgqueue"
	uuid "github.com/google/uuid"
)

////////////////////////////////////////////////////////////////////////////////
// EMBEDDED SQL

//go:embed sql/queries.sql
var queriesFS embed.FS

////////////////////////////////////////////////////////////////////////////////
// TYPES

// storage is the Storage Adapter (spec §4.1): it owns the single per-queue
// table/channel pair and exposes the primitive operations as a thin layer
// over pg.Conn, bound once to this queue's table name, channel name and
// named query set.
type storage struct {
	conn              pg.Conn
	queries           *pg.Queries
	defaultMaxRetries int
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// newStorage parses sql/queries.sql and binds conn to this queue's table,
// notification channel, and query set.
func newStorage(conn pg.Conn, c *config) (*storage, error) {
	f, err := queriesFS.Open("sql/queries.sql")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	queries, err := pg.NewQueries(f)
	if err != nil {
		return nil, err
	}

	bound := conn.With("table", c.table, "channel", c.channel).WithQueries(queries)
	return &storage{conn: bound, queries: queries, defaultMaxRetries: c.defaultMaxRetries}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// InsertOne inserts a fully formed message. If conn is participating in an
// outer transaction (the Outbox Gateway, spec §4.5), the insert - and the
// notification it triggers - only become durable on that transaction's
// commit.
func (s *storage) InsertOne(ctx context.Context, meta messageMeta) (*Message, error) {
	var m Message
	if err := s.conn.Insert(ctx, &m, meta); err != nil {
		return nil, err
	}
	return &m, nil
}

// Get reads one message by id.
func (s *storage) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	var m Message
	if err := s.conn.Get(ctx, &m, messageId(id)); err != nil {
		return nil, err
	}
	return &m, nil
}

// ClaimNext atomically claims at most one PENDING row, ordered by priority
// then created_at, skipping rows already locked by another session (the
// work-stealing claim, spec §4.1/§5/GLOSSARY). Returns nil, nil if the
// queue holds no claimable row.
func (s *storage) ClaimNext(ctx context.Context) (*Message, error) {
	var m Message
	if err := s.conn.Get(ctx, &m, claimNextSelector{}); errors.Is(err, pg.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &m, nil
}

// Ack transitions a PROCESSING row to COMPLETED. A concurrent sweeper may
// have already reset the row to PENDING before the ack lands; per spec
// §4.1/§9, the resulting zero-row update is treated silently, not as an
// error.
func (s *storage) Ack(ctx context.Context, id uuid.UUID) error {
	return s.conn.Update(ctx, nil, messageAck(id), nil)
}

// Nack increments retry_count and transitions the row to FAILED (with a
// backoff-scheduled next_retry_at) or DEAD_LETTER if retries are now
// exhausted, computed in one statement against the row's current values so
// it can't race a concurrent sweeper. Guarded by "WHERE status =
// 'PROCESSING'"; a zero-row match reports ErrRaceLost.
func (s *storage) Nack(ctx context.Context, id uuid.UUID, cause error) (Status, error) {
	var text string
	if cause != nil {
		text = cause.Error()
	}

	var res nackResult
	sel := messageNack{Id: id, Cause: text}
	if err := s.conn.Update(ctx, &res, sel, nil); errors.Is(err, pg.ErrNotFound) {
		return "", ErrRaceLost.Withf("message %s is not PROCESSING", id)
	} else if err != nil {
		return "", err
	}
	return res.Status, nil
}

// Retry unconditionally requeues a message for immediate reprocessing,
// regardless of its current status (the operator-initiated manual retry,
// spec §4.1, distinct from the automatic FAILED->PENDING promotion).
func (s *storage) Retry(ctx context.Context, id uuid.UUID) (*Message, error) {
	var m Message
	if err := s.conn.Update(ctx, &m, messageRetry(id), nil); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindByStatus lists messages in a given status, paginated and ordered per
// opts (spec §4.1 "Listing by status").
func (s *storage) FindByStatus(ctx context.Context, status Status, opts ...FindOpt) (*messageList, error) {
	o := &findOpts{}
	for _, opt := range opts {
		opt(o)
	}

	list := &messageList{messageFind: messageFind{
		Status:  status,
		OrderBy: o.orderBy,
		Order:   o.order,
	}}
	list.Offset = o.offset
	if o.limit > 0 {
		list.Limit = &o.limit
	}

	if err := s.conn.List(ctx, list, list.messageFind); err != nil {
		return nil, err
	}
	return list, nil
}

// Stats returns the aggregate per-status snapshot (spec §4.1 "Stats").
func (s *storage) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := s.conn.Get(ctx, &stats, statsSelector{}); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ResetStale resets every PROCESSING row whose updated_at is older than
// cutoff back to PENDING, returning the number reset (the stale-reset
// sweeper's primitive, spec §4.4).
func (s *storage) ResetStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var counted rowCounter
	sel := cutoffSelector{key: "message_reset_stale", cutoff: cutoff}
	if err := s.conn.Update(ctx, &counted, sel, nil); errors.Is(err, pg.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return counted.n, nil
}

// PromoteRetries moves every FAILED row whose next_retry_at has elapsed
// back to PENDING, returning the number promoted (the retry-promotion
// sweeper's primitive, spec §4.4).
func (s *storage) PromoteRetries(ctx context.Context) (int64, error) {
	var counted rowCounter
	sel := noArgSelector("message_promote_retries")
	if err := s.conn.Update(ctx, &counted, sel, nil); errors.Is(err, pg.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return counted.n, nil
}

// CleanupCompleted deletes COMPLETED rows older than cutoff, returning the
// number deleted.
func (s *storage) CleanupCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	var counted rowCounter
	sel := cutoffSelector{key: "message_cleanup_completed", cutoff: cutoff}
	if err := s.conn.Delete(ctx, &counted, sel); errors.Is(err, pg.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return counted.n, nil
}

// CleanupDeadLetters deletes DEAD_LETTER rows older than cutoff, returning
// the number deleted.
func (s *storage) CleanupDeadLetters(ctx context.Context, cutoff time.Time) (int64, error) {
	var counted rowCounter
	sel := cutoffSelector{key: "message_cleanup_dead", cutoff: cutoff}
	if err := s.conn.Delete(ctx, &counted, sel); errors.Is(err, pg.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return counted.n, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE READERS AND SELECTORS

// rowCounter discards each returned row's id, counting how many there
// were; used to turn a maintenance query's RETURNING id rows into a count.
type rowCounter struct {
	n  int64
	id uuid.UUID
}

func (c *rowCounter) Scan(row pg.Row) error {
	if err := row.Scan(&c.id); err != nil {
		return err
	}
	c.n++
	return nil
}

// claimNextSelector takes no caller-supplied parameters.
type claimNextSelector struct{}

func (claimNextSelector) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if op != pg.Get {
		return "", pg.ErrNotImplemented.Withf("unsupported claimNextSelector operation %q", op)
	}
	return bind.Replace("${message_claim_next}"), nil
}

// statsSelector takes no caller-supplied parameters.
type statsSelector struct{}

func (statsSelector) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if op != pg.Get {
		return "", pg.ErrNotImplemented.Withf("unsupported statsSelector operation %q", op)
	}
	return bind.Replace("${message_stats}"), nil
}

// noArgSelector runs a named Update/Delete query that takes no bind
// parameters; the queries it runs return one row per affected row, which
// the caller's reader counts.
type noArgSelector string

func (key noArgSelector) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if op != pg.Update && op != pg.Delete {
		return "", pg.ErrNotImplemented.Withf("unsupported noArgSelector operation %q", op)
	}
	return bind.Replace("${" + string(key) + "}"), nil
}

// cutoffSelector runs a named query parameterised by a single "cutoff"
// timestamp, used by the stale-reset sweeper's query and the cleanup
// operations.
type cutoffSelector struct {
	key    string
	cutoff time.Time
}

func (c cutoffSelector) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if op != pg.Update && op != pg.Delete {
		return "", pg.ErrNotImplemented.Withf("unsupported cutoffSelector operation %q", op)
	}
	bind.Set("cutoff", c.cutoff)
	return bind.Replace("${" + c.key + "}"), nil
}
