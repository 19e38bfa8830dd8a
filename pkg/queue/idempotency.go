package queue

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"time"

	// Packages
	pg "github.com/systeric/pgqueue"
)

////////////////////////////////////////////////////////////////////////////////
// EMBEDDED SQL

//go:embed sql/idempotency.sql
var idempotencyFS embed.FS

////////////////////////////////////////////////////////////////////////////////
// TYPES

// idempotency is the Idempotency Store (spec §4.6): a shared table mapping
// an opaque key to a cached result, used to guarantee at-most-once effect
// of a handler invocation regardless of delivery count.
type idempotency struct {
	conn pg.Conn
}

// idempotencyRow scans the shared table's three columns.
type idempotencyRow struct {
	Key    string
	Result []byte
	Expiry time.Time
}

func (r *idempotencyRow) Scan(row pg.Row) error {
	return row.Scan(&r.Key, &r.Result, &r.Expiry)
}

// idempotencyClaim binds a new claim's insert parameters.
type idempotencyClaim struct {
	Key string
	TTL time.Duration
}

// idempotencyKey is a point selector/writer keyed by the idempotency key.
type idempotencyKey string

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newIdempotency(conn pg.Conn) (*idempotency, error) {
	f, err := idempotencyFS.Open("sql/idempotency.sql")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	queries, err := pg.NewQueries(f)
	if err != nil {
		return nil, err
	}

	return &idempotency{conn: conn.WithQueries(queries)}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Execute runs op at most once per key before expiry (spec §4.6 protocol).
// The insert-first-wins claim is attempted before op ever runs; a unique
// violation on that insert is what signals "not first", not a prior read.
func (s *idempotency) Execute(ctx context.Context, key string, ttl time.Duration, op func(ctx context.Context) (any, error)) (result any, first bool, err error) {
	claimErr := s.conn.Insert(ctx, nil, idempotencyClaim{Key: key, TTL: ttl})
	switch {
	case claimErr == nil:
		// We are the first executor.
		v, opErr := op(ctx)
		if opErr != nil {
			return nil, true, opErr
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, true, ErrValidation.WithErr(err)
		}
		if err := s.conn.Update(ctx, nil, idempotencyKey(key), resultWriter(data)); err != nil {
			return nil, true, err
		}
		return v, true, nil

	case errors.Is(claimErr, pg.ErrDuplicateId):
		var row idempotencyRow
		if err := s.conn.Get(ctx, &row, idempotencyKey(key)); errors.Is(err, pg.ErrNotFound) {
			return nil, false, ErrUniqueConstraint.With("key expired between claim and lookup")
		} else if err != nil {
			return nil, false, err
		}
		if row.Result == nil {
			return nil, false, ErrInProcess.Withf("key %q is still in flight", key)
		}
		var v any
		if err := json.Unmarshal(row.Result, &v); err != nil {
			return nil, false, ErrValidation.WithErr(err)
		}
		return v, false, nil

	default:
		return nil, false, ErrClaimFailure.WithErr(claimErr)
	}
}

// Cleanup removes every expired row, returning the number removed.
func (s *idempotency) Cleanup(ctx context.Context) (int64, error) {
	var counted idempotencyCounter
	if err := s.conn.Delete(ctx, &counted, noArgSelector("idempotency_cleanup")); errors.Is(err, pg.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return counted.n, nil
}

// Invalidate removes a key's row unconditionally (administrative use).
func (s *idempotency) Invalidate(ctx context.Context, key string) error {
	return s.conn.Delete(ctx, nil, idempotencyKey(key))
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE TYPES

// resultWriter binds a pre-marshaled JSON result for idempotency_complete.
type resultWriter []byte

func (w resultWriter) Insert(*pg.Bind) (string, error) { return "", pg.ErrNotImplemented }

func (w resultWriter) Update(bind *pg.Bind) error {
	bind.Set("result", string(w))
	return nil
}

type idempotencyCounter struct {
	n   int64
	key string
}

func (c *idempotencyCounter) Scan(row pg.Row) error {
	if err := row.Scan(&c.key); err != nil {
		return err
	}
	c.n++
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// WRITER / SELECTOR

func (c idempotencyClaim) Insert(bind *pg.Bind) (string, error) {
	if c.Key == "" || len(c.Key) > 255 {
		return "", ErrValidation.With("idempotency key must be 1-255 bytes")
	}
	bind.Set("key", c.Key)
	bind.Set("expires_at", time.Now().Add(c.TTL))
	return bind.Replace("${idempotency_claim}"), nil
}

func (c idempotencyClaim) Update(bind *pg.Bind) error {
	return pg.ErrNotImplemented
}

func (k idempotencyKey) Select(bind *pg.Bind, op pg.Op) (string, error) {
	bind.Set("key", string(k))
	switch op {
	case pg.Get:
		return bind.Replace("${idempotency_get}"), nil
	case pg.Update:
		return bind.Replace("${idempotency_complete}"), nil
	case pg.Delete:
		return bind.Replace("${idempotency_invalidate}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported idempotencyKey operation %q", op)
	}
}
