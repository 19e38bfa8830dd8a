package queue

import (
	"encoding/json"
	"strings"
	"time"

	// Packages
	pg "github.com/systeric/pgqueue"
	uuid "github.com/google/uuid"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Status is a message's position in its lifecycle.
type Status string

const (
	Pending    Status = "PENDING"
	Processing Status = "PROCESSING"
	Completed  Status = "COMPLETED"
	Failed     Status = "FAILED"
	DeadLetter Status = "DEAD_LETTER"
)

func (s Status) valid() bool {
	switch s {
	case Pending, Processing, Completed, Failed, DeadLetter:
		return true
	}
	return false
}

// Message is one queued work item. Id, Type, Priority, MaxRetries and
// CreatedAt are write-once after creation (§3 invariant d).
type Message struct {
	Id          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Payload     any        `json:"payload"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   *string    `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// messageMeta carries the caller-supplied fields for Enqueue.
type messageMeta struct {
	Id         uuid.UUID
	Type       string
	Payload    any
	Priority   int
	MaxRetries int
}

// messageId is a point-read selector for Get; other operations are
// rejected with ErrNotImplemented.
type messageId uuid.UUID

// messageAck selects the PROCESSING row to complete.
type messageAck uuid.UUID

// messageRetry selects the row to unconditionally requeue.
type messageRetry uuid.UUID

// messageNack binds the fields needed to transition a PROCESSING row to
// FAILED or DEAD_LETTER. The retry-count/backoff arithmetic itself lives
// in the "message_nack" SQL template (evaluated against the row's current
// values in a single statement, so it can't race a concurrent sweeper).
type messageNack struct {
	Id    uuid.UUID
	Cause string
}

// nackResult scans the single column returned by a Nack update, so the
// caller can tell a FAILED transition from a DEAD_LETTER one.
type nackResult struct {
	Status Status
}

func (r *nackResult) Scan(row pg.Row) error {
	return row.Scan(&r.Status)
}

// messageFind binds FindByStatus parameters, validated against closed
// allow-lists before they ever reach a query string (spec §9 "Validating
// dynamic sort inputs").
type messageFind struct {
	pg.OffsetLimit
	Status  Status
	OrderBy string
	Order   string
}

// messageList scans a FindByStatus result set.
type messageList struct {
	messageFind
	Count uint64
	Body  []Message
}

// Stats is the aggregate per-status snapshot returned by Stats.
type Stats struct {
	Pending     uint64 `json:"pending"`
	Processing  uint64 `json:"processing"`
	Completed   uint64 `json:"completed"`
	Failed      uint64 `json:"failed"`
	DeadLetter  uint64 `json:"dead_letter"`
	OldestAgeMs int64  `json:"oldest_age_ms"`
}

////////////////////////////////////////////////////////////////////////////////
// ALLOW-LISTS

var (
	allowedOrderBy = []string{"created_at", "priority"}
	allowedOrder   = []string{"ASC", "DESC"}
)

func validOrderBy(s string) bool {
	if s == "" {
		return true
	}
	for _, v := range allowedOrderBy {
		if v == s {
			return true
		}
	}
	return false
}

func validOrder(s string) bool {
	if s == "" {
		return true
	}
	for _, v := range allowedOrder {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

////////////////////////////////////////////////////////////////////////////////
// READER

func (m *Message) Scan(row pg.Row) error {
	var payload []byte
	if err := row.Scan(&m.Id, &m.Type, &payload, &m.Status, &m.Priority, &m.RetryCount, &m.MaxRetries, &m.LastError, &m.NextRetryAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (l *messageList) Scan(row pg.Row) error {
	var m Message
	if err := m.Scan(row); err != nil {
		return err
	}
	l.Body = append(l.Body, m)
	return nil
}

func (l *messageList) ScanCount(row pg.Row) error {
	return row.Scan(&l.Count)
}

func (s *Stats) Scan(row pg.Row) error {
	return row.Scan(&s.Pending, &s.Processing, &s.Completed, &s.Failed, &s.DeadLetter, &s.OldestAgeMs)
}

////////////////////////////////////////////////////////////////////////////////
// WRITER

// Insert binds the fields for InsertOne and returns the "message_insert"
// template.
func (meta messageMeta) Insert(bind *pg.Bind) (string, error) {
	if meta.Type == "" || len(meta.Type) > 255 {
		return "", ErrValidation.With("type must be 1-255 bytes")
	}
	if meta.Priority < 1 || meta.Priority > 10 {
		return "", ErrValidation.With("priority must be in [1,10]")
	}
	if meta.MaxRetries < 1 {
		return "", ErrValidation.With("max_retries must be >= 1")
	}
	data, err := json.Marshal(meta.Payload)
	if err != nil {
		return "", ErrValidation.WithErr(err)
	}
	bind.Set("id", meta.Id)
	bind.Set("type", meta.Type)
	bind.Set("payload", string(data))
	bind.Set("priority", meta.Priority)
	bind.Set("max_retries", meta.MaxRetries)
	return bind.Replace("${message_insert}"), nil
}

func (meta messageMeta) Update(bind *pg.Bind) error {
	return pg.ErrNotImplemented
}

////////////////////////////////////////////////////////////////////////////////
// SELECTOR

func (id messageId) Select(bind *pg.Bind, op pg.Op) (string, error) {
	bind.Set("id", uuid.UUID(id))
	switch op {
	case pg.Get:
		return bind.Replace("${message_get}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported messageId operation %q", op)
	}
}

func (id messageAck) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if op != pg.Update {
		return "", pg.ErrNotImplemented.Withf("unsupported messageAck operation %q", op)
	}
	bind.Set("id", uuid.UUID(id))
	return bind.Replace("${message_ack}"), nil
}

func (id messageRetry) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if op != pg.Update {
		return "", pg.ErrNotImplemented.Withf("unsupported messageRetry operation %q", op)
	}
	bind.Set("id", uuid.UUID(id))
	return bind.Replace("${message_retry}"), nil
}

func (n messageNack) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if op != pg.Update {
		return "", pg.ErrNotImplemented.Withf("unsupported messageNack operation %q", op)
	}
	bind.Set("id", n.Id)
	bind.Set("last_error", n.Cause)
	return bind.Replace("${message_nack}"), nil
}

func (f messageFind) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if !f.Status.valid() {
		return "", ErrValidation.Withf("invalid status %q", f.Status)
	}
	if !validOrderBy(f.OrderBy) {
		return "", ErrValidation.Withf("invalid order_by %q", f.OrderBy)
	}
	if !validOrder(f.Order) {
		return "", ErrValidation.Withf("invalid order %q", f.Order)
	}

	orderBy := f.OrderBy
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(f.Order)
	if order == "" {
		order = "ASC"
	}

	bind.Set("status", string(f.Status))
	bind.Set("orderby", orderBy)
	bind.Set("order", order)
	f.OffsetLimit.Bind(bind, DefaultFindLimit)

	switch op {
	case pg.List:
		return bind.Replace("${message_find_by_status}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported messageFind operation %q", op)
	}
}
