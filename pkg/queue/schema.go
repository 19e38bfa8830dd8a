package queue

import (
	"context"
	"embed"
	"strings"

	// Packages
	pg "github.com/systeric/pgqueue"
)

////////////////////////////////////////////////////////////////////////////////
// EMBEDDED SQL

//go:embed sql/objects.sql
var objectsFS embed.FS

////////////////////////////////////////////////////////////////////////////////
// TYPES

// schema is the Schema Manager (spec §4.2): it owns the DDL for a queue's
// table, indexes and notification trigger, plus the shared idempotency
// table, and can render that DDL as text without touching a connection.
type schema struct {
	conn    pg.Conn
	objects *pg.Queries
	bind    *pg.Bind
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newSchema(conn pg.Conn, c *config) (*schema, error) {
	f, err := objectsFS.Open("sql/objects.sql")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	objects, err := pg.NewQueries(f)
	if err != nil {
		return nil, err
	}

	bound := conn.With("table", c.table, "channel", c.channel)
	bind := pg.NewBind("table", c.table, "channel", c.channel)
	return &schema{conn: bound, objects: objects, bind: bind}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// EnsureTable creates the queue's table, indexes, notification trigger and
// the shared idempotency table if they do not already exist, in one
// transaction (spec §4.2 "EnsureTable"). Safe to call on every startup.
func (s *schema) EnsureTable(ctx context.Context) error {
	return s.conn.Tx(ctx, func(tx pg.Conn) error {
		for _, key := range s.objects.Keys() {
			if err := tx.Exec(ctx, s.objects.Get(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GenerateMigration renders the same DDL EnsureTable would execute as a
// single SQL text, for callers that manage schema through their own
// migration tooling instead (spec §4.2 "GenerateMigration"). It opens no
// connection.
func (s *schema) GenerateMigration() string {
	var out strings.Builder
	for _, key := range s.objects.Keys() {
		out.WriteString(s.bind.Replace(s.objects.Get(key)))
		out.WriteString("\n")
	}
	return out.String()
}
