package test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	// Packages
	pg "github.com/systeric/pgqueue"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Conn holds the single PostgreSQL container and connection pool shared by
// every test in a package (spec §7 "a real PostgreSQL via
// testcontainers-go"). One container per package keeps the suite fast;
// tests isolate from each other by taking a uniquely-named queue/table
// rather than a per-test database transaction.
type Conn struct {
	container *Container
	pool      pg.PoolConn
	serial    int64
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Main starts a PostgreSQL container, stores the resulting pool on conn,
// runs the package's tests, then tears the container down. Call it from
// TestMain:
//
//	var conn test.Conn
//	func TestMain(m *testing.M) { test.Main(m, &conn) }
func Main(m *testing.M, conn *Conn) {
	ctx := context.Background()

	container, pool, err := NewPgxContainer(ctx, "pgqueue_test", func(ctx context.Context, sql string, args any, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "SQL error: %v: %v\n", sql, err)
		}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "starting test container:", err)
		os.Exit(1)
	}
	conn.container = container
	conn.pool = pool

	code := m.Run()

	pool.Close()
	if err := container.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "stopping test container:", err)
	}
	os.Exit(code)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Begin hands the test a pg.Conn bound to the shared pool. Its Close is a
// no-op: the pool itself outlives every individual test and is only
// released by Main, so tests isolate by taking a uniquely-named queue
// (see Unique) rather than a rolled-back transaction.
func (c *Conn) Begin(t *testing.T) *testConn {
	t.Helper()
	return &testConn{c.pool}
}

// Unique returns a queue name derived from a process-wide counter, short
// and safe enough to use as a PostgreSQL identifier suffix.
func (c *Conn) Unique(t *testing.T) string {
	t.Helper()
	n := atomic.AddInt64(&c.serial, 1)
	return fmt.Sprintf("t%d", n)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE TYPES

// testConn embeds the shared pool to satisfy pg.Conn, shadowing its Close
// so a test ending its own connection can't tear down the package's pool.
type testConn struct {
	pg.PoolConn
}

func (*testConn) Close() {}
