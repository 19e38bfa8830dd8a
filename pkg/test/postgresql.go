package test

import (
	"context"
	"errors"

	// Packages
	pg "github.com/systeric/pgqueue"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	pgxImage = "postgres:17-bookworm"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPgxContainer starts a PostgreSQL container and returns a connection
// pool bound to it. Optional searchPath parameter sets the schema search
// path for the connection.
func NewPgxContainer(ctx context.Context, name string, tracer pg.TraceFn, searchPath ...string) (*Container, pg.PoolConn, error) {
	container, err := NewContainer(ctx, pgxImage, name, "postgres", "password")
	if err != nil {
		return nil, nil, err
	}

	host, port := container.HostPort()
	pool, err := pg.NewPool(ctx,
		pg.WithCredentials("postgres", "password"),
		pg.WithDatabase(name),
		pg.WithHostPort(host, port),
		pg.WithTrace(tracer),
		pg.WithSchemaSearchPath(searchPath...),
	)
	if err != nil {
		return nil, nil, errors.Join(err, container.Close(ctx))
	} else if err := pool.Ping(ctx); err != nil {
		return nil, nil, errors.Join(err, container.Close(ctx))
	}

	return container, pool, nil
}
