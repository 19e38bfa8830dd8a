package test

import (
	"context"
	"fmt"

	// Packages
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcwait "github.com/testcontainers/testcontainers-go/wait"
	postgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Container wraps a running PostgreSQL testcontainer, holding just enough to
// build a connection pool against it (spec §7 "tests exercise a real
// PostgreSQL via testcontainers-go").
type Container struct {
	container *postgres.PostgresContainer
	host      string
	port      string
	database  string
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewContainer starts image with the given database/user/password, waiting
// for it to accept connections before returning.
func NewContainer(ctx context.Context, image, database, user, password string) (*Container, error) {
	c, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(image),
		postgres.WithDatabase(database),
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			tcwait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return nil, fmt.Errorf("resolving container port: %w", err)
	}

	return &Container{container: c, host: host, port: port.Port(), database: database}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// HostPort returns the host and port the container's PostgreSQL is
// reachable on from the test process.
func (c *Container) HostPort() (string, string) {
	return c.host, c.port
}

// Database returns the name of the database created within the container.
func (c *Container) Database() string {
	return c.database
}

// Close terminates the container.
func (c *Container) Close(ctx context.Context) error {
	return c.container.Terminate(ctx)
}
