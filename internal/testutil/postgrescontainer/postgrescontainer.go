// Package postgrescontainer provides the throwaway PostgreSQL instance the
// postgres package's integration tests run against, with the cache schema
// already applied.
package postgrescontainer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/khanakat/cachekit/internal/testutil/dockertest"
	"github.com/khanakat/cachekit/postgres"
)

const (
	user     = "cachekit"
	password = "secret"
	dbName   = "cachekit_test"
)

var container = &dockertest.Container{
	Dockerfile:    "Dockerfile.postgres.test",
	Image:         "cachekit-postgres-test",
	HostPort:      "55432",
	ContainerPort: "5432",
	ReadyTimeout:  10 * time.Second,
}

// Ready is assigned in init to avoid an initialization cycle: ready depends on
// DSN, which reads container's address.
func init() { container.Ready = ready }

// Addr returns the host:port the test Postgres listens on.
func Addr() string { return container.Addr() }

// DSN returns the lib/pq connection string for the test database.
func DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, Addr(), dbName)
}

// Setup launches the Postgres container and blocks until it accepts
// connections.
func Setup() error { return container.Start() }

// Teardown stops the container launched by Setup.
func Teardown() error { return container.Stop() }

// Open connects to the test database and applies the cache schema.
func Open() (*sql.DB, error) {
	db, err := postgres.Open(postgres.WithDSN(DSN()))
	if err != nil {
		return nil, err
	}
	if err := postgres.ApplyMigrations(context.Background(), db, postgres.Schema()...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ready dials through the module's own Open path, which pings on connect.
func ready(string) error {
	db, err := postgres.Open(postgres.WithDSN(DSN()))
	if err != nil {
		return err
	}
	return db.Close()
}
