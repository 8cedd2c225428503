// Package common holds shared test infrastructure: containerized
// dependencies for integration tests that need a real database instead of
// a mock.
package common

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	postgresOnce      sync.Once
	postgresContainer *PostgresContainer
	postgresError     error
)

// PostgresContainer wraps a testcontainers Postgres instance shared across
// the test run.
type PostgresContainer struct {
	container *postgres.PostgresContainer
	connStr   string
}

// StartPostgres starts a shared Postgres container for the test run. Uses
// sync.Once so only one container is created per process, mirroring
// StartSurrealDB.
func StartPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	postgresOnce.Do(func() {
		ctx := context.Background()

		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("logsentry_test"),
			postgres.WithUsername("logsentry"),
			postgres.WithPassword("logsentry"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			postgresError = fmt.Errorf("start Postgres container: %w", err)
			return
		}

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			container.Terminate(ctx)
			postgresError = fmt.Errorf("get Postgres connection string: %w", err)
			return
		}

		postgresContainer = &PostgresContainer{container: container, connStr: connStr}
	})

	if postgresError != nil {
		t.Fatalf("Postgres container failed: %v", postgresError)
	}

	return postgresContainer
}

// DBURL returns the connection string for the shared Postgres instance.
func (c *PostgresContainer) DBURL() string {
	return c.connStr
}

// Cleanup terminates the container.
func (c *PostgresContainer) Cleanup() {
	if c != nil && c.container != nil {
		c.container.Terminate(context.Background())
	}
}
