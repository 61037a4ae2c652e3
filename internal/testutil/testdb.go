// Package testutil provides shared test infrastructure for integration tests.
// It uses testcontainers-go to spin up a real PostgreSQL instance, run
// all migrations, and provide a connection pool for test services.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pricewise/api/internal/database"
)

// TestDB holds a PostgreSQL test container and connection pool.
// Share one per package via TestMain and call Truncate at the start of
// each test.
type TestDB struct {
	Pool      *pgxpool.Pool
	container testcontainers.Container
}

// SetupTestDB starts a PostgreSQL container, applies the migrations and
// connects a pool. Call it once per package from TestMain.
func SetupTestDB() (*TestDB, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pricewise_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("getting connection string: %w", err)
	}

	if err := database.Migrate(connStr); err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("connecting to test database: %w", err)
	}

	return &TestDB{
		Pool:      pool,
		container: container,
	}, nil
}

// Close terminates the container and closes the pool.
func (tdb *TestDB) Close() {
	if tdb.Pool != nil {
		tdb.Pool.Close()
	}
	if tdb.container != nil {
		tdb.container.Terminate(context.Background())
	}
}

// Truncate empties calculation_history. gst_rates is seeded by migration and
// restored with ResetRates instead.
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()
	if _, err := tdb.Pool.Exec(context.Background(), `DELETE FROM calculation_history`); err != nil {
		t.Fatalf("clearing calculation_history: %v", err)
	}
}

// ResetRates restores the GST presets to the migration seed.
func (tdb *TestDB) ResetRates(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if _, err := tdb.Pool.Exec(ctx, `DELETE FROM gst_rates`); err != nil {
		t.Fatalf("clearing gst_rates: %v", err)
	}
	_, err := tdb.Pool.Exec(ctx, `
		INSERT INTO gst_rates (rate, description, position) VALUES
			(0,  'Tax Exempt',       1),
			(5,  'GST 5%',           2),
			(12, 'GST 12%',          3),
			(18, 'GST 18%',          4),
			(28, 'GST 28% (Luxury)', 5)
	`)
	if err != nil {
		t.Fatalf("seeding gst_rates: %v", err)
	}
}
