// Package testdb provides the Postgres fixture for integration tests.
// Tests opt in through the environment: TEST_DATABASE_URL points at an
// existing database, TEST_TESTCONTAINERS=1 boots a throwaway container,
// and with neither set the test skips.
package testdb

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// tables in truncation order; no FK points at a table later in the list.
var tables = []string{
	"payment_records",
	"order_status_logs",
	"order_items",
	"reservations",
	"stock_operation_logs",
	"orders",
	"stock_items",
}

// New returns a pool against a migrated database, or skips the test.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		if os.Getenv("TEST_TESTCONTAINERS") != "1" {
			t.Skip("set TEST_DATABASE_URL or TEST_TESTCONTAINERS=1 to run database tests")
		}
		dsn = startContainer(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, schema(t)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	truncate(t, pool)
	return pool
}

func startContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("orders_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)))
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("container dsn: %v", err)
	}
	return dsn
}

func schema(t *testing.T) string {
	t.Helper()
	_, self, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(self), "..", "..", "migrations", "schema.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	return string(b)
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	for _, tb := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+tb+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", tb, err)
		}
	}
}

// Seed inserts a stock row so tests do not repeat the insert dance.
func Seed(t *testing.T, pool *pgxpool.Pool, skuID string, available int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO stock_items (sku_id, available) VALUES ($1, $2)
		 ON CONFLICT (sku_id) DO UPDATE SET available = $2, locked = 0, version = 0`,
		skuID, available)
	if err != nil {
		t.Fatalf("seed stock %s: %v", skuID, err)
	}
}
