package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"forestwatch/internal/adapters/postgres"
	"forestwatch/migrations"
)

// PostgresTestHelper manages a transactional connection for integration tests.
type PostgresTestHelper struct {
	client     *postgres.Client
	tx         *sqlx.Tx
	rolledBack bool
}

// NewTestPostgres connects, applies migrations and begins a transaction that
// is always rolled back. Skips when Postgres is not configured.
func NewTestPostgres(t *testing.T) *PostgresTestHelper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := postgres.NewClient(ctx, PostgresConfig(t))
	if err != nil {
		t.Fatalf("failed to create postgres client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	stmts, err := migrations.Postgres()
	if err != nil {
		t.Fatalf("failed to read migrations: %v", err)
	}
	for _, stmt := range stmts {
		if _, err := client.DB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("failed to apply migration: %v", err)
		}
	}

	tx, err := client.DB().BeginTxx(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to start transaction: %v", err)
	}

	helper := &PostgresTestHelper{client: client, tx: tx}
	t.Cleanup(helper.Rollback)
	return helper
}

// Tx returns the active transaction for the test.
func (h *PostgresTestHelper) Tx() *sqlx.Tx {
	return h.tx
}

// DB returns the underlying database handle.
func (h *PostgresTestHelper) DB() *sqlx.DB {
	return h.client.DB()
}

// Rollback rolls back the transaction once.
func (h *PostgresTestHelper) Rollback() {
	if h.rolledBack {
		return
	}
	_ = h.tx.Rollback()
	h.rolledBack = true
}
