package testsupport

import (
	"context"
	"testing"
	"time"

	"forestwatch/internal/adapters/clickhouse"
	"forestwatch/migrations"
)

// ClickHouseTestHelper manages cleanup for ClickHouse integration tests.
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewTestClickHouse connects and applies migrations. Skips when ClickHouse
// is not configured.
func NewTestClickHouse(t *testing.T) *ClickHouseTestHelper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := clickhouse.NewClient(ctx, ClickHouseConfig(t))
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	stmts, err := migrations.ClickHouse()
	if err != nil {
		t.Fatalf("failed to read migrations: %v", err)
	}
	for _, stmt := range stmts {
		if err := client.Exec(ctx, stmt); err != nil {
			t.Fatalf("failed to apply migration: %v", err)
		}
	}

	return &ClickHouseTestHelper{client: client}
}

// Client returns the underlying client
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// CleanupRegion deletes the rows a test wrote for region once it finishes.
// ClickHouse has no transactions, so tests write under a unique region.
func (h *ClickHouseTestHelper) CleanupRegion(t *testing.T, table, region string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.client.Exec(ctx, "ALTER TABLE "+table+" DELETE WHERE region = ?", region); err != nil {
			t.Logf("failed to cleanup %s for %s: %v", table, region, err)
		}
	})
}
