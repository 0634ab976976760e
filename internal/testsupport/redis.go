package testsupport

import (
	"context"
	"testing"
	"time"

	"forestwatch/internal/adapters/redis"
)

// NewTestRedis creates a redis client for integration tests and flushes its
// database before and after the test. Skips when Redis is not configured.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, RedisConfig(t))
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}

	if err := client.Client().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis before test: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Client().FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}
