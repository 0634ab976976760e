package redis

import (
	"context"
	"time"

	redisadapter "forestwatch/internal/adapters/redis"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

const (
	lockKeyPrefix   = "registry:tile:"
	latestKeyPrefix = "registry:latest:"
	lockRetryEvery  = 100 * time.Millisecond
)

// Compile-time checks
var (
	_ modelversion.Locker = (*TileLocker)(nil)
	_ modelversion.Cache  = (*LatestCache)(nil)
)

// TileLocker is a per-(region, tile) distributed lock for registry saves
type TileLocker struct {
	client *redisadapter.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewTileLocker creates a locker; ttl bounds how long a crashed holder blocks others
func NewTileLocker(client *redisadapter.Client, ttl time.Duration, log *logger.Logger) *TileLocker {
	return &TileLocker{client: client, ttl: ttl, log: log.With("component", "tile_locker")}
}

// Lock retries until the lock is acquired or ctx ends
func (l *TileLocker) Lock(ctx context.Context, region, tileID string) (func(), error) {
	key := lockKeyPrefix + region + ":" + tileID
	ticker := time.NewTicker(lockRetryEvery)
	defer ticker.Stop()

	for {
		token, ok, err := l.client.AcquireLock(ctx, key, l.ttl)
		if err != nil {
			return nil, errors.Transient(err, "acquire tile lock")
		}
		if ok {
			return func() {
				// Release even if the caller's ctx is already done
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := l.client.ReleaseLock(rctx, key, token); err != nil {
					l.log.Warnw("Failed to release tile lock", "key", key, "error", err)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(errors.ErrLockNotAcquired, "%s: %v", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// LatestCache memoises the latest version per tile
type LatestCache struct {
	client *redisadapter.Client
	log    *logger.Logger
}

// NewLatestCache creates the cache
func NewLatestCache(client *redisadapter.Client, log *logger.Logger) *LatestCache {
	return &LatestCache{client: client, log: log.With("component", "latest_cache")}
}

func latestKey(region, tileID string) string {
	return latestKeyPrefix + region + ":" + tileID
}

// GetLatest returns a cached version; misses and errors both report false
func (c *LatestCache) GetLatest(ctx context.Context, region, tileID string) (*modelversion.ModelVersion, bool) {
	var v modelversion.ModelVersion
	if err := c.client.Get(ctx, latestKey(region, tileID), &v); err != nil {
		if !errors.Is(err, redisadapter.Nil) {
			c.log.Debugw("Cache read failed", "tile_id", tileID, "error", err)
		}
		return nil, false
	}
	return &v, true
}

// SetLatest stores v unless a newer version is already cached
func (c *LatestCache) SetLatest(ctx context.Context, v *modelversion.ModelVersion, ttl time.Duration) {
	written, err := c.client.SetIfNewer(ctx, latestKey(v.Region, v.TileID), "version_id", v.VersionID, v, ttl)
	if err != nil {
		c.log.Debugw("Cache write failed", "tile_id", v.TileID, "error", err)
		return
	}
	if !written {
		c.log.Debugw("Kept newer cached version", "tile_id", v.TileID, "version_id", v.VersionID)
	}
}
