package modelversion

import (
	"context"
	"time"
)

// Locker serialises registry writes for one (region, tile)
type Locker interface {
	// Lock blocks until the lock is held or ctx ends; call the returned func to release
	Lock(ctx context.Context, region, tileID string) (unlock func(), err error)
}

// Cache memoises the latest version of a tile
type Cache interface {
	GetLatest(ctx context.Context, region, tileID string) (*ModelVersion, bool)
	// SetLatest never replaces a newer cached version
	SetLatest(ctx context.Context, v *ModelVersion, ttl time.Duration)
}
