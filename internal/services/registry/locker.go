package registry

import (
	"context"
	"sync"
)

// LocalLocker serialises saves within one process
type LocalLocker struct {
	mu    sync.Mutex
	tiles map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{tiles: make(map[string]chan struct{})}
}

// Lock blocks until the tile lock is free or ctx ends
func (l *LocalLocker) Lock(ctx context.Context, region, tileID string) (func(), error) {
	key := region + "/" + tileID

	l.mu.Lock()
	sem, ok := l.tiles[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.tiles[key] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
