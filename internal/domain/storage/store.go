package storage

import "context"

// ObjectStore is a flat key/value blob store with "/"-separated keys.
// Get returns errors.ErrNotFound for a missing key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Exists(ctx context.Context, key string) (bool, error)
	// ListPrefixes returns the distinct path segments directly under prefix
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
}

// Join builds a key from segments, skipping empty ones
func Join(segments ...string) string {
	out := ""
	for _, s := range segments {
		if s == "" {
			continue
		}
		if out != "" {
			out += "/"
		}
		out += s
	}
	return out
}
