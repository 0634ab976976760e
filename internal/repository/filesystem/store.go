package filesystem

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"forestwatch/internal/domain/storage"
	"forestwatch/pkg/errors"
)

// Compile-time check
var _ storage.ObjectStore = (*Store)(nil)

// Store keeps objects as files under a root directory
type Store struct {
	root string
}

// NewStore creates the root directory if needed
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create store root %s", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", errors.NewValidationError("key", "invalid object key", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes data atomically via a temp file and rename
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", key)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), p), "rename into %s", key)
}

// Get reads an object; ErrNotFound when missing
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(errors.ErrNotFound, "object %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return data, nil
}

// Copy duplicates src into dst
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	return s.Put(ctx, dstKey, data)
}

// Exists reports whether a key holds an object
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// ListPrefixes returns the sorted sub-directory names under prefix
func (s *Store) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
