package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"forestwatch/internal/domain/storage"
	"forestwatch/internal/metrics"
	"forestwatch/pkg/errors"
)

// Compile-time check
var _ storage.ObjectStore = (*ObjectRepository)(nil)

// ObjectRepository stores blobs in the model_objects table
type ObjectRepository struct {
	db DBTX
}

// NewObjectRepository creates a new object repository
func NewObjectRepository(db DBTX) *ObjectRepository {
	return &ObjectRepository{db: db}
}

// Put inserts or replaces an object
func (r *ObjectRepository) Put(ctx context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("postgres", "object_put", time.Since(start), err) }()

	query := `
		INSERT INTO model_objects (key, data, size, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data, size = EXCLUDED.size, updated_at = NOW()`

	_, err = r.db.ExecContext(ctx, query, key, data, len(data))
	return errors.Wrapf(err, "put %s", key)
}

// Get reads an object; ErrNotFound when missing
func (r *ObjectRepository) Get(ctx context.Context, key string) (data []byte, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("postgres", "object_get", time.Since(start), err) }()

	err = r.db.GetContext(ctx, &data, `SELECT data FROM model_objects WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "object %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return data, nil
}

// Copy duplicates an object server-side
func (r *ObjectRepository) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("postgres", "object_copy", time.Since(start), err) }()

	query := `
		INSERT INTO model_objects (key, data, size, updated_at)
		SELECT $2, data, size, NOW() FROM model_objects WHERE key = $1
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data, size = EXCLUDED.size, updated_at = NOW()`

	res, err := r.db.ExecContext(ctx, query, srcKey, dstKey)
	if err != nil {
		return errors.Wrapf(err, "copy %s -> %s", srcKey, dstKey)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "object %s", srcKey)
	}
	return nil
}

// Exists reports whether a key holds an object
func (r *ObjectRepository) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM model_objects WHERE key = $1)`, key)
	return exists, errors.Wrapf(err, "exists %s", key)
}

// ListPrefixes returns the distinct next path segments under prefix
func (r *ObjectRepository) ListPrefixes(ctx context.Context, prefix string) (names []string, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("postgres", "object_list", time.Since(start), err) }()

	base := strings.TrimSuffix(prefix, "/") + "/"
	query := `
		SELECT DISTINCT split_part(substr(key, length($1) + 1), '/', 1) AS segment
		FROM model_objects
		WHERE key LIKE $2 ESCAPE '\'
		  AND position('/' IN substr(key, length($1) + 1)) > 0
		ORDER BY segment`

	err = r.db.SelectContext(ctx, &names, query, base, escapeLike(base)+"%")
	return names, errors.Wrapf(err, "list %s", prefix)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
