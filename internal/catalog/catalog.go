// Package catalog is the transactional metadata store for buckets and
// objects. It records where each object's payload lives and what its
// content hash should be, but never holds payload bytes.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

var (
	ErrBucketExists   = errors.New("catalog: bucket already exists")
	ErrBucketNotFound = errors.New("catalog: bucket not found")
	ErrObjectNotFound = errors.New("catalog: object not found")
	ErrCommit         = errors.New("catalog: transaction commit failed")
)

// Bucket is a row of the buckets table.
type Bucket struct {
	Name      string
	CreatedAt int64
}

// ObjectRow is a row of the objects table. Empty ContentType and
// MetadataJSON are stored as NULL.
type ObjectRow struct {
	Bucket       string
	Key          string
	Location     string
	ContentType  string
	Hash         string
	Size         int64
	LastModified int64
	MetadataJSON string
}

// ListOptions narrows ListObjects. A Limit of zero or less means no limit.
type ListOptions struct {
	Prefix string
	After  string
	Limit  int
}

// Catalog wraps the SQLite metadata database.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path must not be empty")
	}

	dsn := "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// All access is serialized by the store; a single connection also keeps
	// the foreign key pragma in force for every statement.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// initSchema applies every SQL file in the embedded migrations directory in
// lexicographical order. Migrations must be idempotent.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return fmt.Errorf("init schema %s: %w", path, execError)
		}
		return nil
	})
}

// withTransaction runs fn within a database transaction, committing if it
// returns nil and rolling back otherwise.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}

	return nil
}

// CreateBucket inserts a new bucket row.
func (c *Catalog) CreateBucket(ctx context.Context, name string) error {
	return withTransaction(ctx, c.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO buckets(name, created_at) VALUES(?, ?)`,
			name, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert bucket %s: %w", name, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrBucketExists, name)
		}
		return nil
	})
}

// DeleteBucket removes a bucket row. Its object rows go with it through the
// foreign key cascade.
func (c *Catalog) DeleteBucket(ctx context.Context, name string) error {
	return withTransaction(ctx, c.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("delete bucket %s: %w", name, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, name)
		}
		return nil
	})
}

// BucketExists reports whether a bucket with the given name exists.
func (c *Catalog) BucketExists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, name).Scan(&count); err != nil {
		return false, err
	}

	return count > 0, nil
}

// ListBuckets returns every bucket ordered by name.
func (c *Catalog) ListBuckets(ctx context.Context) ([]Bucket, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, created_at FROM buckets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]Bucket, 0)
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}

	return buckets, rows.Err()
}

// UpsertObject inserts or replaces the row for (row.Bucket, row.Key). The
// bucket row is created in the same transaction if it is missing.
func (c *Catalog) UpsertObject(ctx context.Context, row ObjectRow) error {
	return withTransaction(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO buckets(name, created_at) VALUES(?, ?)`,
			row.Bucket, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", row.Bucket, err)
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO objects(bucket_name, key, blob_location, content_type, hash, size, last_modified, metadata_json)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(bucket_name, key) DO UPDATE SET
			 	blob_location=excluded.blob_location,
			 	content_type=excluded.content_type,
			 	hash=excluded.hash,
			 	size=excluded.size,
			 	last_modified=excluded.last_modified,
			 	metadata_json=excluded.metadata_json`,
			row.Bucket, row.Key, row.Location, nullString(row.ContentType), row.Hash,
			row.Size, row.LastModified, nullString(row.MetadataJSON),
		)
		if err != nil {
			return fmt.Errorf("upsert object %s/%s: %w", row.Bucket, row.Key, err)
		}
		return nil
	})
}

// GetObject loads the row for (bucket, key).
func (c *Catalog) GetObject(ctx context.Context, bucket string, key string) (ObjectRow, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT bucket_name, key, blob_location, content_type, hash, size, last_modified, metadata_json
		 FROM objects WHERE bucket_name = ? AND key = ?`,
		bucket, key,
	)

	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ObjectRow{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return obj, err
}

// DeleteObject removes the row for (bucket, key) and returns the payload
// location it referenced so the caller can remove the payload. removed is
// false when there was no such row.
func (c *Catalog) DeleteObject(ctx context.Context, bucket string, key string) (location string, removed bool, err error) {
	err = withTransaction(ctx, c.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT blob_location FROM objects WHERE bucket_name = ? AND key = ?`,
			bucket, key,
		).Scan(&location)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup object %s/%s: %w", bucket, key, err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE bucket_name = ? AND key = ?`, bucket, key)
		if err != nil {
			return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = rows > 0
		return nil
	})
	if err != nil || !removed {
		return "", false, err
	}
	return location, true, nil
}

// ListObjectKeys returns every key in bucket ordered by key.
func (c *Catalog) ListObjectKeys(ctx context.Context, bucket string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key FROM objects WHERE bucket_name = ? ORDER BY key`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// ListObjects returns object rows in bucket ordered by key, filtered by
// opts.
func (c *Catalog) ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectRow, error) {
	args := []any{bucket}
	query := `SELECT bucket_name, key, blob_location, content_type, hash, size, last_modified, metadata_json
		FROM objects WHERE bucket_name = ?`

	// substr rather than LIKE: prefixes may contain % or _, and LIKE is case
	// insensitive for ASCII.
	if opts.Prefix != "" {
		query += " AND substr(key, 1, length(?)) = ?"
		args = append(args, opts.Prefix, opts.Prefix)
	}
	if opts.After != "" {
		query += " AND key > ?"
		args = append(args, opts.After)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY key LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objects := make([]ObjectRow, 0)
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}

	return objects, rows.Err()
}

// CountObjects returns the number of objects in bucket.
func (c *Catalog) CountObjects(ctx context.Context, bucket string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket_name = ?`, bucket).Scan(&count)
	return count, err
}

// ScanObjects calls fn for every object row, ordered by bucket and key,
// inside a single transaction so the scan sees one consistent snapshot. It
// stops at the first error fn returns and returns that error unchanged.
// fn must not use the catalog.
func (c *Catalog) ScanObjects(ctx context.Context, fn func(ObjectRow) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT bucket_name, key, blob_location, content_type, hash, size, last_modified, metadata_json
		 FROM objects ORDER BY bucket_name, key`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return err
		}
		if err := fn(obj); err != nil {
			return err
		}
	}

	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObject(s scanner) (ObjectRow, error) {
	var (
		obj          ObjectRow
		contentType  sql.NullString
		metadataJSON sql.NullString
	)

	err := s.Scan(&obj.Bucket, &obj.Key, &obj.Location, &contentType, &obj.Hash,
		&obj.Size, &obj.LastModified, &metadataJSON)
	if err != nil {
		return ObjectRow{}, err
	}

	obj.ContentType = contentType.String
	obj.MetadataJSON = metadataJSON.String
	return obj, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
