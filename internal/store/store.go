// Package store keeps the catalog and the blob area in agreement.
//
// A Store is the only component that changes both together. Every method
// holds the store's lock for exactly one logical operation, so operations
// (including a full consistency scan) are totally ordered.
//
// Writes follow one rule: the payload is written before the catalog row
// that describes it is committed. A failure between the two steps can
// leave an unreferenced payload behind, but never a visible row whose hash
// does not match its payload. CheckConsistency detects what slips through.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coffer/internal/blob"
	"coffer/internal/catalog"
)

// CatalogFile is the catalog database's file name inside the data
// directory.
const CatalogFile = "catalog.db"

// Bucket describes a bucket.
type Bucket struct {
	Name      string
	CreatedAt time.Time
}

// ObjectInfo is an object's metadata.
type ObjectInfo struct {
	Bucket       string
	Key          string
	ContentType  string
	Hash         string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// Object is an object's metadata together with its payload.
type Object struct {
	ObjectInfo
	Data []byte
}

// PutOptions carries the optional attributes of a put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ListOptions narrows ListObjectInfo. A Limit of zero or less means no
// limit.
type ListOptions struct {
	Prefix string
	After  string
	Limit  int
}

// Store is a handle on one catalog and one blob area.
type Store struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	blobs   *blob.Area
	now     func() time.Time
}

// New returns a Store over an already opened catalog and blob area. The
// Store takes ownership of the catalog.
func New(c *catalog.Catalog, blobs *blob.Area) *Store {
	return &Store{
		catalog: c,
		blobs:   blobs,
		now:     time.Now,
	}
}

// Open opens a Store rooted at dataDir, creating the directory, the blob
// area and the catalog as needed.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("data directory must not be empty")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	blobs, err := blob.NewArea(dataDir)
	if err != nil {
		return nil, err
	}

	c, err := catalog.Open(ctx, filepath.Join(dataDir, CatalogFile))
	if err != nil {
		return nil, err
	}

	return New(c, blobs), nil
}

// Close closes the catalog.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.catalog.Close()
}

// Hash returns the content hash recorded for data: the hex MD5 digest,
// which also serves as the object's ETag.
func Hash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// CreateBucket creates an empty bucket. Names that cannot be a single
// directory under the blob root fail with blob.ErrInvalidKey.
func (s *Store) CreateBucket(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The name becomes a directory under the blob root.
	if _, err := blob.Location(name, "x"); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}

	if err := s.catalog.CreateBucket(ctx, name); err != nil {
		return translate("create bucket", name, err)
	}
	return nil
}

// DeleteBucket removes a bucket, all of its objects' rows and all of their
// payloads. The catalog change is committed first; if removing the payloads
// then fails, the bucket is gone and the error reports the leftover files.
func (s *Store) DeleteBucket(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.catalog.CountObjects(ctx, name)
	if err != nil {
		return translate("delete bucket", name, err)
	}

	if err := s.catalog.DeleteBucket(ctx, name); err != nil {
		return translate("delete bucket", name, err)
	}

	if err := s.blobs.DeleteBucket(name); err != nil {
		slog.Warn("Bucket removed but payloads remain on disk", "bucket", name, "err", err)
		return fmt.Errorf("delete bucket %s: remove payloads: %w", name, err)
	}

	slog.Debug("Deleted bucket", "bucket", name, "objects", count)
	return nil
}

// BucketExists reports whether the bucket exists.
func (s *Store) BucketExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.catalog.BucketExists(ctx, name)
	if err != nil {
		return false, translate("lookup bucket", name, err)
	}
	return exists, nil
}

// ListBuckets returns every bucket ordered by name.
func (s *Store) ListBuckets(ctx context.Context) ([]Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.catalog.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	buckets := make([]Bucket, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, Bucket{
			Name:      row.Name,
			CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		})
	}
	return buckets, nil
}

// PutObject stores data as the object key in bucket, replacing any previous
// object with that key, and returns the object as read back from storage.
// The bucket must already exist.
func (s *Store) PutObject(ctx context.Context, bucket string, key string, data []byte, opts PutOptions) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := bucket + "/" + key
	if err := s.requireBucket(ctx, "put", bucket); err != nil {
		return nil, err
	}

	metadataJSON, err := encodeMetadata(opts.Metadata)
	if err != nil {
		return nil, fmt.Errorf("put %s: encode metadata: %w", target, err)
	}

	location, err := blob.Location(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", target, err)
	}

	// Keep the bytes the current row describes until the new row is in, so
	// a failed catalog update never leaves that row pointing at new bytes.
	snap, err := s.blobs.Snapshot(location)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", target, err)
	}

	if _, err := s.blobs.Write(bucket, key, data); err != nil {
		_ = snap.Discard()
		return nil, fmt.Errorf("put %s: %w", target, err)
	}

	row := catalog.ObjectRow{
		Bucket:       bucket,
		Key:          key,
		Location:     location,
		ContentType:  opts.ContentType,
		Hash:         Hash(data),
		Size:         int64(len(data)),
		LastModified: s.now().Unix(),
		MetadataJSON: metadataJSON,
	}

	if err := s.catalog.UpsertObject(ctx, row); err != nil {
		s.undoWrite(location, snap)
		return nil, translate("put", target, err)
	}

	if err := snap.Discard(); err != nil {
		slog.Warn("Failed to discard previous payload", "bucket", bucket, "key", key, "err", err)
	}

	return s.getObject(ctx, bucket, key)
}

// undoWrite puts back the payload a failed put replaced, or removes the new
// payload if there was none.
func (s *Store) undoWrite(location string, snap *blob.Snapshot) {
	var err error
	if snap != nil {
		err = snap.Restore()
	} else {
		err = s.blobs.Delete(location)
	}
	if err != nil {
		slog.Error("Failed to undo payload write", "location", location, "err", err)
	}
}

// GetObject returns the object key in bucket. The payload is verified
// against the recorded hash; a mismatch yields an *IntegrityError and no
// data.
func (s *Store) GetObject(ctx context.Context, bucket string, key string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireBucket(ctx, "get", bucket); err != nil {
		return nil, err
	}
	return s.getObject(ctx, bucket, key)
}

func (s *Store) getObject(ctx context.Context, bucket string, key string) (*Object, error) {
	target := bucket + "/" + key

	row, err := s.catalog.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, translate("get", target, err)
	}

	data, err := s.blobs.Read(row.Location)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}

	if actual := Hash(data); actual != row.Hash {
		return nil, &IntegrityError{
			Bucket:   bucket,
			Key:      key,
			Expected: row.Hash,
			Actual:   actual,
		}
	}

	info, err := infoFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}

	return &Object{ObjectInfo: info, Data: data}, nil
}

// StatObject returns the metadata of the object key in bucket without
// reading its payload.
func (s *Store) StatObject(ctx context.Context, bucket string, key string) (*ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := bucket + "/" + key
	if err := s.requireBucket(ctx, "stat", bucket); err != nil {
		return nil, err
	}

	row, err := s.catalog.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, translate("stat", target, err)
	}

	info, err := infoFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", target, err)
	}
	return &info, nil
}

// DeleteObject removes the object key from bucket. It returns true when an
// object was removed and ErrObjectNotFound when there was none. A payload
// that is already missing is tolerated. If the row is removed but the
// payload cannot be, DeleteObject returns true together with the error.
func (s *Store) DeleteObject(ctx context.Context, bucket string, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := bucket + "/" + key
	if err := s.requireBucket(ctx, "delete", bucket); err != nil {
		return false, err
	}

	location, removed, err := s.catalog.DeleteObject(ctx, bucket, key)
	if err != nil {
		return false, translate("delete", target, err)
	}
	if !removed {
		return false, fmt.Errorf("delete %s: %w", target, ErrObjectNotFound)
	}

	if err := s.blobs.Delete(location); err != nil {
		slog.Warn("Object removed but payload remains on disk", "bucket", bucket, "key", key, "err", err)
		return true, fmt.Errorf("delete %s: %w", target, err)
	}

	return true, nil
}

// ListObjects returns every key in bucket ordered by key.
func (s *Store) ListObjects(ctx context.Context, bucket string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireBucket(ctx, "list", bucket); err != nil {
		return nil, err
	}

	keys, err := s.catalog.ListObjectKeys(ctx, bucket)
	if err != nil {
		return nil, translate("list", bucket, err)
	}
	return keys, nil
}

// ListObjectInfo returns the metadata of objects in bucket ordered by key.
func (s *Store) ListObjectInfo(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireBucket(ctx, "list", bucket); err != nil {
		return nil, err
	}

	rows, err := s.catalog.ListObjects(ctx, bucket, catalog.ListOptions{
		Prefix: opts.Prefix,
		After:  opts.After,
		Limit:  opts.Limit,
	})
	if err != nil {
		return nil, translate("list", bucket, err)
	}

	infos := make([]ObjectInfo, 0, len(rows))
	for _, row := range rows {
		info, err := infoFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("list %s: %s: %w", bucket, row.Key, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// CheckConsistency verifies every catalog row against the blob area: the
// payload must exist and hash to the recorded value. It stops at the first
// violation and returns it as a *ConsistencyError. It never modifies
// either store.
func (s *Store) CheckConsistency(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.catalog.ScanObjects(ctx, func(row catalog.ObjectRow) error {
		objPath, err := s.blobs.Path(row.Location)
		if err != nil {
			return &ConsistencyError{Bucket: row.Bucket, Key: row.Key, Path: row.Location, Err: err}
		}

		data, err := s.blobs.Read(row.Location)
		if errors.Is(err, fs.ErrNotExist) {
			return &ConsistencyError{Bucket: row.Bucket, Key: row.Key, Path: objPath, Err: fmt.Errorf("payload missing: %w", err)}
		}
		if err != nil {
			return &ConsistencyError{Bucket: row.Bucket, Key: row.Key, Path: objPath, Err: err}
		}

		if actual := Hash(data); actual != row.Hash {
			return &ConsistencyError{
				Bucket: row.Bucket,
				Key:    row.Key,
				Path:   objPath,
				Err:    &IntegrityError{Bucket: row.Bucket, Key: row.Key, Expected: row.Hash, Actual: actual},
			}
		}
		return nil
	})

	var consistencyErr *ConsistencyError
	if err != nil && !errors.As(err, &consistencyErr) {
		return fmt.Errorf("consistency scan: %w", err)
	}
	return err
}

// requireBucket returns ErrBucketNotFound unless bucket exists. Callers
// must hold s.mu.
func (s *Store) requireBucket(ctx context.Context, op string, bucket string) error {
	exists, err := s.catalog.BucketExists(ctx, bucket)
	if err != nil {
		return translate(op, bucket, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", op, bucket, ErrBucketNotFound)
	}
	return nil
}

func infoFromRow(row catalog.ObjectRow) (ObjectInfo, error) {
	metadata, err := decodeMetadata(row.MetadataJSON)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("decode metadata: %w", err)
	}

	return ObjectInfo{
		Bucket:       row.Bucket,
		Key:          row.Key,
		ContentType:  row.ContentType,
		Hash:         row.Hash,
		Size:         row.Size,
		LastModified: time.Unix(row.LastModified, 0).UTC(),
		Metadata:     metadata,
	}, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(s), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
