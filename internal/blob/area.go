// Package blob stores object payloads on the local filesystem.
//
// Payloads live at <root>/buckets/<bucket>/<key>. The location handed back
// by Write is that path relative to root, using forward slashes, and is the
// value the catalog records for the object.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/natefinch/atomic"
)

const bucketsDir = "buckets"

var (
	// ErrInvalidKey is returned for bucket names or keys that cannot be
	// mapped to a location inside the bucket directory.
	ErrInvalidKey = errors.New("blob: invalid bucket or key")

	// ErrKeyConflict is returned when a key needs a file where another key
	// needs a directory, as with "a" and "a/b".
	ErrKeyConflict = errors.New("blob: key conflicts with an existing key")
)

// Area is the blob store rooted at a data directory.
type Area struct {
	root string
}

// NewArea creates the bucket root under dir if needed and returns an Area
// rooted there.
func NewArea(dir string) (*Area, error) {
	if dir == "" {
		return nil, errors.New("blob: root directory must not be empty")
	}

	if err := os.MkdirAll(filepath.Join(dir, bucketsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}

	return &Area{root: dir}, nil
}

// Root returns the directory the area was opened on.
func (a *Area) Root() string {
	return a.root
}

// Location computes the location for the payload of key within bucket.
func Location(bucket string, key string) (string, error) {
	if bucket == "" || bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidKey, bucket)
	}

	if err := ValidateKey(key); err != nil {
		return "", err
	}

	return path.Join(bucketsDir, bucket, key), nil
}

// ValidateKey reports whether key can name a payload. Keys may contain
// slashes, but every segment must be a plain name so the payload stays
// inside the bucket directory: no empty, "." or ".." segments and no
// leading or trailing slash.
func ValidateKey(key string) error {
	if key == "" || key == "." || path.Clean(key) != key || !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("%w: key %q", ErrInvalidKey, key)
	}
	return nil
}

// Path resolves a location to an absolute filesystem path.
func (a *Area) Path(location string) (string, error) {
	if !strings.HasPrefix(location, bucketsDir+"/") || !filepath.IsLocal(filepath.FromSlash(location)) {
		return "", fmt.Errorf("%w: location %q", ErrInvalidKey, location)
	}
	return filepath.Join(a.root, filepath.FromSlash(location)), nil
}

// Write stores data as the payload of key within bucket, replacing any
// previous payload, and returns its location. The new content becomes
// visible atomically.
func (a *Area) Write(bucket string, key string, data []byte) (string, error) {
	location, err := Location(bucket, key)
	if err != nil {
		return "", err
	}

	objPath, err := a.Path(location)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		if isConflict(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrKeyConflict, location, err)
		}
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	if info, err := os.Stat(objPath); err == nil && info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrKeyConflict, location)
	}

	if err := atomic.WriteFile(objPath, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write blob %s: %w", location, err)
	}

	return location, nil
}

// Read returns the payload stored at location. A missing payload yields an
// error matching fs.ErrNotExist.
func (a *Area) Read(location string) ([]byte, error) {
	objPath, err := a.Path(location)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(objPath)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", location, err)
	}
	return data, nil
}

// Stat reports file information for the payload at location.
func (a *Area) Stat(location string) (fs.FileInfo, error) {
	objPath, err := a.Path(location)
	if err != nil {
		return nil, err
	}
	return os.Stat(objPath)
}

// Delete removes the payload at location. Deleting a payload that does not
// exist is not an error. Directories left empty by the removal are pruned
// up to, but not including, the bucket directory.
func (a *Area) Delete(location string) error {
	objPath, err := a.Path(location)
	if err != nil {
		return err
	}

	if err := os.Remove(objPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", location, err)
	}

	a.prune(filepath.Dir(objPath), a.bucketPath(location))
	return nil
}

// DeleteBucket removes every payload stored for bucket by recursively
// deleting the bucket's directory.
func (a *Area) DeleteBucket(bucket string) error {
	if _, err := Location(bucket, "x"); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(a.root, bucketsDir, bucket))
}

// isConflict reports whether err comes from a path component being a file
// where a directory is needed, or the other way round.
func isConflict(err error) bool {
	return errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR)
}

// bucketPath returns the directory of the bucket a location belongs to.
func (a *Area) bucketPath(location string) string {
	parts := strings.SplitN(location, "/", 3)
	return filepath.Join(a.root, bucketsDir, parts[1])
}

// prune removes empty directories from dir upwards, stopping at stop.
func (a *Area) prune(dir string, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
