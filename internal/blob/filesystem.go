package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// Snapshot preserves the payload that was at a location before an
// overwrite, so the previous bytes can be put back if the overwrite has to
// be undone.
type Snapshot struct {
	path   string
	backup string
}

// Snapshot records the current payload at location. It returns a nil
// Snapshot when there is no payload to preserve.
func (a *Area) Snapshot(location string) (*Snapshot, error) {
	objPath, err := a.Path(location)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if isConflict(err) {
		return nil, fmt.Errorf("%w: %s: %w", ErrKeyConflict, location, err)
	}
	if err != nil {
		return nil, fmt.Errorf("stat blob %s: %w", location, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrKeyConflict, location)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("blob %s is not a regular file", location)
	}

	backup := filepath.Join(filepath.Dir(objPath), "."+filepath.Base(objPath)+".prev-"+uuid.NewString())
	if err := linkOrCopyFile(objPath, backup); err != nil {
		return nil, fmt.Errorf("snapshot blob %s: %w", location, err)
	}

	return &Snapshot{path: objPath, backup: backup}, nil
}

// Restore moves the preserved payload back into place.
func (s *Snapshot) Restore() error {
	if s == nil {
		return nil
	}
	return moveFile(s.backup, s.path)
}

// Discard drops the preserved payload.
func (s *Snapshot) Discard() error {
	if s == nil {
		return nil
	}
	if err := os.Remove(s.backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func copyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// linkOrCopyFile creates a hard link from srcPath to destPath, falling back
// to copying the contents when linking is not possible.
func linkOrCopyFile(srcPath string, destPath string) error {
	if srcPath == destPath {
		return nil
	}

	// Linking onto an existing destination would fail, and copying onto it
	// would truncate whatever it is linked to.
	if err := os.Remove(destPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.Link(srcPath, destPath); err == nil {
		return nil
	}

	return copyFile(srcPath, destPath)
}

func moveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	// Renames across filesystems fail with EXDEV; copy the contents instead.
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := linkOrCopyFile(srcPath, destPath); err != nil {
		return err
	}

	if err := os.Remove(srcPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
