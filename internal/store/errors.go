package store

import (
	"errors"
	"fmt"

	"coffer/internal/catalog"
)

var (
	ErrBucketAlreadyExists = errors.New("bucket already exists")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrObjectNotFound      = errors.New("object not found")
	ErrTransactionCommit   = errors.New("transaction commit failed")

	// ErrIntegrity matches every *IntegrityError.
	ErrIntegrity = errors.New("data integrity error")

	// ErrConsistency matches every *ConsistencyError.
	ErrConsistency = errors.New("consistency check failed")
)

// IntegrityError reports that an object's payload no longer hashes to the
// value recorded in the catalog. It is never retryable: the payload on disk
// is corrupt.
type IntegrityError struct {
	Bucket   string
	Key      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("hash mismatch for %s/%s: recorded %s, computed %s - possible data corruption",
		e.Bucket, e.Key, e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// ConsistencyError reports the first catalog row a consistency scan found
// not to match the blob area. Err is the underlying problem: a missing or
// unreadable payload, or an *IntegrityError.
type ConsistencyError struct {
	Bucket string
	Key    string
	Path   string
	Err    error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check failed for %s/%s at %s: %v", e.Bucket, e.Key, e.Path, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}

// translate maps a catalog error to the store's error set, keeping the
// catalog error in the chain.
func translate(op string, target string, err error) error {
	switch {
	case errors.Is(err, catalog.ErrBucketExists):
		return fmt.Errorf("%s %s: %w: %w", op, target, ErrBucketAlreadyExists, err)
	case errors.Is(err, catalog.ErrBucketNotFound):
		return fmt.Errorf("%s %s: %w: %w", op, target, ErrBucketNotFound, err)
	case errors.Is(err, catalog.ErrObjectNotFound):
		return fmt.Errorf("%s %s: %w: %w", op, target, ErrObjectNotFound, err)
	case errors.Is(err, catalog.ErrCommit):
		return fmt.Errorf("%s %s: %w: %w", op, target, ErrTransactionCommit, err)
	default:
		return fmt.Errorf("%s %s: %w", op, target, err)
	}
}
