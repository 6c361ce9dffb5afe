package checker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"coffer/internal/checker"
	"coffer/internal/store"

	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	calls   atomic.Int32
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeScanner) CheckConsistency(ctx context.Context) error {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.err
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", checker.Idle.String())
	require.Equal(t, "scanning", checker.Scanning.String())
}

func TestCheckRecordsReport(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{}
	c := checker.New(scanner, 0)

	_, ok := c.LastReport()
	require.False(t, ok, "no report before the first scan")

	require.NoError(t, c.Check(t.Context()))

	report, ok := c.LastReport()
	require.True(t, ok)
	require.NoError(t, report.Err)
	require.False(t, report.Finished.Before(report.Started))
	require.Equal(t, checker.Idle, c.State())
}

func TestCheckReportsFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := checker.New(&fakeScanner{err: boom}, 0)

	require.ErrorIs(t, c.Check(t.Context()), boom)

	report, ok := c.LastReport()
	require.True(t, ok)
	require.ErrorIs(t, report.Err, boom)
}

func TestStateDuringScan(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := checker.New(scanner, 0)

	done := make(chan error, 1)
	go func() { done <- c.Check(t.Context()) }()

	<-scanner.started
	require.Equal(t, checker.Scanning, c.State())

	close(scanner.release)
	require.NoError(t, <-done)
	require.Equal(t, checker.Idle, c.State())
}

func TestRunTicksUntilCancelled(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{}
	c := checker.New(scanner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return scanner.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "checker should scan repeatedly")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err, "Run returns nil on cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunDisabled(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{}
	c := checker.New(scanner, 0)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, c.Run(ctx))
	require.Zero(t, scanner.calls.Load(), "disabled checker never scans")
}

func TestCheckerAgainstStore(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	ctx := t.Context()

	s, err := store.Open(ctx, dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreateBucket(ctx, "docs"))
	_, err = s.PutObject(ctx, "docs", "a.txt", []byte("hello"), store.PutOptions{})
	require.NoError(t, err)

	c := checker.New(s, time.Hour)
	require.NoError(t, c.Check(ctx), "untouched store is consistent")

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "buckets", "docs", "a.txt"), []byte("tampered"), 0o644))

	err = c.Check(ctx)
	var consistencyErr *store.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	require.Equal(t, "docs", consistencyErr.Bucket)
	require.Equal(t, "a.txt", consistencyErr.Key)

	report, ok := c.LastReport()
	require.True(t, ok)
	require.ErrorIs(t, report.Err, store.ErrConsistency)
}

func TestCheckInterruptedIsNotRecorded(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	scanner := &fakeScanner{err: context.Canceled, started: make(chan struct{}, 1), release: make(chan struct{})}
	c := checker.New(scanner, 0)

	done := make(chan error, 1)
	go func() { done <- c.Check(ctx) }()

	<-scanner.started
	cancel()
	close(scanner.release)

	require.ErrorIs(t, <-done, context.Canceled)
	_, ok := c.LastReport()
	require.False(t, ok)
	require.Equal(t, checker.Idle, c.State())
}

func TestCheckRecordsFindingWhenCancelledLate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	drift := &store.ConsistencyError{Bucket: "docs", Key: "a.txt", Path: "/data/buckets/docs/a.txt", Err: errors.New("payload missing")}
	scanner := &fakeScanner{err: drift, started: make(chan struct{}, 1), release: make(chan struct{})}
	c := checker.New(scanner, 0)

	done := make(chan error, 1)
	go func() { done <- c.Check(ctx) }()

	<-scanner.started
	cancel()
	close(scanner.release)

	require.ErrorIs(t, <-done, store.ErrConsistency)

	report, ok := c.LastReport()
	require.True(t, ok, "a finished scan's finding is recorded even if ctx is done")
	require.ErrorIs(t, report.Err, store.ErrConsistency)
}
