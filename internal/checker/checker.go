// Package checker periodically audits a store for drift between its catalog
// and its blob area.
package checker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the checker's activity.
type State int

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// Report describes one finished scan. Err is nil when the store was
// consistent.
type Report struct {
	Started  time.Time
	Finished time.Time
	Err      error
}

// Duration returns how long the scan took.
func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Scanner runs a full consistency scan. *store.Store implements it.
type Scanner interface {
	CheckConsistency(ctx context.Context) error
}

// Checker runs scans against a Scanner on a fixed interval.
type Checker struct {
	scanner  Scanner
	interval time.Duration

	mu      sync.Mutex
	running int
	last    *Report
}

// New returns a Checker for scanner. An interval of zero or less disables
// the periodic scan; Check still works.
func New(scanner Scanner, interval time.Duration) *Checker {
	return &Checker{
		scanner:  scanner,
		interval: interval,
	}
}

// Interval returns the configured scan interval.
func (c *Checker) Interval() time.Duration {
	return c.interval
}

// Run scans once immediately and then on every tick until ctx is
// cancelled. Scan failures are logged and recorded, never returned.
func (c *Checker) Run(ctx context.Context) error {
	if c.interval <= 0 {
		slog.Info("Consistency checker disabled")
		<-ctx.Done()
		return nil
	}

	slog.Info("Consistency checker started", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		_ = c.Check(ctx)

		select {
		case <-ctx.Done():
			slog.Info("Consistency checker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Check runs one scan now and records its report. The scan's result is
// returned as well as logged. A scan cut short by ctx is not recorded.
func (c *Checker) Check(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	c.running++
	c.mu.Unlock()

	report := Report{Started: time.Now()}
	report.Err = c.scanner.CheckConsistency(ctx)
	report.Finished = time.Now()

	c.mu.Lock()
	c.running--
	interrupted := errors.Is(report.Err, context.Canceled) || errors.Is(report.Err, context.DeadlineExceeded)
	if !interrupted {
		c.last = &report
	}
	c.mu.Unlock()

	if interrupted {
		slog.Info("Consistency check interrupted", "err", report.Err)
		return report.Err
	}

	if report.Err != nil {
		slog.Error("Consistency check failed", "err", report.Err, "duration", report.Duration())
	} else {
		slog.Info("Consistency check completed successfully", "duration", report.Duration())
	}

	return report.Err
}

// State reports whether a scan is in progress.
func (c *Checker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running > 0 {
		return Scanning
	}
	return Idle
}

// LastReport returns the most recent scan's report, or false if no scan
// has finished yet.
func (c *Checker) LastReport() (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil {
		return Report{}, false
	}
	return *c.last, true
}
