// Package watchdog implements the startup-gating and background-scan
// primitives of spec §4.8: a StartupLatch that blocks readiness until a
// configured set of one-shot checks have passed, and a Service that
// periodically scans for stale work-queue rows and other anomalies,
// raising alerts through a pluggable AlertSink.
package watchdog

import (
	"context"
	"fmt"
	"sync"
)

// StartupCheck is a one-shot probe that must succeed before the process
// reports ready — e.g. "can reach the database", "migrations are current".
type StartupCheck struct {
	Name string
	Run  func(ctx context.Context) error
}

// StartupLatch blocks until every registered StartupCheck has passed at
// least once, then stays permanently open — unlike CachedCheck, a startup
// check never needs to be re-run once it has succeeded.
type StartupLatch struct {
	mu     sync.RWMutex
	open   bool
	failed string // name of the check last known to have failed, if not open
}

func NewStartupLatch() *StartupLatch { return &StartupLatch{} }

// Ready reports whether every startup check has passed.
func (l *StartupLatch) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.open
}

// Reason reports the name of the last failing check, if not yet ready.
func (l *StartupLatch) Reason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failed
}

func (l *StartupLatch) markReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = true
	l.failed = ""
}

func (l *StartupLatch) fail(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = name
}

// StartupCheckRunner retries every registered StartupCheck until all
// succeed in the same pass, then opens the latch once and exits.
type StartupCheckRunner struct {
	checks []StartupCheck
	latch  *StartupLatch
}

func NewStartupCheckRunner(latch *StartupLatch, checks ...StartupCheck) *StartupCheckRunner {
	return &StartupCheckRunner{checks: checks, latch: latch}
}

// RunUntilReady blocks the calling goroutine, calling retry(attempt) after
// each failed pass, until every check has passed in one pass, ctx is
// cancelled, or retry returns a non-nil error.
func (r *StartupCheckRunner) RunUntilReady(ctx context.Context, retry func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		allPassed := true
		for _, check := range r.checks {
			if err := check.Run(ctx); err != nil {
				r.latch.fail(check.Name)
				allPassed = false
				break
			}
		}
		if allPassed {
			r.latch.markReady()
			return nil
		}

		if err := retry(attempt); err != nil {
			return fmt.Errorf("startup check runner: %w", err)
		}
	}
}
