package watchdog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/watchdog"
)

func TestStartupLatch_DefaultsNotReady(t *testing.T) {
	l := watchdog.NewStartupLatch()
	if l.Ready() {
		t.Fatal("a fresh latch must not report ready")
	}
	if l.Reason() != "" {
		t.Fatalf("Reason() = %q, want empty before any check has run", l.Reason())
	}
}

// TestRunUntilReady_EventuallySucceeds_OpensLatch is testable property #12
// (startup latch): readiness opens only once every check has passed in the
// same pass, and the latch reports the last failing check's name until then.
func TestRunUntilReady_EventuallySucceeds_OpensLatch(t *testing.T) {
	latch := watchdog.NewStartupLatch()
	attempts := 0
	check := watchdog.StartupCheck{
		Name: "database",
		Run: func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("not yet reachable")
			}
			return nil
		},
	}
	runner := watchdog.NewStartupCheckRunner(latch, check)

	retries := 0
	err := runner.RunUntilReady(context.Background(), func(attempt int) error {
		retries++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !latch.Ready() {
		t.Fatal("latch must be open once RunUntilReady returns nil")
	}
	if retries != 2 {
		t.Fatalf("retries = %d, want 2 (two failed passes before the third succeeds)", retries)
	}
}

func TestRunUntilReady_FailingCheck_ReportsReason(t *testing.T) {
	latch := watchdog.NewStartupLatch()
	check := watchdog.StartupCheck{
		Name: "database",
		Run:  func(context.Context) error { return errors.New("down") },
	}
	runner := watchdog.NewStartupCheckRunner(latch, check)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := runner.RunUntilReady(ctx, func(int) error { return nil })
	if err == nil {
		t.Fatal("expected the context deadline to end the retry loop with an error")
	}
	if latch.Ready() {
		t.Fatal("latch must not open while a check keeps failing")
	}
	if latch.Reason() != "database" {
		t.Fatalf("Reason() = %q, want database", latch.Reason())
	}
}

func TestRunUntilReady_RetryCallbackError_StopsTheLoop(t *testing.T) {
	latch := watchdog.NewStartupLatch()
	check := watchdog.StartupCheck{
		Name: "database",
		Run:  func(context.Context) error { return errors.New("down") },
	}
	runner := watchdog.NewStartupCheckRunner(latch, check)

	stopErr := errors.New("retry budget exhausted")
	err := runner.RunUntilReady(context.Background(), func(int) error { return stopErr })
	if !errors.Is(err, stopErr) {
		t.Fatalf("want wrapped stopErr, got %v", err)
	}
}

func TestRunUntilReady_MultipleChecks_AllMustPassInSamePass(t *testing.T) {
	latch := watchdog.NewStartupLatch()
	aCalls, bCalls := 0, 0
	a := watchdog.StartupCheck{Name: "a", Run: func(context.Context) error {
		aCalls++
		return nil
	}}
	b := watchdog.StartupCheck{Name: "b", Run: func(context.Context) error {
		bCalls++
		if bCalls < 2 {
			return errors.New("not ready")
		}
		return nil
	}}
	runner := watchdog.NewStartupCheckRunner(latch, a, b)

	err := runner.RunUntilReady(context.Background(), func(int) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !latch.Ready() {
		t.Fatal("latch should be ready once both checks pass together")
	}
	// a runs once per pass, so it is re-run alongside b's second attempt.
	if aCalls != 2 {
		t.Fatalf("aCalls = %d, want 2 (a must be re-checked in the pass where b finally passes)", aCalls)
	}
}
