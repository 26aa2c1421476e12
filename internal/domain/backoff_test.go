package domain_test

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

func TestBackoffPolicy_Delay_Exponential_CapsAtMaxBackoff(t *testing.T) {
	p := domain.BackoffPolicy{Kind: domain.BackoffExponential, Base: time.Second, MaxBackoff: 10 * time.Second}
	for retry := 0; retry < 20; retry++ {
		d := p.Delay(retry)
		if d > p.MaxBackoff {
			t.Fatalf("retry %d: delay %v exceeds cap %v", retry, d, p.MaxBackoff)
		}
		if d < 0 {
			t.Fatalf("retry %d: delay %v is negative", retry, d)
		}
	}
}

func TestBackoffPolicy_Delay_Linear_GrowsByBase(t *testing.T) {
	p := domain.BackoffPolicy{Kind: domain.BackoffLinear, Base: time.Second, MaxBackoff: time.Hour}
	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
	if got := p.Delay(2); got != 3*time.Second {
		t.Errorf("Delay(2) = %v, want %v", got, 3*time.Second)
	}
}

func TestBackoffPolicy_Delay_Fixed_NeverChanges(t *testing.T) {
	p := domain.BackoffPolicy{Kind: domain.BackoffFixed, Base: 5 * time.Second}
	for retry := 0; retry < 5; retry++ {
		if got := p.Delay(retry); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", retry, got, 5*time.Second)
		}
	}
}

func TestBackoffPolicy_ExhaustedRetries(t *testing.T) {
	p := domain.BackoffPolicy{MaxAttempts: 3}
	cases := []struct {
		retryCount int
		want       bool
	}{
		{0, false},
		{2, false},
		{3, true},
		{10, true},
	}
	for _, c := range cases {
		if got := p.ExhaustedRetries(c.retryCount); got != c.want {
			t.Errorf("ExhaustedRetries(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}

func TestWorkItem_Visible(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name string
		w    domain.WorkItem
		want bool
	}{
		{"pending and due", domain.WorkItem{Status: domain.StatusPending, DueTimeUtc: past}, true},
		{"failed_retryable and due", domain.WorkItem{Status: domain.StatusFailedRetryable, DueTimeUtc: past}, true},
		{"claimed is never visible", domain.WorkItem{Status: domain.StatusClaimed, DueTimeUtc: past}, false},
		{"not yet due", domain.WorkItem{Status: domain.StatusPending, DueTimeUtc: future}, false},
		{"locked in the future", domain.WorkItem{Status: domain.StatusPending, DueTimeUtc: past, LockedUntil: &future}, false},
		{"lock already lapsed", domain.WorkItem{Status: domain.StatusPending, DueTimeUtc: past, LockedUntil: &past}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.w.Visible(now); got != c.want {
				t.Errorf("Visible() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestWorkItem_ReapableClaimed(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (domain.WorkItem{Status: domain.StatusClaimed, LockedUntil: &past}).ReapableClaimed(now) != true {
		t.Error("expired claimed lease should be reapable")
	}
	if (domain.WorkItem{Status: domain.StatusClaimed, LockedUntil: &future}).ReapableClaimed(now) != false {
		t.Error("unexpired claimed lease should not be reapable")
	}
	if (domain.WorkItem{Status: domain.StatusPending, LockedUntil: &past}).ReapableClaimed(now) != false {
		t.Error("pending row is never reapable, even with a stale lock field")
	}
}
