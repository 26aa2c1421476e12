package routing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/routing"
)

func TestStaticDiscovery_ReturnsFixedSet(t *testing.T) {
	providers := []routing.Provider[string]{
		{Name: "shard-a", Backend: "dsn-a"},
		{Name: "shard-b", Backend: "dsn-b"},
	}
	d := routing.NewStaticDiscovery(providers)

	got, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

// TestDynamicDiscovery_ListerError_KeepsStaleCache is testable property #7:
// a transient discovery-source failure must not blank out an already-warm
// cache.
func TestDynamicDiscovery_ListerError_KeepsStaleCache(t *testing.T) {
	var mu sync.Mutex
	fail := false
	lister := func(context.Context) ([]routing.Provider[string], error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("control plane unreachable")
		}
		return []routing.Provider[string]{{Name: "shard-a"}}, nil
	}

	d := routing.NewDynamicDiscovery(lister, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitForNonEmpty(t, d)

	mu.Lock()
	fail = true
	mu.Unlock()

	// No refresh has happened since the failure was armed (interval is an
	// hour), so List must still return the cached value, not an error.
	got, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error from a warm cache: %v", err)
	}
	if len(got) != 1 || got[0].Name != "shard-a" {
		t.Fatalf("got %+v, want the cached shard-a entry", got)
	}
}

func TestDynamicDiscovery_NeverSucceeded_PropagatesError(t *testing.T) {
	wantErr := errors.New("control plane unreachable")
	lister := func(context.Context) ([]routing.Provider[string], error) {
		return nil, wantErr
	}

	d := routing.NewDynamicDiscovery(lister, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitFor(t, time.Second, func() bool {
		_, err := d.List(context.Background())
		return err != nil
	})
}

func waitForNonEmpty(t *testing.T, d *routing.DynamicDiscovery[string]) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := d.List(context.Background())
		if err == nil && len(got) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("discovery never populated its cache")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
