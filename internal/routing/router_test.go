package routing_test

import (
	"context"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/routing"
)

// TestRoundRobin_Select_FairOverManyRounds is testable property #8
// (adapted): selecting N*k times over N candidates gives each candidate
// exactly k picks.
func TestRoundRobin_Select_FairOverManyRounds(t *testing.T) {
	candidates := []routing.Provider[string]{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	s := routing.NewRoundRobin[string]()

	counts := map[string]int{}
	const rounds = 5
	for i := 0; i < len(candidates)*rounds; i++ {
		p, err := s.Select(candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[p.Name]++
	}

	for _, c := range candidates {
		if counts[c.Name] != rounds {
			t.Errorf("candidate %s selected %d times, want %d", c.Name, counts[c.Name], rounds)
		}
	}
}

func TestRoundRobin_Select_EmptyCandidates_ReturnsErrNoProviders(t *testing.T) {
	s := routing.NewRoundRobin[string]()
	if _, err := s.Select(nil); err != routing.ErrNoProviders {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

// TestDrainFirst_Select_PrefersNonDraining is testable property #9
// (adapted): DrainFirst never returns a draining candidate while a
// non-draining one is available.
func TestDrainFirst_Select_PrefersNonDraining(t *testing.T) {
	candidates := []routing.Provider[string]{
		{Name: "a", Draining: true},
		{Name: "b", Draining: false},
		{Name: "c", Draining: false},
	}
	s := routing.NewDrainFirst[string]()

	p, err := s.Select(candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Draining {
		t.Fatalf("selected %s, which is draining, while non-draining candidates existed", p.Name)
	}
}

func TestDrainFirst_Select_AllDraining_FallsBackToFirst(t *testing.T) {
	candidates := []routing.Provider[string]{
		{Name: "a", Draining: true},
		{Name: "b", Draining: true},
	}
	s := routing.NewDrainFirst[string]()

	p, err := s.Select(candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "a" {
		t.Fatalf("got %s, want the first candidate when all are draining", p.Name)
	}
}

func TestRouter_Pick_ExcludesDrainingProviders(t *testing.T) {
	providers := []routing.Provider[string]{
		{Name: "a", Draining: true},
		{Name: "b", Draining: false},
	}
	r := routing.NewRouter[string](routing.NewStaticDiscovery(providers), routing.NewRoundRobin[string]())

	for i := 0; i < 5; i++ {
		p, err := r.Pick(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "b" {
			t.Fatalf("Pick returned draining provider %s", p.Name)
		}
	}
}

func TestRouter_Pick_AllDraining_FallsBackToAll(t *testing.T) {
	providers := []routing.Provider[string]{
		{Name: "a", Draining: true},
		{Name: "b", Draining: true},
	}
	r := routing.NewRouter[string](routing.NewStaticDiscovery(providers), routing.NewRoundRobin[string]())

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		p, err := r.Pick(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[p.Name] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected Pick to fall back to rotating across all draining providers, saw %v", seen)
	}
}

func TestRouter_Pick_NoProviders_ReturnsErrNoProviders(t *testing.T) {
	r := routing.NewRouter[string](routing.NewStaticDiscovery[string](nil), routing.NewRoundRobin[string]())
	if _, err := r.Pick(context.Background()); err != routing.ErrNoProviders {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}
