package routing

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrNoProviders = errors.New("routing: no providers available")

// Strategy selects one of the candidate (non-draining, unless none
// remain) providers for the next operation.
type Strategy[T any] interface {
	Select(candidates []Provider[T]) (Provider[T], error)
}

// Router resolves the current provider set via Discovery and hands
// selection off to Strategy.
type Router[T any] struct {
	discovery Discovery[T]
	strategy  Strategy[T]
}

func NewRouter[T any](discovery Discovery[T], strategy Strategy[T]) *Router[T] {
	return &Router[T]{discovery: discovery, strategy: strategy}
}

// Pick returns the provider selected for the next operation, preferring
// non-draining providers; if every known provider is draining, it falls
// back to selecting among all of them rather than returning an error.
func (r *Router[T]) Pick(ctx context.Context) (Provider[T], error) {
	all, err := r.discovery.List(ctx)
	if err != nil {
		return Provider[T]{}, err
	}
	if len(all) == 0 {
		return Provider[T]{}, ErrNoProviders
	}

	candidates := make([]Provider[T], 0, len(all))
	for _, p := range all {
		if !p.Draining {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = all
	}

	return r.strategy.Select(candidates)
}

// RoundRobin cycles through candidates in the order Discovery returns
// them. Candidate lists can change size between calls; the counter wraps
// modulo the current length rather than tracking providers by identity.
type RoundRobin[T any] struct {
	counter atomic.Uint64
}

func NewRoundRobin[T any]() *RoundRobin[T] { return &RoundRobin[T]{} }

func (s *RoundRobin[T]) Select(candidates []Provider[T]) (Provider[T], error) {
	if len(candidates) == 0 {
		return Provider[T]{}, ErrNoProviders
	}
	i := s.counter.Add(1) - 1
	return candidates[int(i%uint64(len(candidates)))], nil
}

// DrainFirst always prefers the first candidate that is not draining,
// falling back to the first candidate overall (already-draining
// providers should still serve in-flight work, just not receive new
// assignments via other strategies — DrainFirst is for callers that want
// deterministic placement, e.g. a single coarse lease owner).
type DrainFirst[T any] struct{}

func NewDrainFirst[T any]() *DrainFirst[T] { return &DrainFirst[T]{} }

func (DrainFirst[T]) Select(candidates []Provider[T]) (Provider[T], error) {
	if len(candidates) == 0 {
		return Provider[T]{}, ErrNoProviders
	}
	for _, p := range candidates {
		if !p.Draining {
			return p, nil
		}
	}
	return candidates[0], nil
}
