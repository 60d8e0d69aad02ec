package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned by [Failover] when no candidate succeeded.
var ErrAllFailed = errors.New("all backends failed")

// Set holds one breaker per backend name, created on first use.
type Set struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates a breaker set. cfg.Name is ignored; each breaker is named
// after its backend.
func NewSet(cfg BreakerConfig) *Set {
	return &Set{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		cfg := s.cfg
		cfg.Name = name
		b = NewBreaker(cfg)
		s.breakers[name] = b
	}
	return b
}

// States reports every known breaker's state.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	names := make([]string, 0, len(s.breakers))
	bs := make([]*Breaker, 0, len(s.breakers))
	for n, b := range s.breakers {
		names = append(names, n)
		bs = append(bs, b)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(names))
	for i, n := range names {
		out[n] = bs[i].State()
	}
	return out
}

// Failover calls fn for each name in order, through that name's breaker,
// until one succeeds. It returns the result and the name that served it.
// Open breakers are skipped. A cancelled context stops the walk.
func Failover[R any](ctx context.Context, s *Set, names []string, fn func(ctx context.Context, name string) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	if len(names) == 0 {
		return zero, "", fmt.Errorf("%w: no candidates", ErrAllFailed)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var result R
		err := s.Get(name).Do(func() error {
			var err error
			result, err = fn(ctx, name)
			return err
		})
		if err == nil {
			return result, name, nil
		}
		lastErr = fmt.Errorf("%s: %w", name, err)
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", name)
			continue
		}
		slog.Warn("backend failed, trying next", "backend", name, "error", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
