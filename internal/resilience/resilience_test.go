package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	assert.Equal(t, 5, b.maxFailures)
	assert.Equal(t, 30*time.Second, b.resetTimeout)
	assert.Equal(t, 1, b.probes)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	b := NewBreaker(BreakerConfig{MaxFailures: 3, Now: clk.Now})

	require.ErrorIs(t, b.Do(fail), errBackend)
	require.ErrorIs(t, b.Do(fail), errBackend)
	require.NoError(t, b.Do(succeed), "success resets the count")
	for range 3 {
		require.ErrorIs(t, b.Do(fail), errBackend)
	}
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	b := NewBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, Now: clk.Now})

	require.Error(t, b.Do(fail))
	assert.Equal(t, Open, b.State())

	clk.Advance(time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// A failed probe re-opens for another full timeout.
	require.ErrorIs(t, b.Do(fail), errBackend)
	assert.Equal(t, Open, b.State())
	require.ErrorIs(t, b.Do(succeed), ErrCircuitOpen)

	clk.Advance(time.Second)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1})
	require.Error(t, b.Do(fail))
	require.Equal(t, Open, b.State())
	b.Reset()
	assert.Equal(t, Closed, b.State())
	require.NoError(t, b.Do(succeed))
}

func TestFailover_FirstHealthyServes(t *testing.T) {
	s := NewSet(BreakerConfig{MaxFailures: 1})
	var tried []string
	got, name, err := Failover(context.Background(), s, []string{"whisper", "openai", "mock"},
		func(_ context.Context, n string) (string, error) {
			tried = append(tried, n)
			if n == "whisper" {
				return "", errBackend
			}
			return "text from " + n, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Equal(t, "text from openai", got)
	assert.Equal(t, []string{"whisper", "openai"}, tried)
	assert.Equal(t, Open, s.States()["whisper"])

	// The open breaker is skipped next time.
	tried = nil
	_, name, err = Failover(context.Background(), s, []string{"whisper", "openai"},
		func(_ context.Context, n string) (string, error) {
			tried = append(tried, n)
			return n, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Equal(t, []string{"openai"}, tried)
}

func TestFailover_AllFailed(t *testing.T) {
	s := NewSet(BreakerConfig{})
	_, _, err := Failover(context.Background(), s, []string{"a", "b"},
		func(context.Context, string) (int, error) { return 0, errBackend })
	require.ErrorIs(t, err, ErrAllFailed)
	require.ErrorIs(t, err, errBackend)

	_, _, err = Failover(context.Background(), s, nil,
		func(context.Context, string) (int, error) { return 1, nil })
	require.ErrorIs(t, err, ErrAllFailed)
}

func TestFailover_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSet(BreakerConfig{})
	calls := 0
	_, _, err := Failover(ctx, s, []string{"a", "b", "c"},
		func(context.Context, string) (int, error) {
			calls++
			cancel()
			return 0, errBackend
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSet_ReusesBreakers(t *testing.T) {
	s := NewSet(BreakerConfig{})
	assert.Same(t, s.Get("piper"), s.Get("piper"))
	assert.NotSame(t, s.Get("piper"), s.Get("whisper"))
}
