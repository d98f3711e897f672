package datasource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/confluence/internal/domain/bars"
)

type stubProvider struct {
	calls  int
	err    error
	series bars.Series
}

func (s *stubProvider) GetBars(context.Context, string, time.Time, time.Time) (bars.Series, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.series, nil
}

func TestGuarded_PassesThrough(t *testing.T) {
	inner := &stubProvider{series: bars.Series{{Instrument: "BTC-USD", Close: 100}}}
	g := NewGuarded(inner, GuardConfig{RequestsPerSecond: 1000, Burst: 1000})

	got, err := g.GetBars(context.Background(), "BTC-USD", time.Time{}, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].Close)
	assert.Equal(t, 1, inner.calls)
}

func TestGuarded_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubProvider{err: errors.New("upstream down")}
	g := NewGuarded(inner, GuardConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		FailureThreshold:  3,
		BreakerName:       "test",
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.GetBars(ctx, "BTC-USD", time.Time{}, time.Now())
		require.Error(t, err)
	}
	assert.Equal(t, 3, inner.calls)

	// Open breaker short-circuits without touching the upstream.
	_, err := g.GetBars(ctx, "BTC-USD", time.Time{}, time.Now())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls)
}

func TestGuarded_RateLimitHonorsContext(t *testing.T) {
	inner := &stubProvider{series: bars.Series{}}

	// Burst 1 at a tiny rate: the second call has to wait, and the expired
	// context aborts the wait.
	g := NewGuarded(inner, GuardConfig{RequestsPerSecond: 0.001, Burst: 1})
	_, err := g.GetBars(context.Background(), "BTC-USD", time.Time{}, time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.GetBars(ctx, "BTC-USD", time.Time{}, time.Now())
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
