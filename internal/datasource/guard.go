package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantfold/confluence/internal/domain/bars"
)

// GuardConfig bounds calls to an upstream provider.
type GuardConfig struct {
	RequestsPerSecond float64
	Burst             int
	BreakerName       string
	FailureThreshold  uint32
	OpenTimeout       time.Duration
}

// Guarded wraps a BarProvider in a rate limiter and circuit breaker so a
// misbehaving upstream cannot stall the poll loop or get hammered while
// down.
type Guarded struct {
	inner   BarProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded wraps the provider.
func NewGuarded(inner BarProvider, cfg GuardConfig) *Guarded {
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst == 0 {
		cfg.Burst = 2
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.BreakerName,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})
	return &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: breaker,
	}
}

// GetBars waits for a rate token, then calls through the breaker.
func (g *Guarded) GetBars(ctx context.Context, instrument string, from, to time.Time) (bars.Series, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.GetBars(ctx, instrument, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("guarded fetch for %s: %w", instrument, err)
	}
	return res.(bars.Series), nil
}
