// Package scheduler drives realtime mode: a fixed-interval poll per
// instrument plus the slower ranking cadence. Each poll is a discrete
// scheduling point; between polls the loop just waits.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/confluence/internal/datasource"
	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/features"
	"github.com/quantfold/confluence/internal/engine"
)

// Config sets the poll and rerank cadences.
type Config struct {
	Instruments   []string
	PollInterval  time.Duration
	PollLookback  time.Duration
	RerankCadence time.Duration
}

// Scheduler owns the realtime loop. Instruments poll in parallel, one
// worker each; they share no mutable state beyond what the engine
// publishes as immutable snapshots.
type Scheduler struct {
	cfg      Config
	eng      *engine.Engine
	provider datasource.BarProvider
	clock    engine.Clock
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// New builds a scheduler around the engine and a bar provider.
func New(cfg Config, eng *engine.Engine, provider datasource.BarProvider, clock engine.Clock) *Scheduler {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &Scheduler{
		cfg:      cfg,
		eng:      eng,
		provider: provider,
		clock:    clock,
		logger:   log.With().Str("component", "scheduler").Logger(),
		lastSeen: map[string]time.Time{},
	}
}

// Run blocks until the context is cancelled. A data gap halts the
// affected instrument's worker only; everything else keeps going.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, instrument := range s.cfg.Instruments {
		wg.Add(1)
		go func(instrument string) {
			defer wg.Done()
			s.pollLoop(ctx, instrument)
		}(instrument)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.rerankLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) pollLoop(ctx context.Context, instrument string) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx, instrument); err != nil {
			if errors.Is(err, bars.ErrDataGap) {
				s.logger.Error().Err(err).Str("instrument", instrument).
					Msg("data gap, halting instrument until feed is repaired")
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Str("instrument", instrument).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll fetches bars newer than the last seen timestamp and runs each
// through resolution first, then signal generation.
func (s *Scheduler) poll(ctx context.Context, instrument string) error {
	now := s.clock.Now()
	from := now.Add(-s.cfg.PollLookback)
	s.mu.Lock()
	if last, ok := s.lastSeen[instrument]; ok {
		from = last
	}
	s.mu.Unlock()

	series, err := s.provider.GetBars(ctx, instrument, from, now)
	if err != nil {
		return err
	}

	for _, bar := range series {
		if err := s.apply(ctx, bar); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one bar through resolution then signal generation and
// advances the instrument watermark. Bars at or behind the watermark are
// skipped. Only ErrDataGap surfaces; other processing failures are logged
// and absorbed so the loop keeps going.
func (s *Scheduler) apply(ctx context.Context, bar bars.Bar) error {
	instrument := bar.Instrument
	s.mu.Lock()
	last := s.lastSeen[instrument]
	s.mu.Unlock()
	if !bar.Timestamp.After(last) {
		return nil
	}

	if _, err := s.eng.ResolveOutstanding(ctx, instrument, bar); err != nil &&
		!errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("instrument", instrument).Msg("resolution failed")
	}

	if _, err := s.eng.ProcessBar(ctx, bar); err != nil {
		if errors.Is(err, features.ErrInsufficientHistory) {
			// Warmup: expected until the lookback fills.
		} else if errors.Is(err, bars.ErrDataGap) {
			return err
		} else {
			s.logger.Warn().Err(err).Str("instrument", instrument).Msg("process failed")
		}
	}

	s.mu.Lock()
	s.lastSeen[instrument] = bar.Timestamp
	s.mu.Unlock()
	return nil
}

// RunStream consumes live bars from a feed channel instead of polling,
// alongside the same ranking cadence. Frames for instruments outside the
// configured set are dropped. An instrument that hits a data gap is
// halted, as in polling mode; the others keep flowing. Returns nil when
// the feed closes.
func (s *Scheduler) RunStream(ctx context.Context, src <-chan bars.Bar) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.rerankLoop(ctx)
	}()
	// Cancel first so the rerank loop unblocks before the wait.
	defer wg.Wait()
	defer cancel()

	tracked := make(map[string]bool, len(s.cfg.Instruments))
	for _, instrument := range s.cfg.Instruments {
		tracked[instrument] = true
	}
	halted := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bar, ok := <-src:
			if !ok {
				return nil
			}
			if !tracked[bar.Instrument] || halted[bar.Instrument] {
				continue
			}
			if err := s.apply(ctx, bar); err != nil {
				s.logger.Error().Err(err).Str("instrument", bar.Instrument).
					Msg("data gap, halting instrument until feed is repaired")
				halted[bar.Instrument] = true
			}
		}
	}
}

func (s *Scheduler) rerankLoop(ctx context.Context) {
	if s.cfg.RerankCadence <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.RerankCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.eng.Rerank(ctx); err != nil {
				s.logger.Error().Err(err).Msg("rerank failed")
			}
		}
	}
}
