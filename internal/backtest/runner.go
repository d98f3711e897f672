// Package backtest replays historical bars through the full loop,
// single-threaded and in timestamp order per instrument so no computation
// sees the future.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/confluence/internal/datasource"
	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/features"
	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/engine"
)

// Summary reports one instrument's replay.
type Summary struct {
	Instrument   string
	BarsReplayed int
	SignalsFired int
	Won          int
	Lost         int
	Expired      int
	TotalReturn  float64
}

// WinRate is wins over resolved trades, excluding expiries.
func (s Summary) WinRate() float64 {
	resolved := s.Won + s.Lost
	if resolved == 0 {
		return 0
	}
	return float64(s.Won) / float64(resolved)
}

// Runner drives a replay against an engine backed by the in-memory
// repository.
type Runner struct {
	eng           *engine.Engine
	provider      datasource.BarProvider
	rerankCadence time.Duration
	logger        zerolog.Logger
}

// NewRunner builds a backtest runner. rerankCadence of zero disables
// in-replay ranking passes.
func NewRunner(eng *engine.Engine, provider datasource.BarProvider, rerankCadence time.Duration) *Runner {
	return &Runner{
		eng:           eng,
		provider:      provider,
		rerankCadence: rerankCadence,
		logger:        log.With().Str("component", "backtest").Logger(),
	}
}

// Run replays [from, to] for one instrument. Resolution runs before
// signal generation on each bar, mirroring realtime ordering.
func (r *Runner) Run(ctx context.Context, instrument string, from, to time.Time) (*Summary, error) {
	series, err := r.provider.GetBars(ctx, instrument, from, to)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := bars.Validate(series); err != nil {
		return nil, err
	}

	summary := &Summary{Instrument: instrument}
	var lastRerank time.Time

	for _, bar := range series {
		outcome, err := r.eng.ResolveOutstanding(ctx, instrument, bar)
		if err != nil {
			return nil, fmt.Errorf("resolve at %s: %w", bar.Timestamp.Format(time.RFC3339), err)
		}
		if outcome != nil {
			summary.TotalReturn += outcome.RealizedReturn
			switch outcome.Status {
			case forwardtest.StatusWon:
				summary.Won++
			case forwardtest.StatusLost:
				summary.Lost++
			case forwardtest.StatusExpired:
				summary.Expired++
			}
		}

		sig, err := r.eng.ProcessBar(ctx, bar)
		if err != nil && !errors.Is(err, features.ErrInsufficientHistory) {
			return nil, fmt.Errorf("process at %s: %w", bar.Timestamp.Format(time.RFC3339), err)
		}
		if sig != nil {
			summary.SignalsFired++
		}
		summary.BarsReplayed++

		// Rank as of the replay position, not the wall clock; otherwise the
		// outcome window would exclude everything in an old-dated replay.
		if r.rerankCadence > 0 && bar.Timestamp.Sub(lastRerank) >= r.rerankCadence {
			if _, err := r.eng.RerankAt(ctx, bar.Timestamp); err != nil {
				return nil, fmt.Errorf("rerank at %s: %w", bar.Timestamp.Format(time.RFC3339), err)
			}
			lastRerank = bar.Timestamp
		}
	}

	r.logger.Info().
		Str("instrument", instrument).
		Int("bars", summary.BarsReplayed).
		Int("signals", summary.SignalsFired).
		Int("won", summary.Won).
		Int("lost", summary.Lost).
		Int("expired", summary.Expired).
		Float64("win_rate", summary.WinRate()).
		Float64("total_return", summary.TotalReturn).
		Msg("replay complete")

	return summary, nil
}
