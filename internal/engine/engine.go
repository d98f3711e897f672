// Package engine wires the per-bar pipeline: features -> votes ->
// confluence -> sizing -> signal, plus the asynchronous resolution and
// ranking passes. The fast per-bar pass and the slow ranking pass are
// connected only through immutable gating-table snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/confluence"
	"github.com/quantfold/confluence/internal/domain/features"
	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/domain/ranker"
	"github.com/quantfold/confluence/internal/domain/regime"
	"github.com/quantfold/confluence/internal/domain/risk"
	"github.com/quantfold/confluence/internal/domain/strategy"
	"github.com/quantfold/confluence/internal/metrics"
	"github.com/quantfold/confluence/internal/persistence"
	"github.com/quantfold/confluence/internal/publish"
)

// ErrDuplicateActiveSignal rejects signal creation while the instrument
// already has an active signal. Rejected, never queued.
var ErrDuplicateActiveSignal = errors.New("duplicate active signal")

// Clock supplies current time so realtime and backtest modes share one
// code path.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// GatingSink receives each published gating snapshot, e.g. the redis
// store shared across worker processes.
type GatingSink interface {
	Publish(ctx context.Context, table *confluence.GatingTable) error
}

// Config holds the engine-level knobs not owned by a domain package.
type Config struct {
	MaxHistory       int           // bars retained per instrument
	FallbackFraction float64       // position fraction on InsufficientTradeHistory
	RankWindow       time.Duration // outcome lookback for the ranking pass
}

// DefaultConfig keeps 1000 bars, sizes 1% on a thin bucket, and ranks
// over 90 days of outcomes.
func DefaultConfig() Config {
	return Config{
		MaxHistory:       1000,
		FallbackFraction: 0.01,
		RankWindow:       90 * 24 * time.Hour,
	}
}

// RerankResult is the gating-table delta emitted by a ranking pass.
type RerankResult struct {
	Table    *confluence.GatingTable
	Records  []ranker.PerformanceRecord
	Demoted  []string // newly disabled since the previous snapshot
	Promoted []string // newly re-enabled
}

// Engine is the library entry point. One engine serves many instruments;
// per-instrument state is serialized while the gating table is shared as
// an immutable snapshot.
type Engine struct {
	cfg      Config
	features *features.Engine
	set      *strategy.Set
	agg      *confluence.Aggregator
	sizer    *risk.Sizer
	resolver *forwardtest.Resolver
	ranker   *ranker.Ranker
	repo     persistence.Repository
	pub      publish.Publisher
	sink     GatingSink
	clock    Clock
	met      *metrics.Metrics
	logger   zerolog.Logger

	gating atomic.Pointer[confluence.GatingTable]

	mu          sync.Mutex
	instruments map[string]*instrumentState

	bucketMu sync.RWMutex
	buckets  map[string]map[regime.Regime]risk.BucketStats
}

// instrumentState is all mutable per-instrument state; its lock also
// serializes signal creation for the instrument.
type instrumentState struct {
	mu     sync.Mutex
	series bars.Series
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPublisher replaces the default no-op event publisher.
func WithPublisher(p publish.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithGatingSink forwards published gating snapshots to an external store.
func WithGatingSink(s GatingSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock replaces the wall clock, for backtests and tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.met = m }
}

// New assembles an engine from its collaborators.
func New(cfg Config, fe *features.Engine, set *strategy.Set, agg *confluence.Aggregator,
	sizer *risk.Sizer, resolver *forwardtest.Resolver, rk *ranker.Ranker,
	repo persistence.Repository, opts ...Option) *Engine {

	e := &Engine{
		cfg:         cfg,
		features:    fe,
		set:         set,
		agg:         agg,
		sizer:       sizer,
		resolver:    resolver,
		ranker:      rk,
		repo:        repo,
		pub:         publish.Nop{},
		clock:       SystemClock{},
		logger:      log.With().Str("component", "engine").Logger(),
		instruments: map[string]*instrumentState{},
		buckets:     map[string]map[regime.Regime]risk.BucketStats{},
	}
	e.gating.Store(confluence.NewGatingTable())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) state(instrument string) *instrumentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.instruments[instrument]
	if !ok {
		st = &instrumentState{}
		e.instruments[instrument] = st
	}
	return st
}

// ProcessBar runs the per-bar pass for one instrument. Returns the fired
// signal, or nil when nothing fired. ErrInsufficientHistory and ErrDataGap
// surface to the caller; both are instrument-scoped and recoverable.
func (e *Engine) ProcessBar(ctx context.Context, bar bars.Bar) (*forwardtest.Signal, error) {
	st := e.state(bar.Instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	start := time.Now()
	series, err := st.series.Append(bar)
	if err != nil {
		return nil, err
	}
	if len(series) > e.cfg.MaxHistory {
		series = append(bars.Series(nil), series[len(series)-e.cfg.MaxHistory:]...)
	}
	st.series = series
	if e.met != nil {
		e.met.BarsProcessed.WithLabelValues(bar.Instrument).Inc()
		defer func() { e.met.ProcessLatency.Observe(time.Since(start).Seconds()) }()
	}

	fs, err := e.features.Compute(series)
	if err != nil {
		return nil, err
	}

	votes := e.set.Evaluate(series, fs)

	active, err := e.repo.Signals.GetActive(ctx, bar.Instrument)
	if err != nil {
		return nil, fmt.Errorf("lookup active signal: %w", err)
	}

	res := e.agg.Aggregate(votes, fs.Regime, e.gating.Load(), active != nil)
	if !res.Fired {
		if e.met != nil && res.HoldoffReason != "" {
			e.met.SignalsRejected.WithLabelValues(res.HoldoffReason).Inc()
		}
		e.logger.Debug().
			Str("instrument", bar.Instrument).
			Str("regime", fs.Regime.String()).
			Str("holdoff", res.HoldoffReason).
			Float64("score", res.Score).
			Msg("no signal")
		return nil, nil
	}

	sizing, err := e.sizer.Size(res.Direction, fs, e.bucketFor(res.Contributing, fs.Regime))
	if err != nil {
		if !errors.Is(err, risk.ErrInsufficientTradeHistory) {
			return nil, fmt.Errorf("size signal: %w", err)
		}
		// Conservative default rather than failing the signal.
		sizing.Fraction = e.cfg.FallbackFraction
		e.logger.Info().
			Str("instrument", bar.Instrument).
			Float64("fraction", sizing.Fraction).
			Msg("thin trade history, using fallback fraction")
	}

	sig := forwardtest.Signal{
		ID:             uuid.NewString(),
		Instrument:     bar.Instrument,
		OpenedAt:       bar.Timestamp,
		Direction:      res.Direction,
		CompositeScore: res.Score,
		Confidence:     res.Confidence,
		Contributing:   res.Contributing,
		EntryPrice:     fs.Close,
		PositionFrac:   sizing.Fraction,
		TPPrice:        sizing.TPPrice,
		SLPrice:        sizing.SLPrice,
		RegimeAtOpen:   fs.Regime,
		Status:         forwardtest.StatusActive,
	}

	// Compare-and-create under the instrument lock: the aggregator's check
	// above is advisory, this one is authoritative.
	active, err = e.repo.Signals.GetActive(ctx, bar.Instrument)
	if err != nil {
		return nil, fmt.Errorf("recheck active signal: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("instrument %s has signal %s: %w", bar.Instrument, active.ID, ErrDuplicateActiveSignal)
	}
	if err := e.repo.Signals.Create(ctx, sig); err != nil {
		return nil, fmt.Errorf("persist signal: %w", err)
	}

	if e.met != nil {
		e.met.SignalsFired.WithLabelValues(bar.Instrument, sig.Direction.String()).Inc()
	}
	if err := e.pub.PublishSignal(ctx, sig); err != nil {
		e.logger.Warn().Err(err).Str("signal", sig.ID).Msg("signal event publish failed")
	}
	e.logger.Info().
		Str("instrument", sig.Instrument).
		Str("signal", sig.ID).
		Str("direction", sig.Direction.String()).
		Float64("score", sig.CompositeScore).
		Float64("confidence", sig.Confidence).
		Float64("fraction", sig.PositionFrac).
		Msg("signal fired")

	return &sig, nil
}

// ResolveOutstanding applies one new bar to the instrument's active
// signal, if any. Returns the outcome on terminal resolution, nil while
// the signal stays active or none exists.
func (e *Engine) ResolveOutstanding(ctx context.Context, instrument string, bar bars.Bar) (*forwardtest.Outcome, error) {
	st := e.state(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	active, err := e.repo.Signals.GetActive(ctx, instrument)
	if err != nil {
		return nil, fmt.Errorf("lookup active signal: %w", err)
	}
	if active == nil {
		return nil, nil
	}

	outcome, err := e.resolver.Resolve(active, bar)
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return nil, nil
	}

	if err := e.repo.Signals.UpdateStatus(ctx, active.ID, outcome.Status); err != nil {
		return nil, fmt.Errorf("update signal status: %w", err)
	}
	if err := e.repo.Outcomes.Create(ctx, *outcome); err != nil {
		return nil, fmt.Errorf("persist outcome: %w", err)
	}

	if e.met != nil {
		e.met.OutcomesResolved.WithLabelValues(string(outcome.Status)).Inc()
	}
	if err := e.pub.PublishOutcome(ctx, *outcome); err != nil {
		e.logger.Warn().Err(err).Str("signal", outcome.SignalID).Msg("outcome event publish failed")
	}
	e.logger.Info().
		Str("instrument", instrument).
		Str("signal", outcome.SignalID).
		Str("status", string(outcome.Status)).
		Float64("return", outcome.RealizedReturn).
		Msg("signal resolved")

	return outcome, nil
}

// Rerank rebuilds performance records from the outcome history, publishes
// a fresh gating snapshot, and reports the delta. The outcome window ends
// at the engine clock's current time.
func (e *Engine) Rerank(ctx context.Context) (*RerankResult, error) {
	return e.RerankAt(ctx, e.clock.Now())
}

// RerankAt runs the ranking pass as of the given time. Backtests pass the
// replay position so the outcome window tracks the data being replayed
// rather than the wall clock.
func (e *Engine) RerankAt(ctx context.Context, now time.Time) (*RerankResult, error) {
	trades, err := e.loadTrades(ctx, now.Add(-e.cfg.RankWindow))
	if err != nil {
		return nil, err
	}

	prev := e.gating.Load()
	records, next := e.ranker.Rank(trades, prev, now)

	if err := e.repo.Performance.Replace(ctx, records); err != nil {
		return nil, fmt.Errorf("store performance records: %w", err)
	}

	e.bucketMu.Lock()
	e.buckets = ranker.Buckets(trades)
	e.bucketMu.Unlock()

	e.gating.Store(next)
	if e.sink != nil {
		if err := e.sink.Publish(ctx, next); err != nil {
			e.logger.Warn().Err(err).Int("version", next.Version).Msg("gating snapshot publish failed")
		}
	}

	res := &RerankResult{Table: next, Records: records}
	for id := range next.Disabled {
		if !prev.Disabled[id] {
			res.Demoted = append(res.Demoted, id)
		}
	}
	for id := range prev.Disabled {
		if !next.Disabled[id] {
			res.Promoted = append(res.Promoted, id)
		}
	}
	if e.met != nil {
		for _, rec := range records {
			e.met.RerankVerdicts.WithLabelValues(string(rec.Verdict)).Inc()
		}
	}
	e.logger.Info().
		Int("version", next.Version).
		Int("records", len(records)).
		Strs("demoted", res.Demoted).
		Strs("promoted", res.Promoted).
		Msg("rerank complete")

	return res, nil
}

// GatingTable returns the current published snapshot.
func (e *Engine) GatingTable() *confluence.GatingTable {
	return e.gating.Load()
}

// loadTrades joins outcomes with their signals, crediting each
// contributing strategy with the resolution.
func (e *Engine) loadTrades(ctx context.Context, since time.Time) ([]ranker.Trade, error) {
	outcomes, err := e.repo.Outcomes.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	trades := make([]ranker.Trade, 0, len(outcomes))
	for _, out := range outcomes {
		sig, err := e.repo.Signals.Get(ctx, out.SignalID)
		if err != nil {
			return nil, fmt.Errorf("load signal %s: %w", out.SignalID, err)
		}
		if sig == nil {
			continue
		}
		for _, strategyID := range sig.Contributing {
			trades = append(trades, ranker.Trade{
				SignalID:   out.SignalID,
				StrategyID: strategyID,
				Regime:     sig.RegimeAtOpen,
				ResolvedAt: out.ResolvedAt,
				Won:        out.Status == forwardtest.StatusWon,
				Return:     out.RealizedReturn,
			})
		}
	}
	return trades, nil
}

// bucketFor averages the contributing strategies' bucket stats for the
// signal's regime. Counts use the smallest contributor so a thin bucket
// is never masked by a deep one.
func (e *Engine) bucketFor(contributing []string, rgm regime.Regime) risk.BucketStats {
	e.bucketMu.RLock()
	defer e.bucketMu.RUnlock()

	var agg risk.BucketStats
	n := 0
	minCount := -1
	for _, id := range contributing {
		stats, ok := e.buckets[id][rgm]
		if !ok {
			minCount = 0
			continue
		}
		agg.WinRate += stats.WinRate
		agg.AvgWin += stats.AvgWin
		agg.AvgLoss += stats.AvgLoss
		n++
		if minCount < 0 || stats.TradeCount < minCount {
			minCount = stats.TradeCount
		}
	}
	if n == 0 {
		return risk.BucketStats{}
	}
	agg.WinRate /= float64(n)
	agg.AvgWin /= float64(n)
	agg.AvgLoss /= float64(n)
	agg.TradeCount = minCount
	return agg
}
