package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/confluence"
	"github.com/quantfold/confluence/internal/domain/features"
	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/domain/ranker"
	"github.com/quantfold/confluence/internal/domain/risk"
	"github.com/quantfold/confluence/internal/domain/strategy"
	"github.com/quantfold/confluence/internal/persistence"
)

// stubStrategy votes a fixed direction on every bar.
type stubStrategy struct {
	id    string
	class strategy.Class
	dir   strategy.Direction
}

func (s stubStrategy) ID() string   { return s.id }
func (s stubStrategy) Name() string { return s.id }

func (s stubStrategy) Class() strategy.Class { return s.class }

func (s stubStrategy) Evaluate(bars.Series, *features.FeatureSet) strategy.Direction {
	return s.dir
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type capturingPublisher struct {
	signals  []forwardtest.Signal
	outcomes []forwardtest.Outcome
}

func (p *capturingPublisher) PublishSignal(_ context.Context, sig forwardtest.Signal) error {
	p.signals = append(p.signals, sig)
	return nil
}

func (p *capturingPublisher) PublishOutcome(_ context.Context, out forwardtest.Outcome) error {
	p.outcomes = append(p.outcomes, out)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

type capturingSink struct {
	tables []*confluence.GatingTable
}

func (s *capturingSink) Publish(_ context.Context, table *confluence.GatingTable) error {
	s.tables = append(s.tables, table)
	return nil
}

var engT0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func genBar(i int, instrument string) bars.Bar {
	base := 100 + 0.05*float64(i)
	close := base + 2*math.Sin(float64(i)/7)
	return bars.Bar{
		Instrument: instrument,
		Timestamp:  engT0.Add(time.Duration(i) * time.Hour),
		Open:       close - 0.1,
		High:       close + 0.5,
		Low:        close - 0.5,
		Close:      close,
		Volume:     100,
	}
}

// newTestEngine wires an engine with one always-long strategy per class so
// a signal fires in any regime once the lookback fills.
func newTestEngine(t *testing.T, repo persistence.Repository, opts ...Option) *Engine {
	t.Helper()
	set := strategy.NewSet(
		stubStrategy{id: "alpha", class: strategy.ClassMomentum, dir: strategy.Long},
		stubStrategy{id: "omega", class: strategy.ClassMeanReversion, dir: strategy.Long},
	)
	fe := features.NewEngine(features.Config{})
	agg := confluence.NewAggregator(confluence.Config{FireThreshold: 0.5, MinConfidence: 0.5}, set.Classes())
	sizer := risk.NewSizer(risk.DefaultConfig())
	resolver := forwardtest.NewResolver(30 * 24 * time.Hour)
	rk := ranker.New(ranker.DefaultConfig())

	opts = append([]Option{WithClock(fixedClock{at: engT0.Add(300 * time.Hour)})}, opts...)
	return New(DefaultConfig(), fe, set, agg, sizer, resolver, rk, repo, opts...)
}

// warmUp feeds bars [0, n) and returns the first fired signal, if any.
func warmUp(t *testing.T, eng *Engine, n int) *forwardtest.Signal {
	t.Helper()
	ctx := context.Background()
	var fired *forwardtest.Signal
	for i := 0; i < n; i++ {
		sig, err := eng.ProcessBar(ctx, genBar(i, "BTC-USD"))
		if err != nil {
			require.ErrorIs(t, err, features.ErrInsufficientHistory)
			continue
		}
		if sig != nil && fired == nil {
			fired = sig
		}
	}
	return fired
}

func TestEngine_ProcessBarWarmupThenFire(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	pub := &capturingPublisher{}
	eng := newTestEngine(t, repo, WithPublisher(pub))
	ctx := context.Background()

	// Below the lookback everything is warmup.
	for i := 0; i < 150; i++ {
		sig, err := eng.ProcessBar(ctx, genBar(i, "BTC-USD"))
		assert.ErrorIs(t, err, features.ErrInsufficientHistory)
		assert.Nil(t, sig)
	}

	// Once the window fills the stub votes fire immediately.
	var fired *forwardtest.Signal
	for i := 150; i < 205 && fired == nil; i++ {
		sig, err := eng.ProcessBar(ctx, genBar(i, "BTC-USD"))
		if err != nil {
			require.ErrorIs(t, err, features.ErrInsufficientHistory)
			continue
		}
		fired = sig
	}
	require.NotNil(t, fired)

	assert.Equal(t, "BTC-USD", fired.Instrument)
	assert.Equal(t, strategy.Long, fired.Direction)
	assert.Equal(t, forwardtest.StatusActive, fired.Status)
	assert.NotEmpty(t, fired.ID)

	// Regime gating may exclude one class, but never both.
	assert.NotEmpty(t, fired.Contributing)
	assert.Subset(t, []string{"alpha", "omega"}, fired.Contributing)
	assert.Greater(t, fired.TPPrice, fired.EntryPrice)
	assert.Less(t, fired.SLPrice, fired.EntryPrice)

	// No trade history yet: the conservative fallback fraction applies.
	assert.Equal(t, 0.01, fired.PositionFrac)

	// The event went out and the signal is the instrument's active one.
	require.Len(t, pub.signals, 1)
	active, err := repo.Signals.GetActive(ctx, "BTC-USD")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, fired.ID, active.ID)
}

func TestEngine_AtMostOneActiveSignal(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	eng := newTestEngine(t, repo)
	ctx := context.Background()

	fired := warmUp(t, eng, 210)
	require.NotNil(t, fired)

	// Stub strategies keep voting long, but the active signal holds firing
	// off; a second signal is never created.
	next := genBar(210, "BTC-USD")
	next.High = next.Close + 0.1
	next.Low = next.Close - 0.1
	sig, err := eng.ProcessBar(ctx, next)
	require.NoError(t, err)
	assert.Nil(t, sig)

	list, err := repo.Signals.ListByInstrument(ctx, "BTC-USD", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// raceSignalRepo simulates a signal appearing between the advisory check
// and the authoritative compare-and-create.
type raceSignalRepo struct {
	persistence.SignalRepo
	calls   int
	planted forwardtest.Signal
}

func (r *raceSignalRepo) GetActive(ctx context.Context, instrument string) (*forwardtest.Signal, error) {
	r.calls++
	if r.calls >= 2 {
		copied := r.planted
		return &copied, nil
	}
	return r.SignalRepo.GetActive(ctx, instrument)
}

func TestEngine_DuplicateActiveRace(t *testing.T) {
	mem := persistence.NewMemoryRepository()
	race := &raceSignalRepo{
		SignalRepo: mem.Signals,
		planted: forwardtest.Signal{
			ID:         "planted",
			Instrument: "BTC-USD",
			Status:     forwardtest.StatusActive,
		},
	}
	repo := persistence.Repository{Signals: race, Outcomes: mem.Outcomes, Performance: mem.Performance}
	eng := newTestEngine(t, repo)
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 210; i++ {
		race.calls = 0
		if _, err := eng.ProcessBar(ctx, genBar(i, "BTC-USD")); err != nil {
			lastErr = err
		}
	}
	assert.ErrorIs(t, lastErr, ErrDuplicateActiveSignal)
}

func TestEngine_DataGap(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	eng := newTestEngine(t, repo)
	ctx := context.Background()

	_, err := eng.ProcessBar(ctx, genBar(5, "BTC-USD"))
	require.ErrorIs(t, err, features.ErrInsufficientHistory)

	// Same timestamp again: the feed regressed.
	_, err = eng.ProcessBar(ctx, genBar(5, "BTC-USD"))
	assert.ErrorIs(t, err, bars.ErrDataGap)
}

func TestEngine_ResolveOutstanding(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	pub := &capturingPublisher{}
	eng := newTestEngine(t, repo, WithPublisher(pub))
	ctx := context.Background()

	fired := warmUp(t, eng, 210)
	require.NotNil(t, fired)

	// No touch: signal stays active.
	flat := genBar(210, "BTC-USD")
	flat.High = fired.EntryPrice
	flat.Low = fired.EntryPrice - 0.1
	flat.Close = fired.EntryPrice
	out, err := eng.ResolveOutstanding(ctx, "BTC-USD", flat)
	require.NoError(t, err)
	assert.Nil(t, out)

	// A bar through the take-profit resolves the signal won.
	winner := genBar(211, "BTC-USD")
	winner.High = fired.TPPrice + 1
	winner.Low = fired.EntryPrice
	winner.Close = fired.TPPrice
	out, err = eng.ResolveOutstanding(ctx, "BTC-USD", winner)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, forwardtest.StatusWon, out.Status)
	assert.Equal(t, fired.ID, out.SignalID)
	assert.Greater(t, out.RealizedReturn, 0.0)

	require.Len(t, pub.outcomes, 1)

	// Active slot is free again; stored status is terminal.
	active, err := repo.Signals.GetActive(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Nil(t, active)
	stored, err := repo.Signals.Get(ctx, fired.ID)
	require.NoError(t, err)
	assert.Equal(t, forwardtest.StatusWon, stored.Status)

	// Nothing left to resolve.
	out, err = eng.ResolveOutstanding(ctx, "BTC-USD", genBar(212, "BTC-USD"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEngine_Rerank(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	sink := &capturingSink{}
	eng := newTestEngine(t, repo, WithGatingSink(sink))
	ctx := context.Background()

	fired := warmUp(t, eng, 210)
	require.NotNil(t, fired)

	winner := genBar(211, "BTC-USD")
	winner.High = fired.TPPrice + 1
	winner.Low = fired.EntryPrice
	winner.Close = fired.TPPrice
	_, err := eng.ResolveOutstanding(ctx, "BTC-USD", winner)
	require.NoError(t, err)

	res, err := eng.Rerank(ctx)
	require.NoError(t, err)

	// One outcome credited to each contributing strategy.
	require.Len(t, res.Records, len(fired.Contributing))
	for _, rec := range res.Records {
		assert.Equal(t, 1, rec.TradeCount)
		assert.Equal(t, ranker.SigInsufficient, rec.Significance)
		assert.Equal(t, ranker.VerdictRetain, rec.Verdict)
	}
	assert.Empty(t, res.Demoted)
	assert.Empty(t, res.Promoted)

	// Snapshot published to the sink and visible via the engine.
	assert.Equal(t, 1, res.Table.Version)
	require.Len(t, sink.tables, 1)
	assert.Equal(t, res.Table, sink.tables[0])
	assert.Equal(t, res.Table, eng.GatingTable())

	// Records landed in the performance store.
	stored, err := repo.Performance.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, len(fired.Contributing))
}

func TestEngine_InstrumentsAreIndependent(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	eng := newTestEngine(t, repo)
	ctx := context.Background()

	firedBTC := warmUp(t, eng, 210)
	require.NotNil(t, firedBTC)

	// The active BTC signal does not block an ETH signal.
	var firedETH *forwardtest.Signal
	for i := 0; i < 210 && firedETH == nil; i++ {
		sig, err := eng.ProcessBar(ctx, genBar(i, "ETH-USD"))
		if err != nil {
			require.ErrorIs(t, err, features.ErrInsufficientHistory)
			continue
		}
		firedETH = sig
	}
	require.NotNil(t, firedETH)
	assert.Equal(t, "ETH-USD", firedETH.Instrument)
	assert.NotEqual(t, firedBTC.ID, firedETH.ID)
}
