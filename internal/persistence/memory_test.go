package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/domain/ranker"
	"github.com/quantfold/confluence/internal/domain/strategy"
)

func testSignal(id, instrument string, at time.Time) forwardtest.Signal {
	return forwardtest.Signal{
		ID:           id,
		Instrument:   instrument,
		OpenedAt:     at,
		Direction:    strategy.Long,
		EntryPrice:   100,
		TPPrice:      110,
		SLPrice:      95,
		Contributing: []string{"breakout"},
		Status:       forwardtest.StatusActive,
	}
}

func TestMemorySignalRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	t0 := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	// Empty repo: no active signal, unknown ID is nil not error.
	active, err := repo.Signals.GetActive(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Nil(t, active)
	got, err := repo.Signals.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Signals.Create(ctx, testSignal("s1", "BTC-USD", t0)))
	assert.Error(t, repo.Signals.Create(ctx, testSignal("s1", "BTC-USD", t0)))

	active, err = repo.Signals.GetActive(ctx, "BTC-USD")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s1", active.ID)

	// Other instruments are unaffected.
	active, err = repo.Signals.GetActive(ctx, "ETH-USD")
	require.NoError(t, err)
	assert.Nil(t, active)

	// Terminal status clears the active slot.
	require.NoError(t, repo.Signals.UpdateStatus(ctx, "s1", forwardtest.StatusWon))
	active, err = repo.Signals.GetActive(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Nil(t, active)

	got, err = repo.Signals.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, forwardtest.StatusWon, got.Status)

	assert.Error(t, repo.Signals.UpdateStatus(ctx, "missing", forwardtest.StatusWon))
}

func TestMemorySignalRepo_ListByInstrument(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	t0 := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3"} {
		sig := testSignal(id, "BTC-USD", t0.Add(time.Duration(i)*time.Hour))
		if i > 0 {
			sig.Status = forwardtest.StatusWon
		}
		require.NoError(t, repo.Signals.Create(ctx, sig))
	}
	require.NoError(t, repo.Signals.Create(ctx, testSignal("e1", "ETH-USD", t0)))

	list, err := repo.Signals.ListByInstrument(ctx, "BTC-USD", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s3", list[0].ID) // newest first
	assert.Equal(t, "s2", list[1].ID)

	all, err := repo.Signals.ListByInstrument(ctx, "BTC-USD", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryOutcomeRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	t0 := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	out1 := forwardtest.Outcome{SignalID: "s1", ResolvedAt: t0, Status: forwardtest.StatusWon, RealizedReturn: 0.1}
	out2 := forwardtest.Outcome{SignalID: "s2", ResolvedAt: t0.Add(48 * time.Hour), Status: forwardtest.StatusLost, RealizedReturn: -0.05}

	require.NoError(t, repo.Outcomes.Create(ctx, out2))
	require.NoError(t, repo.Outcomes.Create(ctx, out1))

	// One outcome per signal, ever.
	assert.Error(t, repo.Outcomes.Create(ctx, out1))

	all, err := repo.Outcomes.ListSince(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].SignalID) // oldest first

	recent, err := repo.Outcomes.ListSince(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "s2", recent[0].SignalID)
}

func TestMemoryPerformanceRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first := []ranker.PerformanceRecord{{StrategyID: "breakout", TradeCount: 40}}
	require.NoError(t, repo.Performance.Replace(ctx, first))

	got, err := repo.Performance.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "breakout", got[0].StrategyID)

	// Replace discards the previous generation entirely.
	second := []ranker.PerformanceRecord{
		{StrategyID: "dip_buy", TradeCount: 10},
		{StrategyID: "rsi_reversal", TradeCount: 12},
	}
	require.NoError(t, repo.Performance.Replace(ctx, second))
	got, err = repo.Performance.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
