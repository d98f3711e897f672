// Package ranker periodically rebuilds strategy performance records from
// the outcome history and turns them into promote/demote/retain verdicts.
// Verdicts feed the confluence gating table; demotion is reversible on
// the next pass because the table is rebuilt from scratch each time.
package ranker

import (
	"sort"
	"time"

	"github.com/quantfold/confluence/internal/domain/confluence"
	"github.com/quantfold/confluence/internal/domain/regime"
	"github.com/quantfold/confluence/internal/domain/risk"
)

// Trade is one strategy's credited share of a resolved signal. Every
// strategy that contributed to a signal is credited with its outcome.
type Trade struct {
	SignalID   string
	StrategyID string
	Regime     regime.Regime
	ResolvedAt time.Time
	Won        bool
	Return     float64
}

// Significance is a three-way verdict: "insufficient data" is distinct
// from "not significant".
type Significance string

const (
	SigSignificant    Significance = "significant"
	SigNotSignificant Significance = "not_significant"
	SigInsufficient   Significance = "insufficient_data"
)

// Verdict is the ranking decision for one strategy.
type Verdict string

const (
	VerdictPromote Verdict = "promote"
	VerdictDemote  Verdict = "demote"
	VerdictRetain  Verdict = "retain"
)

// RegimeBucket is the per-regime slice of a strategy's record.
type RegimeBucket struct {
	TradeCount int
	WinRate    float64
}

// PerformanceRecord is the periodically rebuilt per-strategy record.
// Superseded records are discarded, not versioned.
type PerformanceRecord struct {
	StrategyID   string
	WindowStart  time.Time
	WindowEnd    time.Time
	TradeCount   int
	WinRate      float64
	PValue       float64
	Significance Significance
	Verdict      Verdict
	Correlations map[string]float64
	Buckets      map[regime.Regime]RegimeBucket
}

// Config holds the ranking thresholds.
type Config struct {
	MinTrades     int     // below this: insufficient data, no demotion on p-value
	PThreshold    float64 // significance level for the exact binomial test
	CorrThreshold float64 // pairwise correlation above this flags redundancy
}

// DefaultConfig returns the standard 30-trade / p<0.05 / 0.8-correlation
// thresholds.
func DefaultConfig() Config {
	return Config{MinTrades: 30, PThreshold: 0.05, CorrThreshold: 0.8}
}

// Ranker rebuilds records from scratch on each pass.
type Ranker struct {
	cfg Config
}

func New(cfg Config) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank rebuilds performance records for every strategy seen in the trade
// history and derives the next gating table from the previous one. The
// previous table is only read, never mutated.
func (r *Ranker) Rank(trades []Trade, prev *confluence.GatingTable, now time.Time) ([]PerformanceRecord, *confluence.GatingTable) {
	byStrategy := map[string][]Trade{}
	for _, t := range trades {
		byStrategy[t.StrategyID] = append(byStrategy[t.StrategyID], t)
	}

	ids := make([]string, 0, len(byStrategy))
	for id := range byStrategy {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]PerformanceRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, r.buildRecord(id, byStrategy[id]))
	}

	r.fillCorrelations(records, byStrategy)

	demoted := map[string]bool{}

	// Statistically significant underperformers are demoted outright.
	for _, rec := range records {
		if rec.Significance == SigSignificant && rec.WinRate < 0.5 {
			demoted[rec.StrategyID] = true
		}
	}

	// Redundant pairs: the weaker win rate goes.
	for i := range records {
		for other, corr := range records[i].Correlations {
			if corr <= r.cfg.CorrThreshold {
				continue
			}
			weaker := r.weakerOf(records, records[i].StrategyID, other)
			demoted[weaker] = true
		}
	}

	for i := range records {
		switch {
		case demoted[records[i].StrategyID]:
			records[i].Verdict = VerdictDemote
		case prev != nil && prev.Disabled[records[i].StrategyID]:
			records[i].Verdict = VerdictPromote
		default:
			records[i].Verdict = VerdictRetain
		}
	}

	return records, prev.Next(demoted, now)
}

func (r *Ranker) buildRecord(id string, trades []Trade) PerformanceRecord {
	rec := PerformanceRecord{
		StrategyID:   id,
		TradeCount:   len(trades),
		Correlations: map[string]float64{},
		Buckets:      map[regime.Regime]RegimeBucket{},
	}

	wins := 0
	for _, t := range trades {
		if rec.WindowStart.IsZero() || t.ResolvedAt.Before(rec.WindowStart) {
			rec.WindowStart = t.ResolvedAt
		}
		if t.ResolvedAt.After(rec.WindowEnd) {
			rec.WindowEnd = t.ResolvedAt
		}
		if t.Won {
			wins++
		}
		b := rec.Buckets[t.Regime]
		b.TradeCount++
		if t.Won {
			b.WinRate = (b.WinRate*float64(b.TradeCount-1) + 1) / float64(b.TradeCount)
		} else {
			b.WinRate = b.WinRate * float64(b.TradeCount-1) / float64(b.TradeCount)
		}
		rec.Buckets[t.Regime] = b
	}

	if rec.TradeCount > 0 {
		rec.WinRate = float64(wins) / float64(rec.TradeCount)
	}
	rec.PValue = BinomTestTwoSided(rec.TradeCount, wins, 0.5)

	switch {
	case rec.TradeCount < r.cfg.MinTrades:
		rec.Significance = SigInsufficient
	case rec.PValue < r.cfg.PThreshold:
		rec.Significance = SigSignificant
	default:
		rec.Significance = SigNotSignificant
	}
	return rec
}

// fillCorrelations computes pairwise correlation over the per-trade return
// series of signals both strategies contributed to, aligned by signal ID.
func (r *Ranker) fillCorrelations(records []PerformanceRecord, byStrategy map[string][]Trade) {
	returnsBySignal := func(trades []Trade) map[string]float64 {
		out := make(map[string]float64, len(trades))
		for _, t := range trades {
			out[t.SignalID] = t.Return
		}
		return out
	}

	for i := range records {
		ri := returnsBySignal(byStrategy[records[i].StrategyID])
		for j := i + 1; j < len(records); j++ {
			rj := returnsBySignal(byStrategy[records[j].StrategyID])

			shared := make([]string, 0)
			for sid := range ri {
				if _, ok := rj[sid]; ok {
					shared = append(shared, sid)
				}
			}
			if len(shared) < 2 {
				continue
			}
			sort.Strings(shared)
			x := make([]float64, len(shared))
			y := make([]float64, len(shared))
			for k, sid := range shared {
				x[k] = ri[sid]
				y[k] = rj[sid]
			}
			if corr, ok := Pearson(x, y); ok {
				records[i].Correlations[records[j].StrategyID] = corr
				records[j].Correlations[records[i].StrategyID] = corr
			}
		}
	}
}

func (r *Ranker) weakerOf(records []PerformanceRecord, a, b string) string {
	var ra, rb *PerformanceRecord
	for i := range records {
		switch records[i].StrategyID {
		case a:
			ra = &records[i]
		case b:
			rb = &records[i]
		}
	}
	if ra == nil || rb == nil {
		return a
	}
	if ra.WinRate < rb.WinRate {
		return a
	}
	if rb.WinRate < ra.WinRate {
		return b
	}
	// Equal win rates: demote the smaller sample.
	if ra.TradeCount <= rb.TradeCount {
		return a
	}
	return b
}

// Buckets aggregates the trailing trade history into the per
// strategy/regime stats the risk sizer consumes.
func Buckets(trades []Trade) map[string]map[regime.Regime]risk.BucketStats {
	type acc struct {
		count, wins     int
		sumWin, sumLoss float64
		nWin, nLoss     int
	}
	accs := map[string]map[regime.Regime]*acc{}
	for _, t := range trades {
		if accs[t.StrategyID] == nil {
			accs[t.StrategyID] = map[regime.Regime]*acc{}
		}
		a := accs[t.StrategyID][t.Regime]
		if a == nil {
			a = &acc{}
			accs[t.StrategyID][t.Regime] = a
		}
		a.count++
		if t.Won {
			a.wins++
			a.sumWin += t.Return
			a.nWin++
		} else if t.Return < 0 {
			a.sumLoss += -t.Return
			a.nLoss++
		}
	}

	out := map[string]map[regime.Regime]risk.BucketStats{}
	for id, byRegime := range accs {
		out[id] = map[regime.Regime]risk.BucketStats{}
		for rgm, a := range byRegime {
			stats := risk.BucketStats{TradeCount: a.count}
			if a.count > 0 {
				stats.WinRate = float64(a.wins) / float64(a.count)
			}
			if a.nWin > 0 {
				stats.AvgWin = a.sumWin / float64(a.nWin)
			}
			if a.nLoss > 0 {
				stats.AvgLoss = a.sumLoss / float64(a.nLoss)
			}
			out[id][rgm] = stats
		}
	}
	return out
}
