// Package confluence combines per-strategy votes into one composite score
// and a fire decision. Two gates apply before any vote counts: the
// ranker-published gating table (per strategy) and regime gating (per
// capability class). Every exclusion is recorded so no vote disappears
// silently.
package confluence

import (
	"time"

	"github.com/quantfold/confluence/internal/domain/regime"
	"github.com/quantfold/confluence/internal/domain/strategy"
)

// GatingTable is the ranker-published enable/disable state. Snapshots are
// immutable: the ranker builds a fresh table on each pass and publishes it
// whole; consumers never mutate one.
type GatingTable struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Disabled  map[string]bool `json:"disabled"`
}

// NewGatingTable returns an empty table with everything enabled.
func NewGatingTable() *GatingTable {
	return &GatingTable{Version: 0, Disabled: map[string]bool{}}
}

// Enabled reports whether the strategy may contribute votes. A nil table
// enables everything.
func (g *GatingTable) Enabled(strategyID string) bool {
	if g == nil {
		return true
	}
	return !g.Disabled[strategyID]
}

// Next derives a fresh snapshot with the given disabled set and a bumped
// version. The receiver is left untouched.
func (g *GatingTable) Next(disabled map[string]bool, now time.Time) *GatingTable {
	version := 1
	if g != nil {
		version = g.Version + 1
	}
	copied := make(map[string]bool, len(disabled))
	for id, v := range disabled {
		if v {
			copied[id] = true
		}
	}
	return &GatingTable{Version: version, UpdatedAt: now, Disabled: copied}
}

// Config holds the fire thresholds and optional per-strategy weights.
type Config struct {
	FireThreshold float64            // |composite| must exceed this
	MinConfidence float64            // agreement ratio must exceed this
	Weights       map[string]float64 // empty means equal weight 1.0
}

// Exclusion records why a vote did not count.
type Exclusion struct {
	StrategyID string
	Reason     string
}

// Result is the aggregation outcome for one bar. Fired is false on ties,
// sub-threshold scores, low confidence, or when an active signal already
// exists for the instrument.
type Result struct {
	Fired         bool
	Direction     strategy.Direction
	Score         float64
	Confidence    float64
	Contributing  []string
	Excluded      []Exclusion
	HoldoffReason string
}

// Aggregator scores votes against a gating table and the current regime.
type Aggregator struct {
	cfg     Config
	classes map[string]strategy.Class
}

// NewAggregator builds an aggregator for the registered strategy classes.
func NewAggregator(cfg Config, classes map[string]strategy.Class) *Aggregator {
	return &Aggregator{cfg: cfg, classes: classes}
}

func (a *Aggregator) weight(strategyID string) float64 {
	if w, ok := a.cfg.Weights[strategyID]; ok {
		return w
	}
	return 1.0
}

// classAllowed applies regime gating: momentum is excluded in
// mean-reverting markets, mean-reversion in trending ones. High-volatility
// and undefined regimes exclude nothing at the class level.
func classAllowed(class strategy.Class, rgm regime.Regime) bool {
	switch {
	case rgm == regime.MeanReverting && class == strategy.ClassMomentum:
		return false
	case rgm.Trending() && class == strategy.ClassMeanReversion:
		return false
	default:
		return true
	}
}

// Aggregate combines one bar's votes. hasActive blocks firing while an
// active signal exists for the instrument; the at-most-one-active
// invariant is enforced here, before sizing ever runs.
func (a *Aggregator) Aggregate(votes []strategy.Vote, rgm regime.Regime, gate *GatingTable, hasActive bool) Result {
	res := Result{}

	var score float64
	var longVotes, shortVotes, counted int
	for _, v := range votes {
		if !gate.Enabled(v.StrategyID) {
			res.Excluded = append(res.Excluded, Exclusion{v.StrategyID, "disabled by ranker"})
			continue
		}
		if !classAllowed(a.classes[v.StrategyID], rgm) {
			res.Excluded = append(res.Excluded, Exclusion{v.StrategyID, "regime gated: " + rgm.String()})
			continue
		}
		counted++
		switch v.Direction {
		case strategy.Long:
			longVotes++
			score += a.weight(v.StrategyID)
			res.Contributing = append(res.Contributing, v.StrategyID)
		case strategy.Short:
			shortVotes++
			score -= a.weight(v.StrategyID)
			res.Contributing = append(res.Contributing, v.StrategyID)
		}
	}

	// Confidence measures agreement with the side the weighted score picks;
	// with uneven weights that side can hold fewer votes than the other.
	res.Score = score
	if counted > 0 {
		var agreeing int
		switch {
		case score > 0:
			agreeing = longVotes
		case score < 0:
			agreeing = shortVotes
		default:
			agreeing = longVotes
			if shortVotes > longVotes {
				agreeing = shortVotes
			}
		}
		res.Confidence = float64(agreeing) / float64(counted)
	}

	switch {
	case counted == 0:
		res.HoldoffReason = "no votes survived gating"
	case score == 0 || longVotes == shortVotes:
		res.HoldoffReason = "tie"
	case score > 0 && score <= a.cfg.FireThreshold,
		score < 0 && -score <= a.cfg.FireThreshold:
		res.HoldoffReason = "below fire threshold"
	case res.Confidence <= a.cfg.MinConfidence:
		res.HoldoffReason = "below confidence minimum"
	case hasActive:
		res.HoldoffReason = "active signal exists"
	default:
		res.Fired = true
		if score > 0 {
			res.Direction = strategy.Long
		} else {
			res.Direction = strategy.Short
		}
	}

	// Contributing only names the strategies behind a fired signal's side.
	if res.Fired {
		side := strategy.Long
		if res.Score < 0 {
			side = strategy.Short
		}
		res.Contributing = res.Contributing[:0]
		for _, v := range votes {
			if v.Direction == side && gate.Enabled(v.StrategyID) && classAllowed(a.classes[v.StrategyID], rgm) {
				res.Contributing = append(res.Contributing, v.StrategyID)
			}
		}
	}

	return res
}
