// Package strategy defines the signal generators. Each strategy is a pure,
// deterministic function of (bar series, feature set) producing one Vote
// per bar, evaluated in isolation from every other strategy. Determinism
// is required: the ranker's correlation analysis is meaningless otherwise.
package strategy

import (
	"time"

	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/features"
)

// Direction is a per-bar directional vote.
type Direction int

const (
	Flat  Direction = 0
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Class is the capability class a strategy belongs to. Regime gating
// operates on classes, not individual strategies.
type Class string

const (
	ClassMomentum      Class = "momentum"
	ClassMeanReversion Class = "mean_reversion"
)

// Vote is a single strategy's directional opinion for one bar. Produced
// once per strategy per bar, never mutated.
type Vote struct {
	StrategyID string
	Instrument string
	Timestamp  time.Time
	Direction  Direction
}

// Strategy is the single capability every signal generator implements.
type Strategy interface {
	ID() string
	Name() string
	Class() Class
	Evaluate(series bars.Series, fs *features.FeatureSet) Direction
}

// Set is the fixed collection of registered strategies. Registration
// happens once at startup; the set itself carries no mutable state.
type Set struct {
	strategies []Strategy
	classes    map[string]Class
}

// NewSet registers the given strategies.
func NewSet(strategies ...Strategy) *Set {
	classes := make(map[string]Class, len(strategies))
	for _, s := range strategies {
		classes[s.ID()] = s.Class()
	}
	return &Set{strategies: strategies, classes: classes}
}

// DefaultSet registers the six standard strategies: three momentum, three
// mean-reversion.
func DefaultSet() *Set {
	return NewSet(
		Breakout{Lookback: 20},
		TrendFollowing{},
		VolumeSpike{Window: 20, Mult: 2.5},
		RSIReversal{Oversold: 30, Overbought: 70},
		BollingerReversion{},
		DipBuy{Lookback: 20, MinDrawdown: 0.05, MaxRSI: 40},
	)
}

// Evaluate runs every strategy against the bar and collects their votes.
func (s *Set) Evaluate(series bars.Series, fs *features.FeatureSet) []Vote {
	votes := make([]Vote, 0, len(s.strategies))
	for _, strat := range s.strategies {
		votes = append(votes, Vote{
			StrategyID: strat.ID(),
			Instrument: fs.Instrument,
			Timestamp:  fs.Timestamp,
			Direction:  strat.Evaluate(series, fs),
		})
	}
	return votes
}

// Classes maps strategy IDs to their capability class.
func (s *Set) Classes() map[string]Class {
	return s.classes
}

// IDs lists the registered strategy IDs in registration order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.strategies))
	for i, strat := range s.strategies {
		ids[i] = strat.ID()
	}
	return ids
}
