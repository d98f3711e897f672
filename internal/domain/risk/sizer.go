// Package risk converts a fired signal into a position size and TP/SL
// levels. Size comes from half-Kelly over the strategy/regime bucket's
// trailing record; stop distance scales with the EGARCH volatility
// forecast so risk per trade stays roughly constant as volatility moves.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/quantfold/confluence/internal/domain/features"
	"github.com/quantfold/confluence/internal/domain/strategy"
)

// ErrInsufficientTradeHistory signals that the bucket lacks a statistical
// base. Recoverable: callers fall back to a conservative fixed fraction
// rather than failing the signal.
var ErrInsufficientTradeHistory = errors.New("insufficient trade history")

// BucketStats is the trailing win/loss record for one strategy/regime
// bucket, maintained from resolved outcomes.
type BucketStats struct {
	TradeCount int
	WinRate    float64
	AvgWin     float64 // mean positive realized return
	AvgLoss    float64 // mean absolute negative realized return
}

// Config holds the sizing parameters.
type Config struct {
	MinTrades      int     // bucket trades required for Kelly sizing
	KellyScale     float64 // 0.5 = half-Kelly
	MaxFraction    float64 // hard cap on position fraction
	StopVolMult    float64 // stop distance = mult * forecast vol * price
	RewardRisk     float64 // TP distance = RewardRisk * stop distance
	TargetVol      float64 // forecast vol at which Kelly applies unscaled
	MinStopPct     float64 // floor on stop distance as fraction of price
}

// DefaultConfig mirrors the standard settings: half-Kelly, 1.5x vol stops,
// 2:1 reward/risk, 30-trade minimum.
func DefaultConfig() Config {
	return Config{
		MinTrades:   30,
		KellyScale:  0.5,
		MaxFraction: 0.25,
		StopVolMult: 1.5,
		RewardRisk:  2.0,
		TargetVol:   0.02,
		MinStopPct:  0.005,
	}
}

// Sizing is the sizer's output for one fired signal.
type Sizing struct {
	Fraction float64
	TPPrice  float64
	SLPrice  float64
	StopDist float64
}

// Sizer is stateless; bucket stats come from the caller, which owns the
// outcome history.
type Sizer struct {
	cfg Config
}

func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Kelly returns the clamped half-Kelly fraction for the bucket. The raw
// fraction is winRate*(avgWin/avgLoss) - (1-winRate); negative raw Kelly
// clamps to zero, never errors.
func (s *Sizer) Kelly(stats BucketStats) float64 {
	if stats.AvgLoss <= 0 {
		return 0
	}
	raw := stats.WinRate*(stats.AvgWin/stats.AvgLoss) - (1 - stats.WinRate)
	if raw <= 0 {
		return 0
	}
	frac := s.cfg.KellyScale * raw
	return math.Min(frac, s.cfg.MaxFraction)
}

// Size computes position fraction and TP/SL prices for a fired signal.
// Returns ErrInsufficientTradeHistory when the bucket is below the trade
// minimum; TP/SL in the returned Sizing are still valid in that case so
// the caller can book a conservative default fraction.
func (s *Sizer) Size(dir strategy.Direction, fs *features.FeatureSet, stats BucketStats) (Sizing, error) {
	if dir == strategy.Flat {
		return Sizing{}, fmt.Errorf("flat direction is not sizeable")
	}

	entry := fs.Close
	stopDist := s.cfg.StopVolMult * fs.ForecastVol * entry
	if minDist := s.cfg.MinStopPct * entry; stopDist < minDist {
		stopDist = minDist
	}
	tpDist := s.cfg.RewardRisk * stopDist

	out := Sizing{StopDist: stopDist}
	if dir == strategy.Long {
		out.SLPrice = entry - stopDist
		out.TPPrice = entry + tpDist
	} else {
		out.SLPrice = entry + stopDist
		out.TPPrice = entry - tpDist
	}

	if stats.TradeCount < s.cfg.MinTrades {
		return out, fmt.Errorf("bucket has %d of %d trades: %w", stats.TradeCount, s.cfg.MinTrades, ErrInsufficientTradeHistory)
	}

	frac := s.Kelly(stats)

	// Higher forecast volatility shrinks the fraction so dollar risk per
	// trade stays level.
	if s.cfg.TargetVol > 0 && fs.ForecastVol > s.cfg.TargetVol {
		frac *= s.cfg.TargetVol / fs.ForecastVol
	}

	out.Fraction = frac
	return out, nil
}
