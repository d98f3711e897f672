package strategy

import (
	"math"

	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/features"
)

// Breakout votes long when the close clears the highest high of the prior
// Lookback bars, short when it breaks the lowest low.
type Breakout struct {
	Lookback int
}

func (Breakout) ID() string   { return "breakout" }
func (Breakout) Name() string { return "Channel Breakout" }
func (Breakout) Class() Class { return ClassMomentum }

func (b Breakout) Evaluate(series bars.Series, fs *features.FeatureSet) Direction {
	n := len(series)
	if n < b.Lookback+1 {
		return Flat
	}
	prior := series[n-1-b.Lookback : n-1]
	hh, ll := prior[0].High, prior[0].Low
	for _, bar := range prior[1:] {
		hh = math.Max(hh, bar.High)
		ll = math.Min(ll, bar.Low)
	}
	last := series.Last()
	switch {
	case last.Close > hh:
		return Long
	case last.Close < ll:
		return Short
	default:
		return Flat
	}
}

// TrendFollowing votes with the Supertrend direction when MACD momentum
// confirms it and the Ichimoku cloud does not contradict.
type TrendFollowing struct{}

func (TrendFollowing) ID() string   { return "trend_following" }
func (TrendFollowing) Name() string { return "Supertrend Trend Following" }
func (TrendFollowing) Class() Class { return ClassMomentum }

func (TrendFollowing) Evaluate(_ bars.Series, fs *features.FeatureSet) Direction {
	cloudTop := math.Max(fs.Ichimoku.SenkouA, fs.Ichimoku.SenkouB)
	cloudBot := math.Min(fs.Ichimoku.SenkouA, fs.Ichimoku.SenkouB)
	if fs.Supertrend.Bullish && fs.MACD.Histogram > 0 && fs.Close > cloudBot {
		return Long
	}
	if !fs.Supertrend.Bullish && fs.MACD.Histogram < 0 && fs.Close < cloudTop {
		return Short
	}
	return Flat
}

// VolumeSpike votes in the bar's direction when volume exceeds Mult times
// its trailing average, reading the spike as initiative flow.
type VolumeSpike struct {
	Window int
	Mult   float64
}

func (VolumeSpike) ID() string   { return "volume_spike" }
func (VolumeSpike) Name() string { return "Volume Spike" }
func (VolumeSpike) Class() Class { return ClassMomentum }

func (v VolumeSpike) Evaluate(series bars.Series, _ *features.FeatureSet) Direction {
	n := len(series)
	if n < v.Window+1 {
		return Flat
	}
	avg := 0.0
	for _, bar := range series[n-1-v.Window : n-1] {
		avg += bar.Volume
	}
	avg /= float64(v.Window)
	last := series.Last()
	if avg <= 0 || last.Volume < v.Mult*avg {
		return Flat
	}
	switch {
	case last.Close > last.Open:
		return Long
	case last.Close < last.Open:
		return Short
	default:
		return Flat
	}
}
