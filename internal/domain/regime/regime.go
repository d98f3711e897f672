// Package regime labels the market state per bar per instrument. The label
// gates which strategy classes may fire: momentum strategies are excluded
// in mean-reverting markets, mean-reversion strategies in trending ones.
package regime

// Regime is the per-bar market-state label. It is re-derived on every bar
// and never mutated retroactively.
type Regime int

const (
	Undefined Regime = iota
	TrendingBull
	TrendingBear
	MeanReverting
	HighVolatility
)

func (r Regime) String() string {
	switch r {
	case TrendingBull:
		return "trending_bull"
	case TrendingBear:
		return "trending_bear"
	case MeanReverting:
		return "mean_reverting"
	case HighVolatility:
		return "high_volatility"
	default:
		return "undefined"
	}
}

// Trending reports whether the label is one of the trending states.
func (r Regime) Trending() bool {
	return r == TrendingBull || r == TrendingBear
}

// Classifier derives the regime label from the Hurst exponent and a
// realized-volatility percentile override.
type Classifier struct {
	TrendHurst     float64 // above this the market counts as trending
	ReversionHurst float64 // below this it counts as mean-reverting
	VolPercentile  float64 // realized vol above this trailing percentile overrides
}

// NewClassifier returns a classifier with the standard 0.55/0.45 Hurst
// thresholds and a 90th-percentile volatility override.
func NewClassifier() Classifier {
	return Classifier{
		TrendHurst:     0.55,
		ReversionHurst: 0.45,
		VolPercentile:  0.90,
	}
}

// Inputs carries the per-bar values the classifier reads. TrendUp is the
// direction of the prevailing trend (close above the long moving average),
// only consulted when the Hurst exponent says the market trends.
type Inputs struct {
	Hurst       float64
	RealizedVol float64
	VolCutoff   float64 // trailing percentile of realized vol history
	TrendUp     bool
}

// Classify applies the Hurst thresholds, then the volatility override.
// The high-volatility flag wins over the Hurst-based label.
func (c Classifier) Classify(in Inputs) Regime {
	if in.VolCutoff > 0 && in.RealizedVol > in.VolCutoff {
		return HighVolatility
	}
	switch {
	case in.Hurst > c.TrendHurst:
		if in.TrendUp {
			return TrendingBull
		}
		return TrendingBear
	case in.Hurst < c.ReversionHurst:
		return MeanReverting
	default:
		return Undefined
	}
}
