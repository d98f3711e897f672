package strategy

import (
	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/features"
)

// RSIReversal fades RSI extremes: long below Oversold, short above
// Overbought.
type RSIReversal struct {
	Oversold   float64
	Overbought float64
}

func (RSIReversal) ID() string   { return "rsi_reversal" }
func (RSIReversal) Name() string { return "RSI Reversal" }
func (RSIReversal) Class() Class { return ClassMeanReversion }

func (r RSIReversal) Evaluate(_ bars.Series, fs *features.FeatureSet) Direction {
	switch {
	case fs.RSI < r.Oversold:
		return Long
	case fs.RSI > r.Overbought:
		return Short
	default:
		return Flat
	}
}

// BollingerReversion fades closes outside the bands, betting on a return
// to the middle band.
type BollingerReversion struct{}

func (BollingerReversion) ID() string   { return "bollinger_reversion" }
func (BollingerReversion) Name() string { return "Bollinger Mean Reversion" }
func (BollingerReversion) Class() Class { return ClassMeanReversion }

func (BollingerReversion) Evaluate(_ bars.Series, fs *features.FeatureSet) Direction {
	switch {
	case fs.Close < fs.Bollinger.Lower:
		return Long
	case fs.Close > fs.Bollinger.Upper:
		return Short
	default:
		return Flat
	}
}

// DipBuy is long-only: it buys a drawdown of at least MinDrawdown from the
// rolling high when RSI confirms the washout.
type DipBuy struct {
	Lookback    int
	MinDrawdown float64
	MaxRSI      float64
}

func (DipBuy) ID() string   { return "dip_buy" }
func (DipBuy) Name() string { return "Dip Buy" }
func (DipBuy) Class() Class { return ClassMeanReversion }

func (d DipBuy) Evaluate(series bars.Series, fs *features.FeatureSet) Direction {
	n := len(series)
	if n < d.Lookback {
		return Flat
	}
	high := 0.0
	for _, bar := range series[n-d.Lookback:] {
		if bar.High > high {
			high = bar.High
		}
	}
	if high <= 0 {
		return Flat
	}
	drawdown := (high - fs.Close) / high
	if drawdown >= d.MinDrawdown && fs.RSI <= d.MaxRSI {
		return Long
	}
	return Flat
}
