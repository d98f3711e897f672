package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/indicators"
	"github.com/quantfold/confluence/internal/domain/regime"
)

// waveSeries is a deterministic oscillation around a drifting base, enough
// structure for every indicator window to produce finite values.
func waveSeries(n int) bars.Series {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(bars.Series, n)
	for i := range s {
		base := 100 + 0.05*float64(i)
		close := base + 2*math.Sin(float64(i)/7)
		s[i] = bars.Bar{
			Instrument: "BTC-USD",
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Open:       close - 0.1,
			High:       close + 0.5,
			Low:        close - 0.5,
			Close:      close,
			Volume:     100 + 10*math.Cos(float64(i)/5),
		}
	}
	return s
}

func TestEngine_ComputeInsufficientHistory(t *testing.T) {
	eng := NewEngine(Config{})
	require.Equal(t, 200, eng.MinLookback())

	_, err := eng.Compute(waveSeries(150))
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestEngine_Compute(t *testing.T) {
	eng := NewEngine(Config{})
	series := waveSeries(260)

	fs, err := eng.Compute(series)
	require.NoError(t, err)

	last := series.Last()
	assert.Equal(t, "BTC-USD", fs.Instrument)
	assert.Equal(t, last.Timestamp, fs.Timestamp)
	assert.Equal(t, last.Close, fs.Close)

	assert.Greater(t, fs.RSI, 0.0)
	assert.Less(t, fs.RSI, 100.0)
	assert.Greater(t, fs.ATR, 0.0)
	assert.Greater(t, fs.Bollinger.Upper, fs.Bollinger.Lower)
	assert.Greater(t, fs.RealizedVol, 0.0)
	assert.Greater(t, fs.ForecastVol, 0.0)
	assert.GreaterOrEqual(t, fs.Hurst, 0.0)
	assert.LessOrEqual(t, fs.Hurst, 1.0)
	assert.NotEqual(t, regime.Regime(-1), fs.Regime)
}

func TestEngine_ComputeRejectsCorruptSeries(t *testing.T) {
	eng := NewEngine(Config{})
	series := waveSeries(260)

	// A swapped pair breaks the ordering invariant.
	series[100], series[101] = series[101], series[100]
	_, err := eng.Compute(series)
	assert.ErrorIs(t, err, bars.ErrDataGap)
}

func TestEngine_ComputeForecastUsesTrailingWindow(t *testing.T) {
	// Turbulent opening, calm tail: a full-history fit would carry the old
	// turbulence into the forecast.
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make(bars.Series, 700)
	for i := range series {
		amp := 2.0
		if i < 200 {
			amp = 8.0
		}
		close := 100 + 0.05*float64(i) + amp*math.Sin(float64(i)/7)
		series[i] = bars.Bar{
			Instrument: "BTC-USD",
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Open:       close - 0.1,
			High:       close + 0.5,
			Low:        close - 0.5,
			Close:      close,
			Volume:     100,
		}
	}

	eng := NewEngine(Config{})
	fs, err := eng.Compute(series)
	require.NoError(t, err)

	closes := series.Closes()
	want, ok := indicators.EGARCHForecast(indicators.LogReturns(closes[len(closes)-501:]), 10)
	require.True(t, ok)
	assert.InDelta(t, want, fs.ForecastVol, 1e-12)

	full, ok := indicators.EGARCHForecast(indicators.LogReturns(closes), 10)
	require.True(t, ok)
	assert.NotEqual(t, full, fs.ForecastVol)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.Defaults()
	assert.Equal(t, 200, cfg.MinLookback)
	assert.Equal(t, 14, cfg.RSIPeriod)
	assert.Equal(t, 12, cfg.MACDFast)
	assert.Equal(t, 26, cfg.MACDSlow)
	assert.Equal(t, 9, cfg.MACDSignal)
	assert.Equal(t, 2.0, cfg.BollMult)
	assert.Equal(t, 3.0, cfg.SupertrendMult)
	assert.Equal(t, 52, cfg.IchimokuSenkouB)
	assert.Equal(t, 500, cfg.EGARCHWindow)

	// Explicit settings survive.
	custom := Config{MinLookback: 300, BollMult: 2.5}.Defaults()
	assert.Equal(t, 300, custom.MinLookback)
	assert.Equal(t, 2.5, custom.BollMult)
}
