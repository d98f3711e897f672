// Package features computes the per-bar derived values every downstream
// component consumes. The engine uses only bars at or before the current
// timestamp; there is no lookahead anywhere in this package.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/indicators"
	"github.com/quantfold/confluence/internal/domain/regime"
)

// ErrInsufficientHistory is returned while the lookback window is not yet
// filled. Callers treat it as "no signal possible" and retry on the next
// bar; it never stands in for zero values.
var ErrInsufficientHistory = errors.New("insufficient history")

// FeatureSet is the full set of derived values for the latest bar of a
// series. Owned by the engine, consumed read-only downstream.
type FeatureSet struct {
	Instrument string
	Timestamp  time.Time
	Close      float64

	RSI        float64
	MACD       indicators.MACDResult
	Bollinger  indicators.BollingerBands
	ATR        float64
	ADX        indicators.ADXResult
	Ichimoku   indicators.IchimokuLines
	Supertrend indicators.SupertrendResult

	RealizedVol float64
	ForecastVol float64 // EGARCH horizon volatility, in return units
	Hurst       float64
	TrendUp     bool

	Regime regime.Regime
}

// Config holds the indicator periods. Zero values fall back to the
// standard settings via Defaults.
type Config struct {
	MinLookback     int
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	BollPeriod      int
	BollMult        float64
	ATRPeriod       int
	ADXPeriod       int
	IchimokuTenkan  int
	IchimokuKijun   int
	IchimokuSenkouB int
	SupertrendLen   int
	SupertrendMult  float64
	VolWindow       int
	VolHistory      int
	HurstWindow     int
	TrendEMA        int
	ForecastHorizon int
	EGARCHWindow    int // trailing returns the forecast is fit over
}

// Defaults fills unset fields with the standard indicator settings.
func (c Config) Defaults() Config {
	def := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}
	def(&c.MinLookback, 200)
	def(&c.RSIPeriod, 14)
	def(&c.MACDFast, 12)
	def(&c.MACDSlow, 26)
	def(&c.MACDSignal, 9)
	def(&c.BollPeriod, 20)
	def(&c.ATRPeriod, 14)
	def(&c.ADXPeriod, 14)
	def(&c.IchimokuTenkan, 9)
	def(&c.IchimokuKijun, 26)
	def(&c.IchimokuSenkouB, 52)
	def(&c.SupertrendLen, 10)
	def(&c.VolWindow, 20)
	def(&c.VolHistory, 100)
	def(&c.HurstWindow, 100)
	def(&c.TrendEMA, 50)
	def(&c.ForecastHorizon, 10)
	def(&c.EGARCHWindow, 500)
	if c.BollMult == 0 {
		c.BollMult = 2.0
	}
	if c.SupertrendMult == 0 {
		c.SupertrendMult = 3.0
	}
	return c
}

// Engine computes FeatureSets. It is stateless and safe for concurrent use
// across instruments.
type Engine struct {
	cfg        Config
	classifier regime.Classifier
}

// NewEngine builds a feature engine with the given config (missing fields
// defaulted) and the standard regime classifier.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.Defaults(), classifier: regime.NewClassifier()}
}

// MinLookback is the number of bars required before Compute succeeds.
func (e *Engine) MinLookback() int {
	return e.cfg.MinLookback
}

// Compute derives the FeatureSet for the latest bar of the series. Returns
// ErrInsufficientHistory until MinLookback bars are available.
func (e *Engine) Compute(series bars.Series) (*FeatureSet, error) {
	if len(series) < e.cfg.MinLookback {
		return nil, fmt.Errorf("%d of %d bars: %w", len(series), e.cfg.MinLookback, ErrInsufficientHistory)
	}
	if err := bars.Validate(series); err != nil {
		return nil, err
	}

	closes := series.Closes()
	last := series.Last()

	fs := &FeatureSet{
		Instrument: last.Instrument,
		Timestamp:  last.Timestamp,
		Close:      last.Close,
	}

	var ok bool
	if fs.RSI, ok = indicators.RSI(closes, e.cfg.RSIPeriod); !ok {
		return nil, fmt.Errorf("rsi window: %w", ErrInsufficientHistory)
	}
	if fs.MACD, ok = indicators.MACD(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal); !ok {
		return nil, fmt.Errorf("macd window: %w", ErrInsufficientHistory)
	}
	if fs.Bollinger, ok = indicators.Bollinger(closes, e.cfg.BollPeriod, e.cfg.BollMult); !ok {
		return nil, fmt.Errorf("bollinger window: %w", ErrInsufficientHistory)
	}
	if fs.ATR, ok = indicators.ATR(series, e.cfg.ATRPeriod); !ok {
		return nil, fmt.Errorf("atr window: %w", ErrInsufficientHistory)
	}
	if fs.ADX, ok = indicators.ADX(series, e.cfg.ADXPeriod); !ok {
		return nil, fmt.Errorf("adx window: %w", ErrInsufficientHistory)
	}
	if fs.Ichimoku, ok = indicators.Ichimoku(series, e.cfg.IchimokuTenkan, e.cfg.IchimokuKijun, e.cfg.IchimokuSenkouB); !ok {
		return nil, fmt.Errorf("ichimoku window: %w", ErrInsufficientHistory)
	}
	if fs.Supertrend, ok = indicators.Supertrend(series, e.cfg.SupertrendLen, e.cfg.SupertrendMult); !ok {
		return nil, fmt.Errorf("supertrend window: %w", ErrInsufficientHistory)
	}
	if fs.RealizedVol, ok = indicators.RealizedVol(closes, e.cfg.VolWindow); !ok {
		return nil, fmt.Errorf("realized vol window: %w", ErrInsufficientHistory)
	}
	if fs.Hurst, ok = indicators.Hurst(closes, e.cfg.HurstWindow); !ok {
		return nil, fmt.Errorf("hurst window: %w", ErrInsufficientHistory)
	}

	rets := indicators.LogReturns(closes)
	if len(rets) > e.cfg.EGARCHWindow {
		rets = rets[len(rets)-e.cfg.EGARCHWindow:]
	}
	if fs.ForecastVol, ok = indicators.EGARCHForecast(rets, e.cfg.ForecastHorizon); !ok {
		// Thin return history: fall back to scaling the realized estimate.
		fs.ForecastVol = fs.RealizedVol * math.Sqrt(float64(e.cfg.ForecastHorizon))
	}

	trendEMA, ok := indicators.EMA(closes, e.cfg.TrendEMA)
	if !ok {
		return nil, fmt.Errorf("trend ema window: %w", ErrInsufficientHistory)
	}
	fs.TrendUp = last.Close >= trendEMA

	cutoff, _ := indicators.TrailingPercentile(e.volHistory(series), e.classifier.VolPercentile)
	fs.Regime = e.classifier.Classify(regime.Inputs{
		Hurst:       fs.Hurst,
		RealizedVol: fs.RealizedVol,
		VolCutoff:   cutoff,
		TrendUp:     fs.TrendUp,
	})

	return fs, nil
}

// volHistory builds the trailing realized-vol series used for the
// high-volatility percentile override.
func (e *Engine) volHistory(series bars.Series) []float64 {
	closes := series.Closes()
	n := e.cfg.VolHistory
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		end := len(closes) - n + i + 1
		if end < e.cfg.VolWindow+1 {
			continue
		}
		if v, ok := indicators.RealizedVol(closes[:end], e.cfg.VolWindow); ok {
			out = append(out, v)
		}
	}
	return out
}
