// Package indicators implements the technical indicators consumed by the
// feature engine. All functions are pure, operate on already-fetched bar
// data, and report ok=false when the lookback window is not yet filled
// instead of fabricating values.
package indicators

import (
	"math"

	"github.com/quantfold/confluence/internal/domain/bars"
)

// SMA returns the simple moving average of the trailing period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMASeries computes the exponential moving average at every index,
// seeded with an SMA over the first period values. The returned slice is
// aligned with the input; entries before period-1 are meaningless.
func EMASeries(values []float64, period int) ([]float64, bool) {
	if period <= 0 || len(values) < period {
		return nil, false
	}
	out := make([]float64, len(values))
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out[period-1] = seed
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out, true
}

// EMA returns the exponential moving average of the latest value.
func EMA(values []float64, period int) (float64, bool) {
	series, ok := EMASeries(values, period)
	if !ok {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSI computes Wilder's Relative Strength Index over the given period.
func RSI(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing for the remainder of the series.
	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACDResult carries the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes moving average convergence divergence; callers pass the
// standard 12/26/9 periods unless a strategy tunes them.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, bool) {
	if len(closes) < slow+signal {
		return MACDResult{}, false
	}
	fastEMA, ok := EMASeries(closes, fast)
	if !ok {
		return MACDResult{}, false
	}
	slowEMA, ok := EMASeries(closes, slow)
	if !ok {
		return MACDResult{}, false
	}
	macdLine := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macdLine = append(macdLine, fastEMA[i]-slowEMA[i])
	}
	signalEMA, ok := EMASeries(macdLine, signal)
	if !ok {
		return MACDResult{}, false
	}
	m := macdLine[len(macdLine)-1]
	s := signalEMA[len(signalEMA)-1]
	return MACDResult{MACD: m, Signal: s, Histogram: m - s}, true
}

// trueRanges returns the true range at each index from 1..len-1.
func trueRanges(series bars.Series) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		hl := series[i].High - series[i].Low
		hc := math.Abs(series[i].High - series[i-1].Close)
		lc := math.Abs(series[i].Low - series[i-1].Close)
		out[i-1] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR computes the Average True Range with Wilder smoothing.
func ATR(series bars.Series, period int) (float64, bool) {
	trs := trueRanges(series)
	if len(trs) < period {
		return 0, false
	}
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	alpha := 1.0 / float64(period)
	for _, tr := range trs[period:] {
		atr = atr*(1-alpha) + tr*alpha
	}
	return atr, true
}

// ADXResult carries the trend-strength index and both directional lines.
type ADXResult struct {
	ADX float64
	PDI float64
	MDI float64
}

// ADX computes the Average Directional Index with Wilder smoothing of the
// DX series. Requires 2*period+1 bars.
func ADX(series bars.Series, period int) (ADXResult, bool) {
	if len(series) < 2*period+1 {
		return ADXResult{}, false
	}
	trs := trueRanges(series)
	plusDM := make([]float64, len(trs))
	minusDM := make([]float64, len(trs))
	for i := 1; i < len(series); i++ {
		up := series[i].High - series[i-1].High
		down := series[i-1].Low - series[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	alpha := 1.0 / float64(period)
	var smTR, smPlus, smMinus float64
	for i := 0; i < period; i++ {
		smTR += trs[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := func() float64 {
		if smTR == 0 {
			return 0
		}
		pdi := 100 * smPlus / smTR
		mdi := 100 * smMinus / smTR
		if pdi+mdi == 0 {
			return 0
		}
		return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}

	adx := dx()
	dxCount := 1
	for i := period; i < len(trs); i++ {
		smTR = smTR*(1-alpha) + trs[i]
		smPlus = smPlus*(1-alpha) + plusDM[i]
		smMinus = smMinus*(1-alpha) + minusDM[i]
		d := dx()
		if dxCount < period {
			adx += d
			dxCount++
			if dxCount == period {
				adx /= float64(period)
			}
		} else {
			adx = adx*(1-alpha) + d*alpha
		}
	}

	var pdi, mdi float64
	if smTR > 0 {
		pdi = 100 * smPlus / smTR
		mdi = 100 * smMinus / smTR
	}
	return ADXResult{ADX: adx, PDI: pdi, MDI: mdi}, true
}
