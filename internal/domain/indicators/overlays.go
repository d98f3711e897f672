package indicators

import (
	"math"

	"github.com/quantfold/confluence/internal/domain/bars"
)

// BollingerBands holds the 20-period, 2-sigma envelope by default.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes the moving-average envelope over the trailing period.
func Bollinger(closes []float64, period int, mult float64) (BollingerBands, bool) {
	mid, ok := SMA(closes, period)
	if !ok {
		return BollingerBands{}, false
	}
	variance := 0.0
	for _, c := range closes[len(closes)-period:] {
		variance += (c - mid) * (c - mid)
	}
	sd := math.Sqrt(variance / float64(period))
	return BollingerBands{
		Upper:  mid + mult*sd,
		Middle: mid,
		Lower:  mid - mult*sd,
	}, true
}

// IchimokuLines holds the 9/26/52 Ichimoku components. SenkouA/SenkouB are
// the cloud boundaries applicable to the latest bar, i.e. computed from
// data displaced 26 bars back.
type IchimokuLines struct {
	Tenkan  float64
	Kijun   float64
	SenkouA float64
	SenkouB float64
}

func midpoint(series bars.Series, period int) (float64, bool) {
	if len(series) < period {
		return 0, false
	}
	window := series[len(series)-period:]
	hh, ll := window[0].High, window[0].Low
	for _, b := range window[1:] {
		hh = math.Max(hh, b.High)
		ll = math.Min(ll, b.Low)
	}
	return (hh + ll) / 2, true
}

// Ichimoku computes the standard 9/26/52 lines. Requires 52+26 bars so the
// displaced cloud is defined for the current bar.
func Ichimoku(series bars.Series, tenkan, kijun, senkouB int) (IchimokuLines, bool) {
	if len(series) < senkouB+kijun {
		return IchimokuLines{}, false
	}
	t, _ := midpoint(series, tenkan)
	k, _ := midpoint(series, kijun)

	displaced := series[:len(series)-kijun]
	dt, _ := midpoint(displaced, tenkan)
	dk, _ := midpoint(displaced, kijun)
	sb, _ := midpoint(displaced, senkouB)

	return IchimokuLines{
		Tenkan:  t,
		Kijun:   k,
		SenkouA: (dt + dk) / 2,
		SenkouB: sb,
	}, true
}

// SupertrendResult is the trailing-stop line and its current direction.
type SupertrendResult struct {
	Value   float64
	Bullish bool
}

// Supertrend computes the ATR trailing stop with the standard band-carry
// rules (period 10, multiplier 3 by default). The whole series is walked
// so band flips are path-dependent, as the indicator requires.
func Supertrend(series bars.Series, period int, mult float64) (SupertrendResult, bool) {
	if len(series) < period+2 {
		return SupertrendResult{}, false
	}
	trs := trueRanges(series)

	// Wilder ATR computed incrementally alongside the band walk.
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	alpha := 1.0 / float64(period)

	mid := (series[period].High + series[period].Low) / 2
	finalUpper := mid + mult*atr
	finalLower := mid - mult*atr
	bullish := series[period].Close > finalUpper

	for i := period + 1; i < len(series); i++ {
		atr = atr*(1-alpha) + trs[i-1]*alpha
		mid = (series[i].High + series[i].Low) / 2
		upper := mid + mult*atr
		lower := mid - mult*atr

		if upper < finalUpper || series[i-1].Close > finalUpper {
			finalUpper = upper
		}
		if lower > finalLower || series[i-1].Close < finalLower {
			finalLower = lower
		}

		if bullish && series[i].Close < finalLower {
			bullish = false
		} else if !bullish && series[i].Close > finalUpper {
			bullish = true
		}
	}

	value := finalUpper
	if bullish {
		value = finalLower
	}
	return SupertrendResult{Value: value, Bullish: bullish}, true
}
