package indicators

import (
	"math"
	"sort"
)

// LogReturns converts a close-price series to log returns.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i] > 0 && closes[i-1] > 0 {
			out = append(out, math.Log(closes[i]/closes[i-1]))
		}
	}
	return out
}

// RealizedVol returns the per-bar standard deviation of log returns over
// the trailing window.
func RealizedVol(closes []float64, window int) (float64, bool) {
	rets := LogReturns(closes)
	if len(rets) < window {
		return 0, false
	}
	rets = rets[len(rets)-window:]
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets) - 1)
	return math.Sqrt(variance), true
}

// TrailingPercentile returns the q-th percentile (0..1) of the values,
// linear interpolation between ranks.
func TrailingPercentile(values []float64, q float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0], true
	}
	if q >= 1 {
		return sorted[len(sorted)-1], true
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo], true
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac, true
}

// Hurst estimates the Hurst exponent by rescaled-range analysis over the
// trailing window: H = log(R/S) / log(n). Values above 0.5 indicate
// persistence, below 0.5 anti-persistence.
func Hurst(closes []float64, window int) (float64, bool) {
	rets := LogReturns(closes)
	if len(rets) < window || window < 16 {
		return 0, false
	}
	rets = rets[len(rets)-window:]

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	cum := 0.0
	maxDev, minDev := math.Inf(-1), math.Inf(1)
	variance := 0.0
	for _, r := range rets {
		cum += r - mean
		maxDev = math.Max(maxDev, cum)
		minDev = math.Min(minDev, cum)
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets) - 1)
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0.5, true
	}

	rs := (maxDev - minDev) / sd
	if rs <= 0 {
		return 0.5, true
	}
	h := math.Log(rs) / math.Log(float64(len(rets)))
	return math.Max(0, math.Min(1, h)), true
}

// EGARCH(1,1) parameters. Persistence and shock response are fixed at
// typical daily-frequency values; omega is calibrated so the model's
// unconditional variance matches the sample variance of the window.
const (
	egarchBeta  = 0.90
	egarchAlpha = 0.10
	egarchGamma = -0.05
)

// EGARCHForecast filters an EGARCH(1,1) conditional variance through the
// trailing return window and projects it over the holding horizon. The
// result is the horizon volatility sqrt(sum sigma^2_{t+i}), in return
// units. The negative gamma term makes downside shocks raise the forecast
// more than upside shocks.
func EGARCHForecast(returns []float64, horizon int) (float64, bool) {
	if len(returns) < 30 || horizon < 1 {
		return 0, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	sampleVar := 0.0
	for _, r := range returns {
		sampleVar += (r - mean) * (r - mean)
	}
	sampleVar /= float64(len(returns) - 1)
	if sampleVar <= 0 {
		return 0, false
	}

	logUncond := math.Log(sampleVar)
	omega := (1 - egarchBeta) * logUncond

	expAbsZ := math.Sqrt(2 / math.Pi)
	logVar := logUncond
	for _, r := range returns {
		sigma := math.Exp(logVar / 2)
		z := (r - mean) / sigma
		logVar = omega + egarchBeta*logVar + egarchAlpha*(math.Abs(z)-expAbsZ) + egarchGamma*z
	}

	// Multi-step projection decays toward the unconditional level.
	total := 0.0
	step := logVar
	for i := 0; i < horizon; i++ {
		total += math.Exp(step)
		step = omega + egarchBeta*step
	}
	return math.Sqrt(total), true
}
