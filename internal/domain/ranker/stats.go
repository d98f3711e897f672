package ranker

import "math"

// logChoose returns log C(n, k) via the log-gamma function, stable for
// the trade counts seen here.
func logChoose(n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	ln1, _ := math.Lgamma(float64(n + 1))
	ln2, _ := math.Lgamma(float64(k + 1))
	ln3, _ := math.Lgamma(float64(n - k + 1))
	return ln1 - ln2 - ln3
}

// binomPMF returns P(X = k) for X ~ Binomial(n, p).
func binomPMF(n, k int, p float64) float64 {
	if p <= 0 {
		if k == 0 {
			return 1
		}
		return 0
	}
	if p >= 1 {
		if k == n {
			return 1
		}
		return 0
	}
	lp := logChoose(n, k) + float64(k)*math.Log(p) + float64(n-k)*math.Log(1-p)
	return math.Exp(lp)
}

// BinomCDF returns P(X <= k) by direct summation of the exact mass
// function.
func BinomCDF(n, k int, p float64) float64 {
	if k < 0 {
		return 0
	}
	if k >= n {
		return 1
	}
	sum := 0.0
	for i := 0; i <= k; i++ {
		sum += binomPMF(n, i, p)
	}
	return math.Min(1, sum)
}

// BinomTestTwoSided runs the exact two-sided binomial test of k successes
// in n trials against the null probability p, using the doubled smaller
// tail, capped at 1.
func BinomTestTwoSided(n, k int, p float64) float64 {
	lower := BinomCDF(n, k, p)
	upper := 1 - BinomCDF(n, k-1, p)
	pv := 2 * math.Min(lower, upper)
	return math.Min(1, pv)
}

// Pearson returns the sample correlation of two aligned series. Returns
// ok=false when fewer than two points or either series is constant.
func Pearson(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}
	n := float64(len(x))
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}
