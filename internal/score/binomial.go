package score

import "math"

// BinomialTail returns P[X >= k] for X ~ Binomial(n, p)
func BinomialTail(n, k int, p float64) float64 {
	switch {
	case k <= 0:
		return 1
	case k > n:
		return 0
	case p <= 0:
		return 0
	case p >= 1:
		return 1
	}

	lp, lq := math.Log(p), math.Log1p(-p)
	lgN1, _ := math.Lgamma(float64(n + 1))

	var sum float64
	for i := k; i <= n; i++ {
		lgI, _ := math.Lgamma(float64(i + 1))
		lgNI, _ := math.Lgamma(float64(n - i + 1))
		sum += math.Exp(lgN1 - lgI - lgNI + float64(i)*lp + float64(n-i)*lq)
	}
	return math.Min(sum, 1)
}
