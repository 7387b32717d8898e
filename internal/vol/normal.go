package vol

import "math"

// Abramowitz & Stegun 7.1.26 rational approximation of erf.
// Maximum absolute error 1.5e-7.
const (
	erfP  = 0.3275911
	erfA1 = 0.254829592
	erfA2 = -0.284496736
	erfA3 = 1.421413741
	erfA4 = -1.453152027
	erfA5 = 1.061405429
)

func erfApprox(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	t := 1.0 / (1.0 + erfP*x)
	poly := t * (erfA1 + t*(erfA2+t*(erfA3+t*(erfA4+t*erfA5))))
	return sign * (1.0 - poly*math.Exp(-x*x))
}

// NormalCDF returns P(Z <= x) for standard normal Z. Exact at zero so a zero
// log return maps to exactly 0.5.
func NormalCDF(x float64) float64 {
	if x == 0 {
		return 0.5
	}
	return 0.5 * (1.0 + erfApprox(x/math.Sqrt2))
}
