package detectors

import (
	"math"
	"sort"
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev uses the n-1 denominator.
func sampleStdDev(values []float64, mu float64) float64 {
	if len(values) < 2 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		variance += (v - mu) * (v - mu)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

func sortedCopy(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// medianAbsoluteDeviation returns median(|v - med|).
func medianAbsoluteDeviation(values []float64, med float64) float64 {
	deviations := make([]float64, 0, len(values))
	for _, v := range values {
		deviations = append(deviations, math.Abs(v-med))
	}
	return median(deviations)
}

// quartiles follows the index convention q1=s[n/4], q3=s[3n/4].
func quartiles(values []float64) (q1, q3 float64) {
	sorted := sortedCopy(values)
	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	return sorted[n/4], sorted[(3*n)/4]
}

// regression is an ordinary least-squares fit y = slope*x + intercept.
type regression struct {
	slope     float64
	intercept float64
	r2        float64
}

func linearRegression(xs, ys []float64) (regression, bool) {
	if len(xs) < 2 || len(xs) != len(ys) {
		return regression{}, false
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 {
		return regression{}, false
	}
	slope := sxy / sxx
	intercept := my - slope*mx
	r2 := 1.0
	if syy > 0 {
		ssRes := 0.0
		for i := range xs {
			pred := slope*xs[i] + intercept
			ssRes += (ys[i] - pred) * (ys[i] - pred)
		}
		r2 = 1 - ssRes/syy
	}
	return regression{slope: slope, intercept: intercept, r2: clamp(r2, 0, 1)}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
