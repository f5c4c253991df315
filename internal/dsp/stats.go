package dsp

import (
	"math"
	"sort"
)

const varianceFloor = 1e-12

// Mean of a sequence; zero for an empty one.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the population standard deviation; zero for an empty input.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// Percentile returns the q-th percentile (0..100) with linear
// interpolation between ranks. Zero for an empty input.
func Percentile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[n-1]
	}
	rank := q / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Magnitudes maps a complex sequence to per-sample magnitudes.
func Magnitudes(x []complex128) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		re, im := real(v), imag(v)
		out[i] = math.Sqrt(re*re + im*im)
	}
	return out
}

// PearsonCorrelation of two sequences truncated to the shorter length.
// Returns 0 when either side has near-zero variance or the result would
// be NaN; never propagates NaN.
func PearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	a, b = a[:n], b[:n]
	meanA, meanB := Mean(a), Mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	varA /= float64(n)
	varB /= float64(n)
	if varA < varianceFloor || varB < varianceFloor {
		return 0
	}
	r := cov / float64(n) / math.Sqrt(varA*varB)
	if math.IsNaN(r) {
		return 0
	}
	return r
}
