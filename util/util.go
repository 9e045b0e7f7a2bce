// Package util contains misc internal utilities.
package util

import "math"

// ClampInt limits x to the closed interval [low, high]
func ClampInt(x, low, high int) int {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// NaNs returns a slice of length n filled with NaN
func NaNs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
