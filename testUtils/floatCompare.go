package testUtils

import (
	"math"
)

//FloatEqUpTo returns true if abs(a-b)<=maxDiff
func FloatEqUpTo(a, b, maxDiff float64) bool {
	return math.Abs(a-b) <= maxDiff
}

//FloatSliceEqUpTo returns true if FloatEqUpTo(a[i],b[i],maxDiff) holds for all elements
func FloatSliceEqUpTo(a, b []float64, maxDiff float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !FloatEqUpTo(a[i], b[i], maxDiff) {
			return false
		}
	}
	return true
}

//Float32ToFloat64 converts visibility buffers for use with gonum/floats
func Float32ToFloat64(values []float32) []float64 {
	res := make([]float64, len(values))
	for i := range values {
		res[i] = float64(values[i])
	}
	return res
}

//IntSliceEq returns true if a and b have the same elements in the same order. nil and empty slices are equal
func IntSliceEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
