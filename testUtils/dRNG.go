package testUtils

import (
	"io/ioutil"
	"math/rand"

	"github.com/sirupsen/logrus"
)

//DRNGFloat64Slice wraps DRNGFloat64SliceCustomScale with scaleFactor set to 1000
func DRNGFloat64Slice(length int, seed int64) []float64 {
	return DRNGFloat64SliceCustomScale(length, seed, 1000)
}

//DRNGFloat64SliceCustomScale returns a slice of length entries with pseudo random values from -scaleFactor to scaleFactor
//Calling with the same seed will yield the same sequence. Intended to generate large test data sets
func DRNGFloat64SliceCustomScale(length int, seed int64, scaleFactor float64) []float64 {
	dRNGSource := rand.NewSource(seed)
	dRNG := rand.New(dRNGSource)
	buf := make([]float64, length)
	for i := 0; i < length; i++ {
		sign := dRNG.Float32()
		buf[i] = dRNG.Float64() * scaleFactor
		if sign <= 0.5 {
			buf[i] *= -1
		}
	}
	return buf
}

//DRNGFloat32Slice is DRNGFloat64Slice for visibility buffers. Values are rounded to multiples of 1/8 so that sums
//of them are exact in float32 and float64
func DRNGFloat32Slice(length int, seed int64) []float32 {
	values := DRNGFloat64SliceCustomScale(length, seed, 100)
	buf := make([]float32, length)
	for i := range values {
		buf[i] = float32(float64(int64(values[i]*8)) / 8)
	}
	return buf
}

//DiscardLogger returns a logrus logger that drops all output
func DiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}
