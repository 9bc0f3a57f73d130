package audio

import "math"

// MaxSampleValue is the scale factor applied to a normalized sample.
// The negative bound is symmetric, so -1.0 maps to -32767 rather than -32768.
const MaxSampleValue = 32767

// Quantize converts a float sample in [-1, 1] to a signed 16-bit sample.
// Input is clamped first and then scaled and truncated toward zero, so
// out-of-range values saturate instead of wrapping. NaN maps to silence.
func Quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Trunc(v * MaxSampleValue))
}

// QuantizeInto quantizes src into dst and returns the number of samples written,
// which is the shorter of the two lengths.
func QuantizeInto(dst []int16, src []float32) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = Quantize(src[i])
	}
	return n
}
