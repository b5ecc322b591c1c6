package tensor

import (
	"math"
)

// RMSEpsilon is the variance floor used by the llama2 norm layers.
const RMSEpsilon = 1e-5

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// RMSNorm performs Root Mean Square Normalization. dst may alias src.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float32(len(src))
	scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
	for i := range src {
		dst[i] = weight[i] * (scale * src[i])
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	// max for numerical stability
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	for i := range x {
		x[i] = float32(float64(x[i]) / sum)
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// SwiGLU gates hb in place: hb[i] = silu(hb[i]) * hb2[i].
func SwiGLU(hb, hb2 []float32) {
	if len(hb2) < len(hb) {
		panic("SwiGLU gate too small")
	}
	for i := range hb {
		hb[i] = Silu(hb[i]) * hb2[i]
	}
}

// ArgMax returns the index of the largest element of v, or -1 when v is empty.
func ArgMax(v []float32) int {
	if len(v) == 0 {
		return -1
	}
	best, idx := v[0], 0
	for i, x := range v {
		if x > best {
			best, idx = x, i
		}
	}
	return idx
}
