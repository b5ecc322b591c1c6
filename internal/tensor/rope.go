package tensor

import "math"

// RopeTheta is the rotary frequency base.
const RopeTheta = 10000.0

// RopeInvFreq returns theta^(-2j/headSize) for each of the headSize/2 pairs
// in a head.
func RopeInvFreq(headSize int) []float64 {
	if headSize%2 != 0 {
		panic("headSize must be even for RoPE")
	}
	out := make([]float64, headSize/2)
	for j := range out {
		out[j] = 1.0 / math.Pow(RopeTheta, float64(2*j)/float64(headSize))
	}
	return out
}

// RopeAngles fills cos and sin with the rotation for every pair of a head at
// position pos.
func RopeAngles(cos, sin []float32, pos int, invFreq []float64) {
	for j, f := range invFreq {
		angle := float64(pos) * f
		cos[j] = float32(math.Cos(angle))
		sin[j] = float32(math.Sin(angle))
	}
}

// ApplyRoPE rotates each (even, odd) pair of q by the per-head angles. Pairs
// of k are rotated only below len(k), which is the kv width: query heads past
// the kv heads share keys that have already been rotated.
func ApplyRoPE(q, k []float32, headSize int, cos, sin []float32) {
	for i := 0; i+1 < len(q); i += 2 {
		j := (i % headSize) / 2
		c, s := cos[j], sin[j]
		rotatePair(q, i, c, s)
		if i+1 < len(k) {
			rotatePair(k, i, c, s)
		}
	}
}

func rotatePair(v []float32, i int, c, s float32) {
	v0, v1 := v[i], v[i+1]
	v[i] = v0*c - v1*s
	v[i+1] = v0*s + v1*c
}
