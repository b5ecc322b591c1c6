package tensor

import (
	"github.com/samcharles93/llamacore/internal/parallel"
)

// minParallelWork is the matrix size below which splitting rows across
// workers costs more than it saves.
const minParallelWork = 1 << 14

// MatMul computes xout = W x where W is a row-major (d,n) matrix, using the
// default worker pool. By far the most time in a forward step is spent here.
func MatMul(xout, x, w []float32, n, d int) {
	MatVec(parallel.Default(), xout, Mat{R: d, C: n, Data: w[:d*n]}, x)
}

// MatVec computes dst = w * x. Output rows are independent, so they are split
// across p with a barrier before returning. A nil pool runs sequentially.
func MatVec(p *parallel.Pool, dst []float32, w Mat, x []float32) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C || len(w.Data) < w.R*w.C {
		panic("matvec shape mismatch")
	}
	if p == nil || w.R*w.C < minParallelWork {
		matVecRange(dst, w, x, 0, w.R)
		return
	}
	p.For(w.R, func(rs, re int) {
		matVecRange(dst, w, x, rs, re)
	})
}

func matVecRange(dst []float32, w Mat, x []float32, rs, re int) {
	x = x[:w.C]
	for i := rs; i < re; i++ {
		row := w.Data[i*w.C : (i+1)*w.C]
		var sum float32
		for j, v := range row {
			sum += v * x[j]
		}
		dst[i] = sum
	}
}
