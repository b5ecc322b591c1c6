package model

import (
	"math"

	"github.com/samcharles93/llamacore/internal/tensor"
)

// minParallelAttn is the per-step attention work, in multiply-adds, below
// which heads run on the calling goroutine.
const minParallelAttn = 1 << 12

// attention computes causal multi-head attention for layer l at pos over the
// cached keys and values 0..pos, leaving the concatenated head outputs in
// XB. Query head h reads kv head h/kv_mul. Heads are independent and split
// across the pool.
func (e *Engine) attention(l, pos int) {
	var (
		s      = e.state
		hs     = e.cfg.HeadSize()
		kvDim  = e.cfg.KVDim()
		kvMul  = e.cfg.KVMul()
		seqLen = e.cfg.SeqLen
		scale  = float32(math.Sqrt(float64(hs)))
		base   = l * seqLen * kvDim
	)

	heads := func(hStart, hEnd int) {
		for h := hStart; h < hEnd; h++ {
			kvOff := base + (h/kvMul)*hs
			q := s.Q[h*hs : (h+1)*hs]
			att := s.Att[h*seqLen : h*seqLen+pos+1]
			for t := range att {
				koff := kvOff + t*kvDim
				att[t] = tensor.Dot(q, s.KeyCache[koff:koff+hs]) / scale
			}
			tensor.Softmax(att)

			out := s.XB[h*hs : (h+1)*hs]
			for d := range out {
				var sum float32
				for t, a := range att {
					sum += a * s.ValueCache[kvOff+t*kvDim+d]
				}
				out[d] = sum
			}
		}
	}

	n := e.cfg.NumHeads
	if e.pool == nil || n*(pos+1)*hs < minParallelAttn {
		heads(0, n)
		return
	}
	e.pool.For(n, heads)
}
