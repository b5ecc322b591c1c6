package ckpt

import (
	"fmt"
	"math"
)

// Tensor names one block of the checkpoint weight region.
type Tensor int

const (
	TokenEmbedding Tensor = iota
	RMSAttention
	WQ
	WK
	WV
	WO
	RMSFFN
	W1
	W2
	W3
	RMSFinal
	FreqCISReal // legacy, never read
	FreqCISImag // legacy, never read
	WCLS
)

var tensorNames = [...]string{
	TokenEmbedding: "token_embedding",
	RMSAttention:   "rms_att",
	WQ:             "wq",
	WK:             "wk",
	WV:             "wv",
	WO:             "wo",
	RMSFFN:         "rms_ffn",
	W1:             "w1",
	W2:             "w2",
	W3:             "w3",
	RMSFinal:       "rms_final",
	FreqCISReal:    "freq_cis_real",
	FreqCISImag:    "freq_cis_imag",
	WCLS:           "wcls",
}

func (t Tensor) String() string {
	if t < 0 || int(t) >= len(tensorNames) {
		return fmt.Sprintf("tensor(%d)", int(t))
	}
	return tensorNames[t]
}

// Legacy reports blocks that are kept for offset compatibility only.
func (t Tensor) Legacy() bool {
	return t == FreqCISReal || t == FreqCISImag
}

// Extent locates a tensor inside the weight region. Offset and Len count
// float32 elements from the first byte after the header.
type Extent struct {
	Tensor Tensor  `json:"tensor"`
	Offset int64   `json:"offset"`
	Len    int64   `json:"len"`
	Shape  []int64 `json:"shape"`
}

func (e Extent) End() int64 {
	return e.Offset + e.Len
}

// Layout is the ordered list of tensor extents for one Config.
type Layout struct {
	Config  Config
	Extents []Extent
}

// ComputeLayout walks the checkpoint layout for cfg. All arithmetic is done
// in int64 and checked, so a hostile header cannot wrap an offset.
func ComputeLayout(cfg Config) (Layout, error) {
	if err := cfg.Validate(); err != nil {
		return Layout{}, err
	}
	var (
		layers = int64(cfg.NumLayers)
		dim    = int64(cfg.Dim)
		hidden = int64(cfg.HiddenDim)
		vocab  = int64(cfg.VocabSize)
		seq    = int64(cfg.SeqLen)
		hs     = int64(cfg.HeadSize())
		qDim   = int64(cfg.NumHeads) * hs
		kvDim  = int64(cfg.NumKVHeads) * hs
	)

	blocks := []struct {
		t     Tensor
		shape []int64
	}{
		{TokenEmbedding, []int64{vocab, dim}},
		{RMSAttention, []int64{layers, dim}},
		{WQ, []int64{layers, qDim, dim}},
		{WK, []int64{layers, kvDim, dim}},
		{WV, []int64{layers, kvDim, dim}},
		{WO, []int64{layers, dim, qDim}},
		{RMSFFN, []int64{layers, dim}},
		{W1, []int64{layers, hidden, dim}},
		{W2, []int64{layers, dim, hidden}},
		{W3, []int64{layers, hidden, dim}},
		{RMSFinal, []int64{dim}},
		{FreqCISReal, []int64{seq, hs / 2}},
		{FreqCISImag, []int64{seq, hs / 2}},
	}
	if !cfg.SharedClassifier {
		blocks = append(blocks, struct {
			t     Tensor
			shape []int64
		}{WCLS, []int64{vocab, dim}})
	}

	out := Layout{Config: cfg, Extents: make([]Extent, 0, len(blocks))}
	var off int64
	for _, b := range blocks {
		n, ok := checkedProduct(b.shape)
		if !ok || off > math.MaxInt64-n {
			return Layout{}, fmt.Errorf("%w: %s size overflows", ErrInvalidHeader, b.t)
		}
		out.Extents = append(out.Extents, Extent{Tensor: b.t, Offset: off, Len: n, Shape: b.shape})
		off += n
	}
	if off > (math.MaxInt64-HeaderSize)/4 {
		return Layout{}, fmt.Errorf("%w: weight region too large", ErrInvalidHeader)
	}
	return out, nil
}

// Elements is the total number of float32 values after the header.
func (l Layout) Elements() int64 {
	if len(l.Extents) == 0 {
		return 0
	}
	return l.Extents[len(l.Extents)-1].End()
}

// Bytes is the minimum file size, header included.
func (l Layout) Bytes() int64 {
	return HeaderSize + 4*l.Elements()
}

// Find returns the extent of t. With a shared classifier WCLS resolves to the
// token embedding extent.
func (l Layout) Find(t Tensor) (Extent, bool) {
	if t == WCLS && l.Config.SharedClassifier {
		t = TokenEmbedding
	}
	for _, e := range l.Extents {
		if e.Tensor == t {
			return e, true
		}
	}
	return Extent{}, false
}

func checkedProduct(dims []int64) (int64, bool) {
	n := int64(1)
	for _, d := range dims {
		if d < 0 {
			return 0, false
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}
