package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/llamacore/internal/tensor"
	"github.com/samcharles93/llamacore/pkg/ckpt"
)

// Layer holds the views of one transformer block. Matrices are row-major
// with shape (out, in).
type Layer struct {
	RMSAttention []float32 // (dim)
	WQ           tensor.Mat
	WK           tensor.Mat
	WV           tensor.Mat
	WO           tensor.Mat
	RMSFFN       []float32 // (dim)
	W1           tensor.Mat
	W2           tensor.Mat
	W3           tensor.Mat
}

// Weights is the weight table of a checkpoint. Nothing here owns memory: all
// slices point into the checkpoint's float region, which must outlive it.
type Weights struct {
	TokenEmbedding tensor.Mat // (vocab, dim)
	Layers         []Layer
	RMSFinal       []float32 // (dim)
	// WCLS aliases TokenEmbedding when the classifier is shared.
	WCLS tensor.Mat // (vocab, dim)
}

// NewWeights slices floats according to layout.
func NewWeights(layout ckpt.Layout, floats []float32) (*Weights, error) {
	need := layout.Elements()
	if need > math.MaxInt {
		return nil, fmt.Errorf("model: weight region of %d values exceeds address space", need)
	}
	if int64(len(floats)) < need {
		return nil, fmt.Errorf("model: weight region has %d values, layout needs %d", len(floats), need)
	}

	cfg := layout.Config
	var (
		dim    = cfg.Dim
		hidden = cfg.HiddenDim
		qDim   = cfg.NumHeads * cfg.HeadSize()
		kvDim  = cfg.KVDim()
		nl     = cfg.NumLayers
	)

	region := func(t ckpt.Tensor) ([]float32, error) {
		e, ok := layout.Find(t)
		if !ok {
			return nil, fmt.Errorf("model: layout has no %s tensor", t)
		}
		return floats[e.Offset:e.End()], nil
	}
	matrix := func(t ckpt.Tensor, rows, cols int) (tensor.Mat, error) {
		data, err := region(t)
		if err != nil {
			return tensor.Mat{}, err
		}
		return tensor.NewMatFromData(rows, cols, data)
	}

	w := &Weights{Layers: make([]Layer, nl)}
	var err error
	if w.TokenEmbedding, err = matrix(ckpt.TokenEmbedding, cfg.VocabSize, dim); err != nil {
		return nil, err
	}
	if w.WCLS, err = matrix(ckpt.WCLS, cfg.VocabSize, dim); err != nil {
		return nil, err
	}
	if w.RMSFinal, err = region(ckpt.RMSFinal); err != nil {
		return nil, err
	}

	stacked := []struct {
		t          ckpt.Tensor
		rows, cols int
		set        func(l *Layer, data []float32) error
	}{
		{ckpt.RMSAttention, 1, dim, func(l *Layer, d []float32) error { l.RMSAttention = d; return nil }},
		{ckpt.WQ, qDim, dim, func(l *Layer, d []float32) (err error) { l.WQ, err = tensor.NewMatFromData(qDim, dim, d); return }},
		{ckpt.WK, kvDim, dim, func(l *Layer, d []float32) (err error) { l.WK, err = tensor.NewMatFromData(kvDim, dim, d); return }},
		{ckpt.WV, kvDim, dim, func(l *Layer, d []float32) (err error) { l.WV, err = tensor.NewMatFromData(kvDim, dim, d); return }},
		{ckpt.WO, dim, qDim, func(l *Layer, d []float32) (err error) { l.WO, err = tensor.NewMatFromData(dim, qDim, d); return }},
		{ckpt.RMSFFN, 1, dim, func(l *Layer, d []float32) error { l.RMSFFN = d; return nil }},
		{ckpt.W1, hidden, dim, func(l *Layer, d []float32) (err error) { l.W1, err = tensor.NewMatFromData(hidden, dim, d); return }},
		{ckpt.W2, dim, hidden, func(l *Layer, d []float32) (err error) { l.W2, err = tensor.NewMatFromData(dim, hidden, d); return }},
		{ckpt.W3, hidden, dim, func(l *Layer, d []float32) (err error) { l.W3, err = tensor.NewMatFromData(hidden, dim, d); return }},
	}
	for _, s := range stacked {
		data, err := region(s.t)
		if err != nil {
			return nil, err
		}
		per := s.rows * s.cols
		if len(data) != per*nl {
			return nil, fmt.Errorf("model: %s has %d values, want %d", s.t, len(data), per*nl)
		}
		for l := range w.Layers {
			if err := s.set(&w.Layers[l], data[l*per:(l+1)*per:(l+1)*per]); err != nil {
				return nil, fmt.Errorf("model: %s layer %d: %w", s.t, l, err)
			}
		}
	}
	return w, nil
}

// Shared reports whether the classifier and the embedding table are the same
// storage.
func (w *Weights) Shared() bool {
	return len(w.WCLS.Data) > 0 && len(w.TokenEmbedding.Data) > 0 &&
		&w.WCLS.Data[0] == &w.TokenEmbedding.Data[0]
}
