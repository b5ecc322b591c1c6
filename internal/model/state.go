package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/llamacore/pkg/ckpt"
)

// RunState holds every mutable buffer of a forward step: activations, the
// attention scratch, the logits and the key/value cache. It belongs to
// exactly one engine.
type RunState struct {
	X      []float32 // residual stream (dim)
	XB     []float32 // normed input / attention output (dim)
	XB2    []float32 // projection output (dim)
	HB     []float32 // ffn gate (hidden)
	HB2    []float32 // ffn up (hidden)
	Q      []float32 // query (dim)
	Att    []float32 // scores (heads, seq_len)
	Logits []float32 // (vocab)

	// KeyCache and ValueCache are laid out (layer, seq_len, kv_dim).
	KeyCache   []float32
	ValueCache []float32

	ropeCos []float32
	ropeSin []float32

	seqLen int
	kvDim  int
	bytes  int64
}

type stateBuffer struct {
	name string
	dst  *[]float32
	n    int64
}

// NewRunState allocates zeroed buffers for cfg. A positive maxBytes caps the
// total size; the cap and any allocation the runtime refuses are reported as
// *AllocationError.
func NewRunState(cfg ckpt.Config, maxBytes int64) (*RunState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		dim    = int64(cfg.Dim)
		hidden = int64(cfg.HiddenDim)
		seq    = int64(cfg.SeqLen)
		kvDim  = int64(cfg.KVDim())
		half   = int64(cfg.HeadSize() / 2)
	)
	s := &RunState{seqLen: cfg.SeqLen, kvDim: cfg.KVDim()}

	cache, ok := mulInt64(int64(cfg.NumLayers), seq, kvDim)
	if !ok {
		return nil, &AllocationError{Buffer: "key_cache", Bytes: math.MaxInt64, Err: ErrStateTooLarge}
	}
	att, ok := mulInt64(int64(cfg.NumHeads), seq)
	if !ok {
		return nil, &AllocationError{Buffer: "att", Bytes: math.MaxInt64, Err: ErrStateTooLarge}
	}
	buffers := []stateBuffer{
		{"x", &s.X, dim},
		{"xb", &s.XB, dim},
		{"xb2", &s.XB2, dim},
		{"hb", &s.HB, hidden},
		{"hb2", &s.HB2, hidden},
		{"q", &s.Q, dim},
		{"att", &s.Att, att},
		{"logits", &s.Logits, int64(cfg.VocabSize)},
		{"key_cache", &s.KeyCache, cache},
		{"value_cache", &s.ValueCache, cache},
		{"rope_cos", &s.ropeCos, half},
		{"rope_sin", &s.ropeSin, half},
	}

	var total int64
	for _, b := range buffers {
		if b.n > (math.MaxInt64-total)/4 {
			return nil, &AllocationError{Buffer: b.name, Bytes: math.MaxInt64, Err: ErrStateTooLarge}
		}
		total += 4 * b.n
	}
	if maxBytes > 0 && total > maxBytes {
		return nil, &AllocationError{
			Bytes: total,
			Err:   fmt.Errorf("%w: need %d bytes, limit %d", ErrStateTooLarge, total, maxBytes),
		}
	}
	for _, b := range buffers {
		buf, err := allocFloats(b.name, b.n)
		if err != nil {
			return nil, err
		}
		*b.dst = buf
	}
	s.bytes = total
	return s, nil
}

// allocFloats converts the runtime's panic for an impossible length into an
// error. Exhausting memory outright is still fatal to the process.
func allocFloats(name string, n int64) (buf []float32, err error) {
	if n > int64(math.MaxInt) {
		return nil, &AllocationError{Buffer: name, Bytes: 4 * n, Err: ErrStateTooLarge}
	}
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = &AllocationError{Buffer: name, Bytes: 4 * n, Err: fmt.Errorf("%v", r)}
		}
	}()
	return make([]float32, int(n)), nil
}

func mulInt64(dims ...int64) (int64, bool) {
	n := int64(1)
	for _, d := range dims {
		if d != 0 && n > math.MaxInt64/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// KeyAt returns the cached key row written by layer at pos.
func (s *RunState) KeyAt(layer, pos int) []float32 {
	off := (layer*s.seqLen + pos) * s.kvDim
	return s.KeyCache[off : off+s.kvDim : off+s.kvDim]
}

// ValueAt returns the cached value row written by layer at pos.
func (s *RunState) ValueAt(layer, pos int) []float32 {
	off := (layer*s.seqLen + pos) * s.kvDim
	return s.ValueCache[off : off+s.kvDim : off+s.kvDim]
}

// Reset zeroes every buffer so the state can start a new sequence.
func (s *RunState) Reset() {
	for _, b := range [][]float32{
		s.X, s.XB, s.XB2, s.HB, s.HB2, s.Q, s.Att, s.Logits, s.KeyCache, s.ValueCache,
	} {
		clear(b)
	}
}

// Bytes is the total size of the state's buffers.
func (s *RunState) Bytes() int64 { return s.bytes }

// SeqLen is the capacity of the cache in positions.
func (s *RunState) SeqLen() int { return s.seqLen }
