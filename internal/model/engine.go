package model

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/metrics"
	"github.com/samcharles93/llamacore/internal/parallel"
	"github.com/samcharles93/llamacore/internal/tensor"
	"github.com/samcharles93/llamacore/pkg/ckpt"
)

// Model advances a single sequence one token at a time.
type Model interface {
	// Forward runs token at pos and returns the logits for the next token.
	Forward(token, pos int) ([]float32, error)
	// Config describes the loaded checkpoint.
	Config() ckpt.Config
	// Reset clears the key/value cache for a new sequence.
	Reset()
}

// Options tune an Engine.
type Options struct {
	// Workers sets the size of the worker pool. Zero uses the shared process
	// pool, a negative value runs every kernel on the calling goroutine.
	Workers int
	// Logger receives load and lifecycle events. Nil discards them.
	Logger logger.Logger
	// MaxStateBytes caps the run state allocation. Zero means no cap.
	MaxStateBytes int64
}

// Engine runs forward steps over one checkpoint with its own run state.
// Engines created with New may share a *ckpt.File; a single Engine must not
// be used from two goroutines at once, and a call that overlaps another
// fails with ErrConcurrentUse.
type Engine struct {
	cfg     ckpt.Config
	file    *ckpt.File
	ownFile bool
	weights *Weights
	state   *RunState

	pool    *parallel.Pool
	ownPool bool
	invFreq []float64
	log     logger.Logger

	busy    atomic.Bool
	lastPos int
}

var _ Model = (*Engine)(nil)

// Open maps the checkpoint at path and builds an engine that owns it.
func Open(path string, opts Options) (*Engine, error) {
	f, err := ckpt.Open(path)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	e.ownFile = true
	return e, nil
}

// New builds an engine over an already opened checkpoint. The caller keeps
// ownership of f and must close it after every engine using it is closed.
func New(f *ckpt.File, opts Options) (*Engine, error) {
	return newEngine(f, opts)
}

func newEngine(f *ckpt.File, opts Options) (*Engine, error) {
	if f == nil || f.Closed() {
		return nil, errors.New("model: checkpoint is closed")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	cfg := f.Config()

	w, err := NewWeights(f.Layout(), f.Floats())
	if err != nil {
		return nil, err
	}
	s, err := NewRunState(cfg, opts.MaxStateBytes)
	if err != nil {
		log.Warn("run state allocation failed", "error", err)
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		file:    f,
		weights: w,
		state:   s,
		invFreq: tensor.RopeInvFreq(cfg.HeadSize()),
		log:     log,
		lastPos: -1,
	}
	switch {
	case opts.Workers == 0:
		e.pool = parallel.Default()
	case opts.Workers > 0:
		e.pool = parallel.NewPool(opts.Workers)
		e.ownPool = true
	}

	metrics.RecordState(s.Bytes(), 1)
	log.Debug("engine ready",
		"path", f.Path(),
		"dim", cfg.Dim,
		"layers", cfg.NumLayers,
		"heads", cfg.NumHeads,
		"kv_heads", cfg.NumKVHeads,
		"vocab", cfg.VocabSize,
		"seq_len", cfg.SeqLen,
		"shared_classifier", cfg.SharedClassifier,
		"mapped", f.Mapped(),
		"state_bytes", s.Bytes(),
		"workers", e.pool.Size(),
	)
	return e, nil
}

// Config returns the checkpoint configuration.
func (e *Engine) Config() ckpt.Config { return e.cfg }

// Weights returns the weight table. It is read-only.
func (e *Engine) Weights() *Weights { return e.weights }

// State exposes the run state for inspection. It must not be modified and is
// only consistent between Forward calls.
func (e *Engine) State() *RunState { return e.state }

// Pos is the position of the most recent successful step, or -1.
func (e *Engine) Pos() int { return e.lastPos }

// Forward computes the logits for token at pos, writing the key and value
// for pos into the cache. Positions 0..pos-1 must already have been run on
// this engine since the last Reset for the result to be meaningful.
//
// The returned slice is the state's logits buffer and is overwritten by the
// next call.
func (e *Engine) Forward(token, pos int) ([]float32, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrConcurrentUse
	}
	defer e.busy.Store(false)

	if e.state == nil {
		return nil, ErrClosed
	}
	if err := e.checkArgs(token, pos); err != nil {
		return nil, err
	}

	start := time.Now()
	e.forward(token, pos)
	e.lastPos = pos
	metrics.RecordForward(pos, time.Since(start))
	return e.state.Logits, nil
}

func (e *Engine) checkArgs(token, pos int) error {
	var err *PreconditionError
	switch {
	case token < 0 || token >= e.cfg.VocabSize:
		err = &PreconditionError{Arg: "token", Value: token, Limit: e.cfg.VocabSize}
	case pos < 0 || pos >= e.cfg.SeqLen:
		err = &PreconditionError{Arg: "pos", Value: pos, Limit: e.cfg.SeqLen}
	default:
		return nil
	}
	metrics.PreconditionViolations.WithLabelValues(err.Arg).Inc()
	return err
}

func (e *Engine) forward(token, pos int) {
	var (
		cfg = e.cfg
		w   = e.weights
		s   = e.state
		hs  = cfg.HeadSize()
	)

	copy(s.X, w.TokenEmbedding.Row(token))
	tensor.RopeAngles(s.ropeCos, s.ropeSin, pos, e.invFreq)

	for l := range w.Layers {
		layer := &w.Layers[l]

		tensor.RMSNorm(s.XB, s.X, layer.RMSAttention, tensor.RMSEpsilon)

		// k and v land directly in this position's cache row.
		k := s.KeyAt(l, pos)
		v := s.ValueAt(l, pos)
		tensor.MatVec(e.pool, s.Q, layer.WQ, s.XB)
		tensor.MatVec(e.pool, k, layer.WK, s.XB)
		tensor.MatVec(e.pool, v, layer.WV, s.XB)
		tensor.ApplyRoPE(s.Q, k, hs, s.ropeCos, s.ropeSin)

		e.attention(l, pos)

		tensor.MatVec(e.pool, s.XB2, layer.WO, s.XB)
		tensor.Add(s.X, s.XB2)

		tensor.RMSNorm(s.XB, s.X, layer.RMSFFN, tensor.RMSEpsilon)
		tensor.MatVec(e.pool, s.HB, layer.W1, s.XB)
		tensor.MatVec(e.pool, s.HB2, layer.W3, s.XB)
		tensor.SwiGLU(s.HB, s.HB2)
		tensor.MatVec(e.pool, s.XB, layer.W2, s.HB)
		tensor.Add(s.X, s.XB)
	}

	tensor.RMSNorm(s.X, s.X, w.RMSFinal, tensor.RMSEpsilon)
	tensor.MatVec(e.pool, s.Logits, w.WCLS, s.X)
}

// AttentionWeights returns a copy of head's normalised attention weights
// from the most recent step, one per position 0..Pos(). It returns nil before
// the first step or for an unknown head.
func (e *Engine) AttentionWeights(head int) []float32 {
	if e.state == nil || e.lastPos < 0 || head < 0 || head >= e.cfg.NumHeads {
		return nil
	}
	off := head * e.cfg.SeqLen
	out := make([]float32, e.lastPos+1)
	copy(out, e.state.Att[off:off+e.lastPos+1])
	return out
}

// Reset clears the run state so the engine can start a new sequence at
// position 0.
func (e *Engine) Reset() {
	if !e.busy.CompareAndSwap(false, true) {
		return
	}
	defer e.busy.Store(false)
	if e.state != nil {
		e.state.Reset()
	}
	e.lastPos = -1
}

// Close releases the run state, the private pool and, for engines built
// with Open, the checkpoint mapping. It is safe to call more than once.
func (e *Engine) Close() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	defer e.busy.Store(false)
	if e.state == nil {
		return nil
	}
	metrics.RecordState(e.state.Bytes(), -1)
	e.state = nil
	e.weights = nil
	if e.ownPool {
		e.pool.Close()
	}
	e.pool = nil
	var err error
	if e.ownFile {
		err = e.file.Close()
	}
	e.file = nil
	e.log.Debug("engine closed")
	return err
}
