package inference

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/logits"
	"github.com/samcharles93/llamacore/internal/model"
)

var (
	ErrEmptyPrompt   = errors.New("prompt must contain at least one token")
	ErrPromptTooLong = errors.New("prompt does not fit in the context window")
)

type Stats struct {
	PromptTokens    int           `json:"prompt_tokens"`
	TokensGenerated int           `json:"tokens_generated"`
	PrefillDuration time.Duration `json:"prefill_duration"`
	Duration        time.Duration `json:"duration"`
	TPS             float64       `json:"tokens_per_second"`
}

// Generator drives a model through prefill and sampling for one sequence.
type Generator struct {
	Model   model.Model
	Sampler *logits.Sampler
	// StopTokens end generation when sampled. The stop token is not emitted.
	StopTokens []int
	Logger     logger.Logger
}

// Generate runs prompt through m from position 0 and then samples up to
// steps tokens, calling emit for each. It returns the full token sequence,
// prompt included.
func Generate(ctx context.Context, m model.Model, s *logits.Sampler, prompt []int, steps int, emit func(int)) ([]int, Stats, error) {
	g := &Generator{Model: m, Sampler: s}
	return g.Run(ctx, prompt, steps, emit)
}

// Run resets the model and generates a fresh sequence. Generation stops
// after steps tokens, at a stop token, when the sequence fills the context
// window, or when ctx is done. Cancellation returns the tokens so far along
// with ctx's error.
func (g *Generator) Run(ctx context.Context, prompt []int, steps int, emit func(int)) ([]int, Stats, error) {
	var stats Stats
	log := g.Logger
	if log == nil {
		log = logger.Discard()
	}
	seqLen := g.Model.Config().SeqLen
	if len(prompt) == 0 {
		return nil, stats, ErrEmptyPrompt
	}
	if len(prompt) > seqLen {
		return nil, stats, fmt.Errorf("%w: %d tokens, seq_len %d", ErrPromptTooLong, len(prompt), seqLen)
	}
	stats.PromptTokens = len(prompt)

	g.Model.Reset()
	start := time.Now()
	var (
		logitsVec []float32
		err       error
	)
	for pos, id := range prompt {
		if err := ctx.Err(); err != nil {
			return slices.Clone(prompt[:pos]), stats, err
		}
		logitsVec, err = safeForward(g.Model, id, pos)
		if err != nil {
			return nil, stats, fmt.Errorf("forward error during prefill at pos %d: %w", pos, err)
		}
	}
	stats.PrefillDuration = time.Since(start)
	log.Debug("prefill done", "tokens", len(prompt), "duration", stats.PrefillDuration)

	toks := slices.Clone(prompt)
	genStart := time.Now()

	for stats.TokensGenerated < steps && len(toks) < seqLen {
		if err := ctx.Err(); err != nil {
			return toks, finish(stats, genStart), err
		}
		next, err := safeSample(g.Sampler, logitsVec, toks)
		if err != nil {
			return toks, finish(stats, genStart), err
		}
		if slices.Contains(g.StopTokens, next) {
			log.Debug("stop token sampled", "token", next, "pos", len(toks))
			break
		}
		toks = append(toks, next)
		stats.TokensGenerated++
		if emit != nil {
			emit(next)
		}
		if stats.TokensGenerated == steps || len(toks) == seqLen {
			break
		}
		logitsVec, err = safeForward(g.Model, next, len(toks)-1)
		if err != nil {
			return toks, finish(stats, genStart), fmt.Errorf("forward error during generation step %d: %w", stats.TokensGenerated, err)
		}
	}
	return toks, finish(stats, genStart), nil
}

func finish(stats Stats, genStart time.Time) Stats {
	stats.Duration = time.Since(genStart)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
	}
	return stats
}

func safeForward(m model.Model, token, pos int) (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Forward: %v", r)
		}
	}()
	return m.Forward(token, pos)
}

func safeSample(s *logits.Sampler, x []float32, recent []int) (id int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Sample: %v", r)
		}
	}()
	return s.Sample(x, recent), nil
}
