package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/logits"
	"github.com/samcharles93/llamacore/internal/model"
)

// stdout is a small seam for tests.
var stdout io.Writer = os.Stdout

var errNoModel = errors.New("no checkpoint given: pass --model or set " + envModel)

func resolveModelPath(flag string) (string, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return "", errNoModel
	}
	return filepath.Clean(flag), nil
}

// parseTokenList parses comma or whitespace separated token ids.
func parseTokenList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", f)
		}
		if id < 0 {
			return nil, fmt.Errorf("invalid token id %d: must be non-negative", id)
		}
		out = append(out, id)
	}
	return out, nil
}

func engineOptions(log logger.Logger) model.Options {
	return model.Options{
		Workers:       workers,
		Logger:        log,
		MaxStateBytes: maxStateBytes,
	}
}

func newSampler(o samplingOptions) *logits.Sampler {
	seed := o.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return logits.NewSampler(logits.SamplerConfig{
		Seed:          seed,
		Temperature:   float32(o.temperature),
		TopK:          int(o.topK),
		TopP:          float32(o.topP),
		RepeatPenalty: float32(o.repeatPenalty),
	})
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

type candidate struct {
	Token int     `json:"token"`
	Logit float32 `json:"logit"`
}

// topCandidates returns the n largest logits in descending order.
func topCandidates(logits []float32, n int) []candidate {
	n = min(n, len(logits))
	out := make([]candidate, 0, n+1)
	for i, v := range logits {
		pos := len(out)
		for pos > 0 && out[pos-1].Logit < v {
			pos--
		}
		if pos >= n {
			continue
		}
		out = append(out, candidate{})
		copy(out[pos+1:], out[pos:])
		out[pos] = candidate{Token: i, Logit: v}
		if len(out) > n {
			out = out[:n]
		}
	}
	return out
}
