package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/llamacore/internal/tensor"
	"github.com/samcharles93/llamacore/pkg/ckpt"
)

// fixtureConfig is the one-layer model whose logits are pinned in
// TestForwardFixtureLogits.
func fixtureConfig() ckpt.Config {
	return ckpt.Config{
		Dim: 4, HiddenDim: 8, NumLayers: 1, NumHeads: 2, NumKVHeads: 2,
		VocabSize: 5, SeqLen: 4, SharedClassifier: true,
	}
}

// fixtureFill gives norm weights near one and every other tensor a short
// repeating pattern of multiples of 0.05 in [-0.25, 0.25].
func fixtureFill(t ckpt.Tensor, _ []int64, dst []float32) {
	switch t {
	case ckpt.RMSAttention, ckpt.RMSFFN, ckpt.RMSFinal:
		for i := range dst {
			dst[i] = 1 + float32(i%3)/10
		}
	default:
		for i := range dst {
			dst[i] = float32((i*7+int(t)*3)%11-5) / 20
		}
	}
}

func randomFill(seed int64) ckpt.FillFunc {
	return func(t ckpt.Tensor, _ []int64, dst []float32) {
		tensor.FillRand(dst, seed+int64(t), 0.5)
		switch t {
		case ckpt.RMSAttention, ckpt.RMSFFN, ckpt.RMSFinal:
			for i := range dst {
				dst[i] += 1
			}
		}
	}
}

func writeModel(t *testing.T, cfg ckpt.Config, fill ckpt.FillFunc) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	if err := ckpt.Write(f, cfg, fill); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close checkpoint: %v", err)
	}
	return path
}

func openEngine(t *testing.T, cfg ckpt.Config, fill ckpt.FillFunc, opts Options) *Engine {
	t.Helper()
	e, err := Open(writeModel(t, cfg, fill), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mustForward(t *testing.T, e *Engine, token, pos int) []float32 {
	t.Helper()
	logits, err := e.Forward(token, pos)
	if err != nil {
		t.Fatalf("Forward(%d, %d): %v", token, pos, err)
	}
	return append([]float32(nil), logits...)
}
