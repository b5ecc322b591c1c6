package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/llamacore/internal/model"
	"github.com/samcharles93/llamacore/pkg/ckpt"
)

var synthConfig = ckpt.Config{
	Dim: 8, HiddenDim: 12, NumLayers: 2, NumHeads: 2, NumKVHeads: 1,
	VocabSize: 9, SeqLen: 4, SharedClassifier: true,
}

func synthModel(t *testing.T, cfg ckpt.Config, seed int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := writeSynth(path, cfg, seed, 0.5); err != nil {
		t.Fatalf("writeSynth: %v", err)
	}
	return path
}

func TestParseTokenList(t *testing.T) {
	got, err := parseTokenList("1, 2,3\t4\n5")
	if err != nil {
		t.Fatalf("parseTokenList: %v", err)
	}
	if want := []int{1, 2, 3, 4, 5}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if got, err := parseTokenList("  "); err != nil || len(got) != 0 {
		t.Fatalf("blank list: got %v, %v", got, err)
	}
	for _, bad := range []string{"1,x", "-3", "2.5"} {
		if _, err := parseTokenList(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestResolveModelPath(t *testing.T) {
	if _, err := resolveModelPath(" "); err != errNoModel {
		t.Fatalf("expected errNoModel, got %v", err)
	}
	got, err := resolveModelPath("models/../models/stories15M.bin")
	if err != nil {
		t.Fatalf("resolveModelPath: %v", err)
	}
	if got != filepath.Join("models", "stories15M.bin") {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file is empty", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.Model != "" || cfg.Workers != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := "model: /models/stories15M.bin\nworkers: 3\ntemperature: 0.7\nsteps: 64\nlog_format: json\nmax_sessions: 2\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if cfg.Model != "/models/stories15M.bin" || cfg.LogFormat != "json" {
			t.Fatalf("unexpected config %+v", cfg)
		}
		if cfg.Workers == nil || *cfg.Workers != 3 {
			t.Fatalf("workers = %v", cfg.Workers)
		}
		if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
			t.Fatalf("temperature = %v", cfg.Temperature)
		}
		if cfg.Steps == nil || *cfg.Steps != 64 {
			t.Fatalf("steps = %v", cfg.Steps)
		}
		if cfg.MaxSessions == nil || *cfg.MaxSessions != 2 {
			t.Fatalf("max_sessions = %v", cfg.MaxSessions)
		}
		if cfg.TopK != nil {
			t.Fatalf("unset top_k should stay nil")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("workers: [\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected parse error")
		}
	})
}

func TestTopCandidates(t *testing.T) {
	got := topCandidates([]float32{0.1, 3, -1, 2, 3}, 3)
	want := []candidate{{1, 3}, {4, 3}, {3, 2}}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := topCandidates([]float32{1, 2}, 5); len(got) != 2 || got[0].Token != 1 {
		t.Fatalf("n larger than vocab: %v", got)
	}
	if got := topCandidates(nil, 3); len(got) != 0 {
		t.Fatalf("empty logits: %v", got)
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		512:             "512B",
		1536:            "1.5KiB",
		3 * 1024 * 1024: "3.0MiB",
	}
	for n, want := range cases {
		if got := humanBytes(n); got != want {
			t.Fatalf("humanBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestWriteSynthDeterministic(t *testing.T) {
	a, err := os.ReadFile(synthModel(t, synthConfig, 7))
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(synthModel(t, synthConfig, 7))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("same seed produced different checkpoints")
	}
	layout, err := ckpt.ComputeLayout(synthConfig)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(a)) != layout.Bytes() {
		t.Fatalf("size %d, want %d", len(a), layout.Bytes())
	}

	bad := synthConfig
	bad.NumKVHeads = 3
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := writeSynth(path, bad, 1, 0.5); err == nil {
		t.Fatalf("expected invalid config error")
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("invalid config left a file behind")
	}
}

func TestRunForwardMatchesEngine(t *testing.T) {
	path := synthModel(t, synthConfig, 3)
	opts := model.Options{Workers: -1}

	m, err := model.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()
	res, err := runForward(m, []int{1, 2}, 5, 3, true)
	if err != nil {
		t.Fatalf("runForward: %v", err)
	}
	if res.Pos != 2 || res.Token != 5 {
		t.Fatalf("unexpected result header %+v", res)
	}
	if len(res.Logits) != synthConfig.VocabSize || len(res.Top) != 3 {
		t.Fatalf("got %d logits and %d candidates", len(res.Logits), len(res.Top))
	}
	if res.Top[0].Token != res.Argmax {
		t.Fatalf("top candidate %d differs from argmax %d", res.Top[0].Token, res.Argmax)
	}

	ref, err := model.Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ref.Close()
	var want []float32
	for pos, tok := range []int{1, 2, 5} {
		if want, err = ref.Forward(tok, pos); err != nil {
			t.Fatal(err)
		}
	}
	if !slices.Equal(res.Logits, want) {
		t.Fatalf("runForward logits differ from a direct engine run")
	}

	m.Reset()
	if _, err := runForward(m, []int{1, 2, 3, 4}, 5, 0, false); err == nil {
		t.Fatalf("expected an error past seq_len")
	}
}

func TestRunBench(t *testing.T) {
	f, err := ckpt.Open(synthModel(t, synthConfig, 5))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rep, err := runBench(context.Background(), f, model.Options{Workers: -1}, 3, 100)
	if err != nil {
		t.Fatalf("runBench: %v", err)
	}
	if len(rep.Streams) != 3 {
		t.Fatalf("got %d streams", len(rep.Streams))
	}
	for i, s := range rep.Streams {
		if s.Stream != i || s.Steps != synthConfig.SeqLen {
			t.Fatalf("stream %d: %+v", i, s)
		}
	}
	if rep.Steps != 3*synthConfig.SeqLen {
		t.Fatalf("total steps %d", rep.Steps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runBench(ctx, f, model.Options{Workers: -1}, 2, 4); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestInspectReport(t *testing.T) {
	cfg := synthConfig
	cfg.SharedClassifier = false
	f, err := ckpt.Open(synthModel(t, cfg, 1))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rep, err := buildInspectReport(f)
	if err != nil {
		t.Fatalf("buildInspectReport: %v", err)
	}
	if rep.HeadSize != 4 || rep.KVDim != 4 || rep.KVMul != 2 {
		t.Fatalf("derived sizes %+v", rep)
	}
	if rep.StateBytes <= 0 || rep.Trailing != 0 {
		t.Fatalf("state=%d trailing=%d", rep.StateBytes, rep.Trailing)
	}

	var buf bytes.Buffer
	if err := printInspectReport(&buf, rep); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"kv_heads=1", "kv_mul=2", ckpt.WCLS.String(), "skipped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })

	cmd := versionCmd()
	if err := cmd.Run(context.Background(), []string{"version", "--json"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(buf.String(), `"version"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
