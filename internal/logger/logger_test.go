package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newPretty(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewPrettyHandler(buf, PrettyOptions{Level: level}))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"debug-4": slog.LevelDebug - 4,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Format{"": FormatPretty, "JSON": FormatJSON, " text ": FormatText, "pretty": FormatPretty} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSetupFormats(t *testing.T) {
	t.Parallel()
	cases := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"engine ready"`},
		{"text", `msg="engine ready"`},
		{"pretty", "INF engine ready"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		log, err := Setup(&buf, "info", tc.format)
		if err != nil {
			t.Fatalf("%s: %v", tc.format, err)
		}
		log.Info("engine ready", "dim", 288)
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("%s: expected %q in %q", tc.format, tc.want, buf.String())
		}
	}
	if _, err := Setup(&bytes.Buffer{}, "info", "yaml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := Setup(&bytes.Buffer{}, "chatty", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetupLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := Setup(&buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	log.Info("dropped")
	log.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %s", buf.String())
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("expected warn record, got %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard().With("session", "sess_1").WithGroup("engine")
	log.Error("nothing happens")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	newPretty(&buf, slog.LevelInfo).Info("forward", "pos", 3, "path", "/tmp/model.bin")

	line := buf.String()
	if !strings.HasSuffix(line, "INF forward pos=3 path=/tmp/model.bin\n") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, "\033[") {
		t.Fatalf("color codes without Color: %q", line)
	}
}

func TestPrettyLevels(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := newPretty(&buf, slog.LevelDebug)
	log.Debug("a")
	log.Warn("b")
	log.Error("c")
	for _, want := range []string{"DBG a", "WRN b", "ERR c"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %q in %q", want, buf.String())
		}
	}

	buf.Reset()
	newPretty(&buf, slog.LevelWarn).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info emitted at warn level: %q", buf.String())
	}
}

func TestPrettyGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := newPretty(&buf, slog.LevelInfo).With("model", "tiny").WithGroup("engine").With("layers", 2).WithGroup("attn")
	log.Info("step", "head", 1, slog.Group("kv", "mul", 4))

	want := " model=tiny engine.layers=2 engine.attn.head=1 engine.attn.kv.mul=4\n"
	if !strings.HasSuffix(buf.String(), want) {
		t.Fatalf("got %q, want suffix %q", buf.String(), want)
	}

	h := NewPrettyHandler(&buf, PrettyOptions{})
	if h.WithGroup("") != h {
		t.Fatal("empty group should return the same handler")
	}
}

func TestPrettyValues(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	newPretty(&buf, slog.LevelInfo).Info("values",
		"msg", "two words",
		"empty", "",
		"logits", []float32{0.5, -1, 2, 3, 4, 5},
		"short", []float32{1.5},
		"took", 1234567*time.Nanosecond,
		"err", errors.New("bad token"),
	)
	out := buf.String()
	for _, want := range []string{
		`msg="two words"`,
		`empty=""`,
		"logits=[0.5 -1 2 3 ...(6)]",
		"short=[1.5]",
		"took=1.235ms",
		`err="bad token"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestPrettyColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, PrettyOptions{Color: true})).Error("boom")
	if !strings.Contains(buf.String(), ansiRed+"ERR"+ansiReset) {
		t.Fatalf("expected colored level, got %q", buf.String())
	}
	if colorEnabled(&buf) {
		t.Fatal("a buffer is not a terminal")
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]bool{
		"simple":    false,
		"":          true,
		"a b":       true,
		"tab\there": true,
		`q"uote`:    true,
		"k=v":       true,
	} {
		if got := needsQuoting(s); got != want {
			t.Fatalf("needsQuoting(%q) = %v, want %v", s, got, want)
		}
	}
}
