package ckpt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// patternFill stamps each tensor with its id in the integer part and the
// element index in the fraction so extents can be told apart.
func patternFill(t Tensor, _ []int64, dst []float32) {
	for i := range dst {
		dst[i] = patternValue(t, i)
	}
}

func patternValue(t Tensor, i int) float32 {
	return float32(t) + float32(i%100)/1000
}

func writeCheckpoint(t *testing.T, cfg Config, fill FillFunc) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	if err := Write(f, cfg, fill); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close checkpoint: %v", err)
	}
	return path
}

func TestOpenRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := tinyConfig(false)
	path := writeCheckpoint(t, cfg, patternFill)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			t.Fatalf("close: %v", cerr)
		}
	}()

	if f.Config() != cfg {
		t.Fatalf("config mismatch: got %+v want %+v", f.Config(), cfg)
	}
	if f.Trailing() != 0 {
		t.Fatalf("trailing: got %d", f.Trailing())
	}
	floats := f.Floats()
	if int64(len(floats)) != f.Layout().Elements() {
		t.Fatalf("floats: got %d want %d", len(floats), f.Layout().Elements())
	}
	for _, ext := range f.Layout().Extents {
		first := floats[ext.Offset]
		want := float32(ext.Tensor)
		if ext.Tensor.Legacy() {
			want = 0
		}
		if first != want {
			t.Fatalf("%s first element: got %v want %v", ext.Tensor, first, want)
		}
	}
}

func TestOpenNegativeVocabMeansSeparateClassifier(t *testing.T) {
	t.Parallel()

	path := writeCheckpoint(t, tinyConfig(false), nil)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v := int32(binary.LittleEndian.Uint32(raw[20:])); v != -5 {
		t.Fatalf("on-disk vocab field: got %d want -5", v)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if f.Config().VocabSize != 5 || f.Config().SharedClassifier {
		t.Fatalf("decoded config: %+v", f.Config())
	}
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "nope.bin"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T", err)
	}
}

func TestOpenTruncatedHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.bin")
	if err := os.WriteFile(path, make([]byte, 10), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("expected ErrTruncatedHeader, got %v", err)
	}
}

func TestOpenTruncatedData(t *testing.T) {
	t.Parallel()

	path := writeCheckpoint(t, tinyConfig(true), patternFill)
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, st.Size()-4); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	_, err = Open(path)
	if !errors.Is(err, ErrTruncatedData) {
		t.Fatalf("expected ErrTruncatedData, got %v", err)
	}
}

func TestOpenInvalidHeader(t *testing.T) {
	t.Parallel()

	hdr := encodeHeader(Config{Dim: 0, HiddenDim: 8, NumLayers: 1, NumHeads: 2, NumKVHeads: 2, VocabSize: 5, SeqLen: 4, SharedClassifier: true})
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, hdr, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestOpenTrailingBytes(t *testing.T) {
	t.Parallel()

	path := writeCheckpoint(t, tinyConfig(true), patternFill)
	out, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := out.Write(make([]byte, 8)); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = out.Close()

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if f.Trailing() != 8 {
		t.Fatalf("trailing: got %d want 8", f.Trailing())
	}
}

func TestOpenReaderAtDoesNotMap(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := tinyConfig(true)
	if err := Write(&buf, cfg, patternFill); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := OpenReaderAt(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	if f.Mapped() {
		t.Fatalf("OpenReaderAt should not mmap")
	}
	rms, _ := f.Layout().Find(RMSAttention)
	if got := f.Floats()[rms.Offset+3]; got != patternValue(RMSAttention, 3) {
		t.Fatalf("rms_att[3]: got %v", got)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !f.Closed() {
		t.Fatalf("file should report closed")
	}
}
