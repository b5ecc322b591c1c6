package ckpt

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the byte length of the fixed checkpoint header: seven
// little-endian int32 values.
const HeaderSize = 7 * 4

// Config holds the model hyperparameters read from a checkpoint header.
//
// The on-disk vocab field is sign-encoded; by the time a Config exists that
// has been split into a positive VocabSize and SharedClassifier.
type Config struct {
	Dim        int `json:"dim" yaml:"dim"`               // transformer dimension
	HiddenDim  int `json:"hidden_dim" yaml:"hidden_dim"` // for ffn layers
	NumLayers  int `json:"n_layers" yaml:"n_layers"`
	NumHeads   int `json:"n_heads" yaml:"n_heads"`       // number of query heads
	NumKVHeads int `json:"n_kv_heads" yaml:"n_kv_heads"` // can be < query heads (multiquery)
	VocabSize  int `json:"vocab_size" yaml:"vocab_size"`
	SeqLen     int `json:"seq_len" yaml:"seq_len"` // max sequence length

	// SharedClassifier reports that the classifier reuses the token embedding table.
	SharedClassifier bool `json:"shared_classifier" yaml:"shared_classifier"`
}

func (c Config) HeadSize() int {
	return c.Dim / c.NumHeads
}

// KVDim is the width of one key (or value) row in the cache.
func (c Config) KVDim() int {
	return c.Dim * c.NumKVHeads / c.NumHeads
}

// KVMul is the number of query heads sharing one key/value head.
func (c Config) KVMul() int {
	return c.NumHeads / c.NumKVHeads
}

// Validate checks the invariants the layout and forward pass rely on.
func (c Config) Validate() error {
	switch {
	case c.Dim <= 0:
		return fmt.Errorf("%w: dim %d", ErrInvalidHeader, c.Dim)
	case c.HiddenDim <= 0:
		return fmt.Errorf("%w: hidden_dim %d", ErrInvalidHeader, c.HiddenDim)
	case c.NumLayers <= 0:
		return fmt.Errorf("%w: n_layers %d", ErrInvalidHeader, c.NumLayers)
	case c.NumHeads <= 0:
		return fmt.Errorf("%w: n_heads %d", ErrInvalidHeader, c.NumHeads)
	case c.NumKVHeads <= 0 || c.NumKVHeads > c.NumHeads:
		return fmt.Errorf("%w: n_kv_heads %d (n_heads %d)", ErrInvalidHeader, c.NumKVHeads, c.NumHeads)
	case c.VocabSize <= 0:
		return fmt.Errorf("%w: vocab_size %d", ErrInvalidHeader, c.VocabSize)
	case c.SeqLen <= 0:
		return fmt.Errorf("%w: seq_len %d", ErrInvalidHeader, c.SeqLen)
	}
	if c.Dim%c.NumHeads != 0 {
		return fmt.Errorf("%w: dim %d not divisible by n_heads %d", ErrInvalidHeader, c.Dim, c.NumHeads)
	}
	if c.NumHeads%c.NumKVHeads != 0 {
		return fmt.Errorf("%w: n_heads %d not divisible by n_kv_heads %d", ErrInvalidHeader, c.NumHeads, c.NumKVHeads)
	}
	if (c.Dim*c.NumKVHeads)%c.NumHeads != 0 {
		return fmt.Errorf("%w: kv_dim is not integral", ErrInvalidHeader)
	}
	if c.HeadSize()%2 != 0 {
		return fmt.Errorf("%w: head size %d must be even for rotary encoding", ErrInvalidHeader, c.HeadSize())
	}
	return nil
}

func decodeHeader(b []byte) (Config, bool) {
	if len(b) < HeaderSize {
		return Config{}, false
	}
	field := func(i int) int {
		return int(int32(binary.LittleEndian.Uint32(b[i*4:])))
	}
	cfg := Config{
		Dim:        field(0),
		HiddenDim:  field(1),
		NumLayers:  field(2),
		NumHeads:   field(3),
		NumKVHeads: field(4),
		VocabSize:  field(5),
		SeqLen:     field(6),
	}
	// A negative vocab size marks a separate classifier matrix.
	cfg.SharedClassifier = cfg.VocabSize > 0
	if cfg.VocabSize < 0 {
		cfg.VocabSize = -cfg.VocabSize
	}
	return cfg, true
}

func encodeHeader(cfg Config) []byte {
	vocab := int32(cfg.VocabSize)
	if !cfg.SharedClassifier {
		vocab = -vocab
	}
	vals := [7]int32{
		int32(cfg.Dim),
		int32(cfg.HiddenDim),
		int32(cfg.NumLayers),
		int32(cfg.NumHeads),
		int32(cfg.NumKVHeads),
		vocab,
		int32(cfg.SeqLen),
	}
	b := make([]byte, HeaderSize)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
	}
	return b
}
