package ckpt

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

// FillFunc populates one tensor. dst is zeroed and has the extent's length.
type FillFunc func(t Tensor, shape []int64, dst []float32)

// Write emits a checkpoint for cfg in layout order. fill is invoked for every
// tensor except the legacy rotary blocks, which are written as zeros; a nil
// fill leaves all weights zero.
func Write(w io.Writer, cfg Config, fill FillFunc) error {
	layout, err := ComputeLayout(cfg)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := bw.Write(encodeHeader(cfg)); err != nil {
		return err
	}

	var buf [4]byte
	for _, ext := range layout.Extents {
		vals := make([]float32, ext.Len)
		if fill != nil && !ext.Tensor.Legacy() {
			fill(ext.Tensor, ext.Shape, vals)
		}
		for _, v := range vals {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
