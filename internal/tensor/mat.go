package tensor

import (
	"fmt"
	"math/rand"
)

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively. Data is not
// owned by the Mat: weight matrices are views into a checkpoint's mapped
// region and must be treated as read-only.
type Mat struct {
	R, C int
	Data []float32
}

// NewMat allocates a new zeroed matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Data: make([]float32, r*c)}
}

// NewMatFromData wraps existing data without copying.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, fmt.Errorf("%w: %dx%d over %d values", errDataSizeMismatch, r, c, len(data))
	}
	return Mat{R: r, C: c, Data: data}, nil
}

// Row returns a view of the i‑th row.
func (m Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.C
	return m.Data[start : start+m.C]
}

// FillRand fills the matrix with reproducible values in roughly (-scale/2, scale/2).
func FillRand(data []float32, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range data {
		data[i] = (rng.Float32() - 0.5) * scale
	}
}

var (
	errNegativeDim      = fmtError("negative dimension for matrix")
	errDataSizeMismatch = fmtError("matrix data length mismatch")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }
