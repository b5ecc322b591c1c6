package ckpt

import "errors"

var (
	ErrTruncatedHeader = errors.New("truncated checkpoint header")
	ErrInvalidHeader   = errors.New("invalid checkpoint header")
	ErrTruncatedData   = errors.New("truncated checkpoint tensor data")
	ErrMapFailed       = errors.New("checkpoint mapping failed")
)

// LoadError reports why a checkpoint could not be opened. Err is either an
// fs/io error or one of the sentinels above, possibly wrapped with detail.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return "ckpt: " + e.Err.Error()
	}
	return "ckpt: load " + e.Path + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func loadErr(path string, err error) error {
	return &LoadError{Path: path, Err: err}
}
