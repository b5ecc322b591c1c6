//go:build !unix

package ckpt

import (
	"errors"
	"os"
)

func mapFile(*os.File, int) ([]byte, error) {
	return nil, errors.ErrUnsupported
}

func unmapFile([]byte) error {
	return nil
}
