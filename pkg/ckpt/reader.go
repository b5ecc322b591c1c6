package ckpt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"unsafe"
)

// File is an opened checkpoint. The float view returned by Floats borrows the
// file's backing memory and must not be used after Close.
type File struct {
	path     string
	cfg      Config
	layout   Layout
	data     []byte
	floats   []float32
	mapped   bool
	trailing int64
}

// Open maps a checkpoint read-only and exposes its weight region without
// copying. If mmap is unavailable (or the host is big-endian) it falls back to
// a decoding ReadAt. The returned file must be closed to release the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadErr(path, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, loadErr(path, err)
	}
	size := stat.Size()

	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, loadErr(path, fmt.Errorf("%w: file is %d bytes", ErrTruncatedHeader, size))
		}
		return nil, loadErr(path, err)
	}
	layout, err := parseHeader(hdr, size)
	if err != nil {
		return nil, loadErr(path, err)
	}

	// Prefer mmap for zero-copy tensor views.
	data, mapErr := mapFile(f, int(size))
	if mapErr == nil {
		if hostLittleEndian {
			return newMappedFile(path, layout, data, size), nil
		}
		_ = unmapFile(data)
	}

	data, err = readAllAt(f, size)
	if err != nil {
		if mapErr != nil {
			err = fmt.Errorf("%w: mmap: %v; read: %w", ErrMapFailed, mapErr, err)
		}
		return nil, loadErr(path, err)
	}
	return newDecodedFile(path, layout, data, size), nil
}

// OpenReaderAt loads and validates a checkpoint from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < HeaderSize {
		return nil, loadErr("", fmt.Errorf("%w: size %d", ErrTruncatedHeader, size))
	}
	hdr := make([]byte, HeaderSize)
	if _, err := r.ReadAt(hdr, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, loadErr("", err)
	}
	layout, err := parseHeader(hdr, size)
	if err != nil {
		return nil, loadErr("", err)
	}
	data, err := readAllAt(r, size)
	if err != nil {
		return nil, loadErr("", err)
	}
	return newDecodedFile("", layout, data, size), nil
}

func parseHeader(hdr []byte, size int64) (Layout, error) {
	cfg, ok := decodeHeader(hdr)
	if !ok {
		return Layout{}, ErrTruncatedHeader
	}
	layout, err := ComputeLayout(cfg)
	if err != nil {
		return Layout{}, err
	}
	if size < layout.Bytes() {
		return Layout{}, fmt.Errorf("%w: have %d bytes, layout needs %d", ErrTruncatedData, size, layout.Bytes())
	}
	if size > int64(math.MaxInt) {
		// cannot index this file safely as []byte on this architecture.
		return Layout{}, fmt.Errorf("%w: file too large to address", ErrInvalidHeader)
	}
	return layout, nil
}

func newMappedFile(path string, layout Layout, data []byte, size int64) *File {
	n := layout.Elements()
	floats := unsafe.Slice((*float32)(unsafe.Pointer(&data[HeaderSize])), int(n))
	return &File{
		path:     path,
		cfg:      layout.Config,
		layout:   layout,
		data:     data,
		floats:   floats,
		mapped:   true,
		trailing: size - layout.Bytes(),
	}
}

func newDecodedFile(path string, layout Layout, data []byte, size int64) *File {
	n := int(layout.Elements())
	floats := make([]float32, n)
	body := data[HeaderSize:]
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return &File{
		path:     path,
		cfg:      layout.Config,
		layout:   layout,
		floats:   floats,
		trailing: size - layout.Bytes(),
	}
}

func readAllAt(r io.ReaderAt, size int64) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < size {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == size {
			break
		}
		if err == io.EOF {
			return nil, fmt.Errorf("%w: short read at %d of %d", ErrTruncatedData, off, size)
		}
		return nil, err
	}
	return out, nil
}

// Close releases the mapping. It is safe to call more than once.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.mapped && f.data != nil {
		err = unmapFile(f.data)
	}
	f.data = nil
	f.floats = nil
	f.mapped = false
	return err
}

func (f *File) Path() string { return f.path }

func (f *File) Config() Config { return f.cfg }

func (f *File) Layout() Layout { return f.layout }

// Floats returns the weight region as float32 values, in layout order.
func (f *File) Floats() []float32 { return f.floats }

// Mapped reports whether Floats is backed by a memory mapping.
func (f *File) Mapped() bool { return f.mapped }

// Trailing is the number of bytes after the last tensor.
func (f *File) Trailing() int64 { return f.trailing }

// Closed reports whether Close has released the weight region.
func (f *File) Closed() bool { return f.floats == nil }

var hostLittleEndian = func() bool {
	probe := uint16(1)
	return *(*byte)(unsafe.Pointer(&probe)) == 1
}()
