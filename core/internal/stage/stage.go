// Package stage provides scratch images used to build a new archive before
// it replaces the live file.
//
// An image is written with WriteAt in any order. Bytes never written read
// back as zero, so sector padding and gaps need no explicit fill.
package stage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Image is a random-access scratch buffer.
type Image interface {
	io.WriterAt
	io.ReaderAt

	// Size returns the length of the image: one past the last byte written,
	// or the value set by Extend, whichever is larger.
	Size() int64

	// Extend grows the image to at least n bytes with zeros.
	Extend(n int64) error

	// Close releases the image. Closing twice is a no-op.
	Close() error
}

// Memory is an Image backed by a byte slice.
type Memory struct {
	buf []byte
}

// NewMemory returns an empty in-memory image with capacity hint n.
func NewMemory(n int) *Memory {
	return &Memory{buf: make([]byte, 0, max(n, 0))}
}

// WriteAt implements io.WriterAt.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("stage: negative offset")
	}
	end := off + int64(len(p))
	if err := m.Extend(end); err != nil {
		return 0, err
	}
	return copy(m.buf[off:end], p), nil
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("stage: negative offset")
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the image length.
func (m *Memory) Size() int64 {
	return int64(len(m.buf))
}

// Extend grows the image to at least n bytes.
func (m *Memory) Extend(n int64) error {
	if n <= int64(len(m.buf)) {
		return nil
	}
	if n > int64(int(^uint(0)>>1)) {
		return errors.New("stage: image too large for memory")
	}
	m.buf = append(m.buf, make([]byte, int(n)-len(m.buf))...)
	return nil
}

// Close releases the buffer.
func (m *Memory) Close() error {
	m.buf = nil
	return nil
}

// TempFile is an Image backed by a temporary file that is removed on Close.
type TempFile struct {
	file *os.File
	path string
	size int64
}

// NewTempFile creates a temporary image file in dir.
// An empty dir uses the system temporary directory.
func NewTempFile(dir string) (*TempFile, error) {
	f, err := os.CreateTemp(dir, ".img-stage-*")
	if err != nil {
		return nil, fmt.Errorf("create stage file: %w", err)
	}
	return &TempFile{file: f, path: f.Name()}, nil
}

// WriteAt implements io.WriterAt.
func (t *TempFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := t.file.WriteAt(p, off)
	t.size = max(t.size, off+int64(n))
	return n, err
}

// ReadAt implements io.ReaderAt.
func (t *TempFile) ReadAt(p []byte, off int64) (int, error) {
	return t.file.ReadAt(p, off)
}

// Size returns the image length.
func (t *TempFile) Size() int64 {
	return t.size
}

// Extend grows the image to at least n bytes.
func (t *TempFile) Extend(n int64) error {
	if n <= t.size {
		return nil
	}
	if err := t.file.Truncate(n); err != nil {
		return fmt.Errorf("extend stage file: %w", err)
	}
	t.size = n
	return nil
}

// Path returns the location of the backing file.
func (t *TempFile) Path() string {
	return t.path
}

// Close closes and removes the backing file.
func (t *TempFile) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	if rmErr := os.Remove(t.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// Interface compliance.
var (
	_ Image = (*Memory)(nil)
	_ Image = (*TempFile)(nil)
)
