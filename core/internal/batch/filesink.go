package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileMode is the permission of extracted files. Temp files are created
// private and widened on Commit.
const fileMode fs.FileMode = 0o644

// FileSink writes entries as files directly under a destination directory.
//
// Files are written to a temporary file in the destination and renamed to
// the final path on Commit, so partially written files are never visible.
type FileSink struct {
	destDir   string
	overwrite bool
	onCommit  func(name, dir string)

	mu       sync.Mutex // serializes onCommit
	rootOnce sync.Once
	root     *os.Root
	rootErr  error
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithOnCommit sets a callback invoked with (name, destDir) after each file
// is in place. Calls are serialized.
func WithOnCommit(fn func(name, dir string)) FileSinkOption {
	return func(s *FileSink) {
		s.onCommit = fn
	}
}

// NewFileSink creates a FileSink that writes to destDir.
// The directory is created, including parents, on first use.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{destDir: destDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidName reports whether name can be written as a single file directly
// under a destination directory.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`+"\x00") {
		return false
	}
	return filepath.IsLocal(name)
}

// ShouldProcess returns false for names that cannot be written safely, and
// for existing files when overwrite is disabled.
func (s *FileSink) ShouldProcess(entry Entry) bool {
	if !ValidName(entry.Name) {
		return false
	}
	if s.overwrite {
		return true
	}
	_, err := os.Lstat(filepath.Join(s.destDir, entry.Name))
	return errors.Is(err, fs.ErrNotExist)
}

// Close releases the destination root.
func (s *FileSink) Close() error {
	if s.root == nil {
		return nil
	}
	return s.root.Close()
}

func (s *FileSink) openRoot() (*os.Root, error) {
	s.rootOnce.Do(func() {
		if err := os.MkdirAll(s.destDir, 0o750); err != nil {
			s.rootErr = fmt.Errorf("create directory %s: %w", s.destDir, err)
			return
		}
		s.root, s.rootErr = os.OpenRoot(s.destDir)
	})
	return s.root, s.rootErr
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(entry Entry) (Committer, error) {
	if !ValidName(entry.Name) {
		return nil, &fs.PathError{Op: "extract", Path: entry.Name, Err: fs.ErrInvalid}
	}
	root, err := s.openRoot()
	if err != nil {
		return nil, err
	}

	tempFile, tempName, err := createTempFile(root, ".img-")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{
		name:     entry.Name,
		tempFile: tempFile,
		tempName: tempName,
		root:     root,
		sink:     s,
	}, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	name     string
	tempFile *os.File
	tempName string
	root     *os.Root
	sink     *FileSink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file and renames it to the final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Chmod(fileMode); err != nil {
		_ = c.tempFile.Close()        //nolint:errcheck // best-effort cleanup
		_ = c.root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := c.tempFile.Close(); err != nil {
		_ = c.root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := c.root.Rename(c.tempName, c.name); err != nil {
		_ = c.root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", filepath.Join(c.sink.destDir, c.name), err)
	}
	if c.sink.onCommit != nil {
		c.sink.mu.Lock()
		c.sink.onCommit(c.name, c.sink.destDir)
		c.sink.mu.Unlock()
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return c.root.Remove(c.tempName)
}

func createTempFile(root *os.Root, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		name := prefix + suffix
		f, err := root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
