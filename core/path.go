package img

import (
	"path/filepath"
	"strings"
)

// dirOf returns the directory holding path, for placing scratch files next
// to the archive so the staging write stays on the same filesystem.
func dirOf(path string) string {
	return filepath.Dir(path)
}

// ValidateName reports whether name can be stored in a directory record.
//
// Names must be non-empty, must not contain NUL, and must fit in
// MaxNameLen bytes so the record keeps its terminator.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if strings.IndexByte(name, 0) >= 0 {
		return ErrInvalidName
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}
