//go:build !unix

package platform

import (
	"errors"
	"os"
)

// ErrLocked is returned when another holder already locks the file.
var ErrLocked = errors.New("file is locked by another process")

// Lock is a no-op on platforms without flock.
func Lock(*os.File) error {
	return nil
}

// Unlock is a no-op on platforms without flock.
func Unlock(*os.File) error {
	return nil
}
