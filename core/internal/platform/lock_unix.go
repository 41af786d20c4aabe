//go:build unix

package platform

import (
	"errors"
	"os"
	"syscall"
)

// ErrLocked is returned when another holder already locks the file.
var ErrLocked = errors.New("file is locked by another process")

// Lock takes an exclusive, non-blocking advisory lock on f.
// The lock is released by Unlock or when f is closed.
func Lock(f *os.File) error {
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) //nolint:gosec // fd fits in int
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLocked
		}
		return err
	}
}

// Unlock releases a lock taken with Lock.
func Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:gosec // fd fits in int
}
