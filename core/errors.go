package img

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/meigma/img/core/internal/platform"
)

// Load errors. Open fails with one of these and returns no Archive.
var (
	// ErrCorruptHeader is returned when the file is shorter than the header.
	ErrCorruptHeader = errors.New("img: corrupt header")

	// ErrCorruptDirectory is returned when the file ends before every
	// directory record has been read.
	ErrCorruptDirectory = errors.New("img: corrupt directory")
)

// Lookup and extraction errors.
var (
	// ErrNotFound is returned when a name is not in the directory.
	// It matches fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("img: entry not found: %w", fs.ErrNotExist)

	// ErrTruncatedPayload is returned when the file ends inside an entry's sectors.
	ErrTruncatedPayload = errors.New("img: truncated payload")
)

// Save errors reported per queued addition. Each is wrapped in a *NameError.
var (
	// ErrNameTooLong is returned when a name does not fit in 23 bytes.
	ErrNameTooLong = errors.New("img: name too long")

	// ErrNameCollision is returned when an added name is still in the
	// directory because it was not also deleted.
	ErrNameCollision = errors.New("img: name already exists")

	// ErrPayloadTooLarge is returned when a payload's byte length does not
	// fit the 16-bit declared size field.
	ErrPayloadTooLarge = errors.New("img: payload too large")

	// ErrInvalidName is returned for empty names and names containing NUL.
	ErrInvalidName = errors.New("img: invalid name")
)

// Other errors.
var (
	// ErrSaveFailed is returned when the rebuilt image could not be written
	// over the live file. The queued changes are kept.
	ErrSaveFailed = errors.New("img: save failed")

	// ErrInvalidTag is returned when a format tag is not exactly 4 bytes.
	ErrInvalidTag = errors.New("img: format tag must be 4 bytes")

	// ErrClosed is returned when operating on a closed Archive.
	ErrClosed = errors.New("img: archive is closed")

	// ErrLocked is returned by Open when another Archive holds the file.
	ErrLocked = platform.ErrLocked
)

// NameError records a queued addition that Save rejected.
type NameError struct {
	Name string
	Err  error
}

// Error implements error.
func (e *NameError) Error() string {
	return fmt.Sprintf("%s: %q", e.Err, e.Name)
}

// Unwrap returns the underlying sentinel.
func (e *NameError) Unwrap() error {
	return e.Err
}

// Rejected returns every *NameError joined into err, in order.
func Rejected(err error) []*NameError {
	var out []*NameError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if ne, ok := err.(*NameError); ok { //nolint:errorlint // walking the tree by hand
			out = append(out, ne)
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		walk(errors.Unwrap(err))
	}
	walk(err)
	return out
}

// RejectedNames returns the names of every *NameError joined into err.
func RejectedNames(err error) []string {
	var names []string
	for _, ne := range Rejected(err) {
		names = append(names, ne.Name)
	}
	return names
}
