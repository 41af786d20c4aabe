// Package sizing provides overflow-checked size arithmetic for archive images.
package sizing

import (
	"io"
	"math"

	"github.com/meigma/img/core/internal/layout"
)

// ToInt converts a non-negative int64 to int, returning overflowErr if it doesn't fit.
func ToInt(size int64, overflowErr error) (int, error) {
	if size < 0 || size > int64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToUint16 converts n to uint16, returning overflowErr if it doesn't fit.
func ToUint16(n int, overflowErr error) (uint16, error) {
	if n < 0 || n > math.MaxUint16 {
		return 0, overflowErr
	}
	return uint16(n), nil
}

// ToUint32 converts n to uint32, returning overflowErr if it doesn't fit.
func ToUint32(n uint64, overflowErr error) (uint32, error) {
	if n > math.MaxUint32 {
		return 0, overflowErr
	}
	return uint32(n), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// ReadAllWithLimit reads up to maxSize bytes from r.
// It returns overflowErr if r holds more than maxSize bytes.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	limit := int64(maxSize) + 1 //nolint:gosec // checked above
	lr := &io.LimitedReader{R: r, N: limit}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize { //nolint:gosec // len is always non-negative
		return nil, overflowErr
	}
	return data, nil
}

// SectorBytes returns the byte position of sector, or false if it does not
// fit in an int64 file offset.
func SectorBytes(sector uint64) (int64, bool) {
	if sector > uint64(math.MaxInt64/layout.SectorSize) {
		return 0, false
	}
	return int64(sector) * layout.SectorSize, true //nolint:gosec // checked above
}
