package sizing

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestToInt(t *testing.T) {
	t.Parallel()

	n, err := ToInt(4096, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)

	_, err = ToInt(-1, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}

func TestToUint16(t *testing.T) {
	t.Parallel()

	n, err := ToUint16(math.MaxUint16, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, uint16(math.MaxUint16), n)

	_, err = ToUint16(math.MaxUint16+1, errOverflow)
	require.ErrorIs(t, err, errOverflow)
	_, err = ToUint16(-1, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}

func TestToUint32(t *testing.T) {
	t.Parallel()

	_, err := ToUint32(math.MaxUint32+1, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}

func TestSectorBytes(t *testing.T) {
	t.Parallel()

	off, ok := SectorBytes(4)
	require.True(t, ok)
	assert.Equal(t, int64(8192), off)

	_, ok = SectorBytes(math.MaxUint64)
	assert.False(t, ok)
}

func TestAddUint64Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("reports overflow exactly when the sum wraps", prop.ForAll(
		func(a, b uint64) bool {
			sum, ok := AddUint64(a, b)
			if a > math.MaxUint64-b {
				return !ok
			}
			return ok && sum == a+b
		},
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(strings.NewReader("abcd"), 4, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	_, err = ReadAllWithLimit(strings.NewReader("abcde"), 4, errOverflow)
	require.ErrorIs(t, err, errOverflow)

	_, err = ReadAllWithLimit(bytes.NewReader(nil), math.MaxUint64, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}

// endless yields zeros forever and counts what was read.
type endless struct{ n int }

func (e *endless) Read(p []byte) (int, error) {
	clear(p)
	e.n += len(p)
	return len(p), nil
}

func TestReadAllWithLimitStopsEarly(t *testing.T) {
	t.Parallel()

	r := &endless{}
	_, err := ReadAllWithLimit(r, 1<<20, errOverflow)
	require.ErrorIs(t, err, errOverflow)
	assert.Equal(t, 1<<20+1, r.n)
}
