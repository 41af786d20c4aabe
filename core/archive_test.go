package img

import (
	"bytes"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/img/core/testutil"
)

// openTest writes an archive built from records and opens it. The archive is
// closed when the test ends.
func openTest(t *testing.T, records ...testutil.Record) (*Archive, string) {
	t.Helper()
	path := testutil.WriteArchive(t, t.TempDir(), "VER2", records...)
	a, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, path
}

// reopen closes a and opens the file at path again.
func reopen(t *testing.T, a *Archive, path string, opts ...Option) *Archive {
	t.Helper()
	require.NoError(t, a.Close())
	b, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func names(a *Archive) []string {
	var out []string
	for e := range a.Entries() {
		out = append(out, e.Name)
	}
	return out
}

func TestOpenLoadsDirectory(t *testing.T) {
	t.Parallel()

	a, path := openTest(t,
		testutil.Record{Name: "b.dff", SectorOffset: 1, SectorCount: 2, DeclaredSize: 3000, Payload: testutil.Payload(3000, 1)},
		testutil.HelloRecord(),
	)

	assert.Equal(t, path, a.Path())
	assert.Equal(t, "VER2", a.FormatTag())
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, []string{"b.dff", "hello.txt"}, names(a))
	assert.Equal(t, uint32(4), a.HighWaterSector())

	assert.True(t, a.Exists("hello.txt"))
	assert.False(t, a.Exists("missing"))

	e, ok := a.Entry("b.dff")
	require.True(t, ok)
	assert.Equal(t, Entry{Name: "b.dff", SectorOffset: 1, SectorCount: 2, DeclaredSize: 3000}, e)
}

func TestOpenEmptyArchive(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, uint32(0), a.HighWaterSector())
	assert.Empty(t, names(a))
}

func TestOpenCorruption(t *testing.T) {
	t.Parallel()

	valid := testutil.Build("VER2", testutil.HelloRecord())

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty file", nil, ErrCorruptHeader},
		{"short header", []byte("VER2\x01"), ErrCorruptHeader},
		{"header only with records claimed", valid[:HeaderSize], ErrCorruptDirectory},
		{"directory cut mid-record", valid[:HeaderSize+EntrySize-1], ErrCorruptDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "bad.img")
			require.NoError(t, os.WriteFile(path, tt.data, 0o600))

			a, err := Open(path)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, a)
		})
	}
}

func TestOpenDirectoryOnlyIsValid(t *testing.T) {
	t.Parallel()

	// A record whose payload lies past the end of the file still loads;
	// only reading it fails.
	valid := testutil.Build("VER2", testutil.HelloRecord())
	path := filepath.Join(t.TempDir(), "dironly.img")
	require.NoError(t, os.WriteFile(path, valid[:HeaderSize+EntrySize], 0o600))

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.Exists("hello.txt"))
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "nope.img"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenDuplicateNamesLastWins(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t,
		testutil.Record{Name: "a", SectorOffset: 4, SectorCount: 1, Payload: []byte("first")},
		testutil.Record{Name: "b", SectorOffset: 5, SectorCount: 1, Payload: []byte("bee")},
		testutil.Record{Name: "a", SectorOffset: 6, SectorCount: 1, Payload: []byte("second")},
	)

	assert.Equal(t, 2, a.Len())
	assert.Equal(t, []string{"a", "b"}, names(a))
	assert.Equal(t, uint32(6), a.HighWaterSector())

	data, err := a.ExtractToMemory("a")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "second"))
}

func TestOpenUnterminatedName(t *testing.T) {
	t.Parallel()

	full := strings.Repeat("z", 24)
	a, _ := openTest(t, testutil.Record{Name: full, SectorOffset: 1, SectorCount: 1})

	assert.True(t, a.Exists(full))
	assert.False(t, a.Exists(full[:MaxNameLen]))
}

func TestEntriesIsStable(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t,
		testutil.Record{Name: "z", SectorOffset: 3, SectorCount: 1},
		testutil.Record{Name: "m", SectorOffset: 1, SectorCount: 1},
		testutil.Record{Name: "a", SectorOffset: 2, SectorCount: 1},
	)

	first := names(a)
	assert.Equal(t, []string{"z", "m", "a"}, first)
	assert.True(t, slices.Equal(first, names(a)))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t, testutil.HelloRecord())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.False(t, a.Exists("hello.txt"))
	_, ok := a.Entry("hello.txt")
	assert.False(t, ok)

	_, err := a.ExtractToMemory("hello.txt")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, a.Add("x", nil), ErrClosed)
	require.ErrorIs(t, a.Delete("x"), ErrClosed)
	require.ErrorIs(t, a.Replace("x", nil), ErrClosed)
	_, err = a.Save()
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpenPreservesFormatTag(t *testing.T) {
	t.Parallel()

	path := testutil.WriteArchive(t, t.TempDir(), "XYZW", testutil.HelloRecord())
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "XYZW", a.FormatTag())
	_, err = a.Save()
	require.NoError(t, err)
	assert.Equal(t, "XYZW", string(testutil.ReadFile(t, path)[:4]))
}

func TestOpenWarnsOnDuplicateNames(t *testing.T) {
	t.Parallel()

	path := testutil.WriteArchive(t, t.TempDir(), "VER2",
		testutil.Record{Name: "dup", SectorOffset: 1, SectorCount: 1, Payload: []byte("one")},
		testutil.Record{Name: "dup", SectorOffset: 2, SectorCount: 1, Payload: []byte("two")},
		testutil.HelloRecord(),
	)
	var logs bytes.Buffer
	a, err := Open(path, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 2, a.Len())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "duplicates=1 records=3 names=2")
}
