package index

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/img/core/internal/layout"
)

func TestIndexPreservesOrder(t *testing.T) {
	t.Parallel()

	idx := New(3)
	idx.Put(layout.Entry{Name: "c.dff", SectorOffset: 9})
	idx.Put(layout.Entry{Name: "a.dff", SectorOffset: 3})
	idx.Put(layout.Entry{Name: "b.txd", SectorOffset: 5})

	var names []string
	for e := range idx.All() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"c.dff", "a.dff", "b.txd"}, names)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, uint32(9), idx.HighWater())
}

func TestIndexLastRecordWins(t *testing.T) {
	t.Parallel()

	idx := New(0)
	assert.False(t, idx.Put(layout.Entry{Name: "dup", SectorOffset: 20, SectorCount: 1}))
	assert.False(t, idx.Put(layout.Entry{Name: "other", SectorOffset: 2}))
	assert.True(t, idx.Put(layout.Entry{Name: "dup", SectorOffset: 4, SectorCount: 2}))

	got, ok := idx.Lookup("dup")
	require.True(t, ok)
	assert.Equal(t, uint32(4), got.SectorOffset)
	assert.Equal(t, uint16(2), got.SectorCount)

	names := slices.Collect(func(yield func(string) bool) {
		for e := range idx.All() {
			if !yield(e.Name) {
				return
			}
		}
	})
	assert.Equal(t, []string{"dup", "other"}, names, "first occurrence keeps its position")
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 1, idx.Duplicates())
	assert.Equal(t, uint32(20), idx.HighWater(), "replaced records still raise the high-water mark")
}

func TestIndexZeroValue(t *testing.T) {
	t.Parallel()

	var idx Index
	assert.False(t, idx.Has("x"))
	_, ok := idx.Lookup("x")
	assert.False(t, ok)

	idx.Put(layout.Entry{Name: "x"})
	assert.True(t, idx.Has("x"))
}

func TestIndexEntriesIsCopy(t *testing.T) {
	t.Parallel()

	idx := New(1)
	idx.Put(layout.Entry{Name: "x", SectorOffset: 1})

	entries := idx.Entries()
	entries[0].SectorOffset = 99

	got, _ := idx.Lookup("x")
	assert.Equal(t, uint32(1), got.SectorOffset)
}
