package index

import (
	"iter"

	"github.com/meigma/img/core/internal/layout"
)

// Index is an ordered directory of archive entries.
//
// The zero value is an empty index ready to use.
type Index struct {
	entries    []layout.Entry
	positions  map[string]int
	highWater  uint32
	duplicates int
}

// New returns an empty index with room for n entries.
func New(n int) *Index {
	return &Index{
		entries:   make([]layout.Entry, 0, n),
		positions: make(map[string]int, n),
	}
}

// Put inserts e, or replaces the entry already stored under e.Name.
// A replaced entry keeps its original position. Put reports whether e
// replaced an existing entry.
func (idx *Index) Put(e layout.Entry) bool {
	if idx.positions == nil {
		idx.positions = make(map[string]int)
	}
	idx.highWater = max(idx.highWater, e.SectorOffset)
	if pos, ok := idx.positions[e.Name]; ok {
		idx.entries[pos] = e
		idx.duplicates++
		return true
	}
	idx.positions[e.Name] = len(idx.entries)
	idx.entries = append(idx.entries, e)
	return false
}

// Lookup returns the entry stored under name.
func (idx *Index) Lookup(name string) (layout.Entry, bool) {
	pos, ok := idx.positions[name]
	if !ok {
		return layout.Entry{}, false
	}
	return idx.entries[pos], true
}

// Has reports whether name is in the index.
func (idx *Index) Has(name string) bool {
	_, ok := idx.positions[name]
	return ok
}

// Len returns the number of distinct names in the index.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// HighWater returns the largest sector offset of any entry ever put.
//
// Entries replaced by a later record with the same name still count.
func (idx *Index) HighWater() uint32 {
	return idx.highWater
}

// Duplicates returns how many puts replaced an existing name.
func (idx *Index) Duplicates() int {
	return idx.duplicates
}

// All returns an iterator over the entries in directory order.
func (idx *Index) All() iter.Seq[layout.Entry] {
	return func(yield func(layout.Entry) bool) {
		for _, e := range idx.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entries returns a copy of the entries in directory order.
func (idx *Index) Entries() []layout.Entry {
	out := make([]layout.Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}
