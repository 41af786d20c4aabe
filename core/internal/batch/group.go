package batch

// rangeGroup represents a contiguous byte range of the archive.
// All entries in a group are fetched with a single read.
type rangeGroup struct {
	start   int64   // start byte offset
	end     int64   // end byte offset (exclusive)
	entries []Entry // entries within this range
}

// groupAdjacentEntries groups entries whose sectors follow each other.
//
// Entries must be sorted by SectorOffset and non-empty. An entry joins the
// current group when it starts exactly where the group ends and the grown
// group stays within maxBytes. Overlapping entries always start a new group.
func groupAdjacentEntries(entries []Entry, maxBytes int64) []rangeGroup {
	groups := make([]rangeGroup, 0, len(entries))
	current := rangeGroup{
		start:   entries[0].ByteOffset(),
		end:     entries[0].ByteOffset() + entries[0].ByteLength(),
		entries: []Entry{entries[0]},
	}

	for _, entry := range entries[1:] {
		start := entry.ByteOffset()
		end := start + entry.ByteLength()

		if start == current.end && end-current.start <= maxBytes {
			current.end = end
			current.entries = append(current.entries, entry)
			continue
		}
		groups = append(groups, current)
		current = rangeGroup{
			start:   start,
			end:     end,
			entries: []Entry{entry},
		}
	}
	return append(groups, current)
}
