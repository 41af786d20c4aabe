package batch

// ProcessStats contains statistics from a batch processing operation.
type ProcessStats struct {
	// Processed is the number of entries committed to the sink.
	Processed int

	// Skipped is the number of entries the sink declined.
	Skipped int

	// TotalBytes is the number of sector bytes written for processed entries.
	TotalBytes uint64
}

// ProgressEvent reports progress after an entry is committed.
type ProgressEvent struct {
	// Name is the entry just committed.
	Name string

	// BytesDone is the number of bytes written so far.
	BytesDone uint64

	// EntriesDone is the number of entries committed so far.
	EntriesDone int

	// EntriesTotal is the number of entries selected for processing.
	EntriesTotal int
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(ProgressEvent)
