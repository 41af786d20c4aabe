// Package batch extracts many archive entries at once.
//
// Entries are sorted by sector, grouped into contiguous runs that can be
// fetched with a single read, and handed to a Sink. Groups are processed by
// a bounded pool of workers.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/img/core/internal/layout"
	"github.com/meigma/img/core/internal/sizing"
)

// Entry is an alias for layout.Entry.
type Entry = layout.Entry

// DefaultMaxGroupBytes caps how many bytes a single grouped read may fetch.
const DefaultMaxGroupBytes = 8 << 20

var (
	// ErrShortRead is returned when the source ends inside an entry's sectors.
	ErrShortRead = errors.New("batch: short read")

	// ErrSizeOverflow is returned when a group does not fit in memory.
	ErrSizeOverflow = errors.New("batch: size overflow")
)

// Processor reads entries from an archive and writes them to a Sink.
type Processor struct {
	source        io.ReaderAt
	workers       int
	maxGroupBytes int64
	progress      ProgressFunc
	logger        *slog.Logger

	mu    sync.Mutex
	stats ProcessStats
	total int
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets how many groups are read and written concurrently.
// Values < 1 force serial processing.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = max(n, 1)
	}
}

// WithMaxGroupBytes caps the size of a single grouped read.
// Values <= 0 use DefaultMaxGroupBytes.
func WithMaxGroupBytes(n int64) ProcessorOption {
	return func(p *Processor) {
		if n <= 0 {
			n = DefaultMaxGroupBytes
		}
		p.maxGroupBytes = n
	}
}

// WithProgress sets a callback invoked after each entry is committed.
func WithProgress(fn ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// WithLogger sets the logger for batch operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a processor reading from source.
func NewProcessor(source io.ReaderAt, opts ...ProcessorOption) *Processor {
	p := &Processor{
		source:        source,
		workers:       1,
		maxGroupBytes: DefaultMaxGroupBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process writes every entry accepted by sink.ShouldProcess to the sink.
//
// Processing stops on the first error or when ctx is cancelled. Entries
// already committed stay committed.
func (p *Processor) Process(ctx context.Context, entries []Entry, sink Sink) (ProcessStats, error) {
	p.stats = ProcessStats{}

	toProcess := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if sink.ShouldProcess(entry) {
			toProcess = append(toProcess, entry)
		} else {
			p.stats.Skipped++
		}
	}
	p.total = len(toProcess)
	if len(toProcess) == 0 {
		return p.stats, nil
	}

	slices.SortStableFunc(toProcess, func(a, b Entry) int {
		switch {
		case a.SectorOffset < b.SectorOffset:
			return -1
		case a.SectorOffset > b.SectorOffset:
			return 1
		default:
			return 0
		}
	})

	groups := groupAdjacentEntries(toProcess, p.maxGroupBytes)
	p.log().Debug("batch processing", "entries", len(toProcess), "groups", len(groups), "workers", p.workers)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)
	for _, group := range groups {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return p.processGroup(group, sink)
		})
	}
	err := eg.Wait()
	return p.stats, err
}

// processGroup reads a contiguous sector run and writes each entry in it.
func (p *Processor) processGroup(group rangeGroup, sink Sink) error {
	data, err := p.readGroupData(group)
	if err != nil {
		return err
	}
	for _, entry := range group.entries {
		local := entry.ByteOffset() - group.start
		content := data[local : local+entry.ByteLength()]
		if err := p.writeEntry(entry, content, sink); err != nil {
			return err
		}
	}
	return nil
}

// readGroupData reads the byte range covered by group.
func (p *Processor) readGroupData(group rangeGroup) ([]byte, error) {
	size, err := sizing.ToInt(group.end-group.start, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	n, err := p.source.ReadAt(data, group.start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("batch: read sectors at %d: %w", group.start, err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: %s: %d of %d bytes", ErrShortRead, group.entries[0].Name, n, size)
	}
	return data, nil
}

// writeEntry copies content into a committer obtained from sink.
func (p *Processor) writeEntry(entry Entry, content []byte, sink Sink) error {
	w, err := sink.Writer(entry)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("batch: write %s: %w", entry.Name, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: commit %s: %w", entry.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Processed++
	p.stats.TotalBytes += uint64(len(content))
	if p.progress != nil {
		p.progress(ProgressEvent{
			Name:         entry.Name,
			BytesDone:    p.stats.TotalBytes,
			EntriesDone:  p.stats.Processed,
			EntriesTotal: p.total,
		})
	}
	return nil
}
