package img

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/img/core/internal/batch"
	"github.com/meigma/img/core/internal/layout"
	"github.com/meigma/img/core/internal/sizing"
)

// CompletionFunc is called with (name, dir) after an entry has been written
// to dir.
type CompletionFunc func(name, dir string)

// errPayloadOverflow is returned when an entry's span does not fit in memory.
var errPayloadOverflow = errors.New("img: payload size overflow")

// ExtractToMemory returns the full sector span of name: SectorCount × 2048
// bytes read from SectorOffset × 2048. The declared size is not consulted,
// so the result includes sector padding.
//
// A missing name yields an *fs.PathError wrapping ErrNotFound. If the file
// ends inside the span the error wraps ErrTruncatedPayload.
func (a *Archive) ExtractToMemory(name string) ([]byte, error) {
	if a.closed {
		return nil, &fs.PathError{Op: "extract", Path: name, Err: ErrClosed}
	}
	entry, ok := a.idx.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "extract", Path: name, Err: ErrNotFound}
	}
	return a.readSpan(entry)
}

// readSpan reads the sector span of entry from the live file.
func (a *Archive) readSpan(entry Entry) ([]byte, error) {
	size, err := sizing.ToInt(entry.ByteLength(), errPayloadOverflow)
	if err != nil {
		return nil, &fs.PathError{Op: "extract", Path: entry.Name, Err: err}
	}
	buf := make([]byte, size)
	n, err := a.store.ReadAt(buf, entry.ByteOffset())
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &fs.PathError{Op: "extract", Path: entry.Name, Err: err}
	}
	if n != size {
		return nil, &fs.PathError{
			Op:   "extract",
			Path: entry.Name,
			Err:  fmt.Errorf("%w: read %d of %d bytes", ErrTruncatedPayload, n, size),
		}
	}
	return buf, nil
}

// ExtractToFile writes the sector span of name to dir/name, creating dir and
// its parents if needed. An existing file is replaced.
//
// The file is written to a temporary name and renamed into place, so a
// failed extraction never leaves a partial file. onComplete, if non-nil, is
// called with (name, dir) once the file is in place.
//
// Names that are not a single path element are rejected with fs.ErrInvalid.
func (a *Archive) ExtractToFile(name, dir string, onComplete CompletionFunc) error {
	data, err := a.ExtractToMemory(name)
	if err != nil {
		return err
	}

	opts := []batch.FileSinkOption{batch.WithOverwrite(true)}
	if onComplete != nil {
		opts = append(opts, batch.WithOnCommit(onComplete))
	}
	sink := batch.NewFileSink(dir, opts...)
	defer sink.Close()

	w, err := sink.Writer(Entry{Name: name})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return &fs.PathError{Op: "extract", Path: name, Err: err}
	}
	if err := w.Commit(); err != nil {
		return &fs.PathError{Op: "extract", Path: name, Err: err}
	}
	a.log().Debug("extracted entry", "name", name, "dir", dir, "bytes", len(data))
	return nil
}

// ExtractAll writes every entry in the directory to files directly under
// dir, creating dir if needed.
//
// Entries are read in sector order; adjacent spans are fetched with a
// single read. Existing files are skipped unless ExtractWithOverwrite is
// set, as are names that are not a single path element. Cancelling ctx
// stops outstanding work; files already written stay in place.
func (a *Archive) ExtractAll(ctx context.Context, dir string, opts ...ExtractOption) (ExtractStats, error) {
	if a.closed {
		return ExtractStats{}, ErrClosed
	}
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	sinkOpts := []batch.FileSinkOption{batch.WithOverwrite(cfg.overwrite)}
	if cfg.onComplete != nil {
		sinkOpts = append(sinkOpts, batch.WithOnCommit(cfg.onComplete))
	}
	sink := batch.NewFileSink(dir, sinkOpts...)
	defer sink.Close()

	procOpts := []batch.ProcessorOption{
		batch.WithWorkers(cfg.workers),
		batch.WithLogger(a.logger),
	}
	if cfg.progress != nil {
		procOpts = append(procOpts, batch.WithProgress(cfg.progress))
	}
	proc := batch.NewProcessor(a.store, procOpts...)

	stats, err := proc.Process(ctx, a.idx.Entries(), sink)
	if errors.Is(err, batch.ErrShortRead) {
		err = fmt.Errorf("%w: %w", ErrTruncatedPayload, err)
	}
	if err != nil {
		return stats, fmt.Errorf("extract all: %w", err)
	}
	a.log().Debug("extracted archive",
		"dir", dir,
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"bytes", stats.TotalBytes,
	)
	return stats, nil
}

// Digest returns the sha256 digest of name's logical content: the first
// DeclaredSize bytes of its span when the declared size accounts for the
// span's sector count, otherwise the whole span. A zero declared size on a
// non-empty span, or a declared size that could not record the payload's
// length, therefore digests the whole span.
func (a *Archive) Digest(name string) (digest.Digest, error) {
	data, err := a.ExtractToMemory(name)
	if err != nil {
		return "", err
	}
	entry, _ := a.idx.Lookup(name)
	return digest.FromBytes(logicalBytes(entry, data)), nil
}

// logicalBytes trims a sector span to the entry's declared size.
func logicalBytes(entry Entry, span []byte) []byte {
	n := int(entry.DeclaredSize)
	if layout.SectorsFor(n) != int(entry.SectorCount) || n > len(span) {
		return span
	}
	return span[:n]
}
