package img

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"

	"github.com/meigma/img/core/internal/batch"
	"github.com/meigma/img/core/internal/index"
	"github.com/meigma/img/core/internal/layout"
	"github.com/meigma/img/core/internal/platform"
	"github.com/meigma/img/core/internal/stage"
)

// Re-export layout types and constants for the public API.
type (
	// Entry is one directory record: name, sector offset, sector count and
	// declared byte size.
	Entry = layout.Entry

	// ProgressEvent reports progress during ExtractAll.
	ProgressEvent = batch.ProgressEvent

	// ProgressFunc receives progress updates during ExtractAll.
	ProgressFunc = batch.ProgressFunc

	// ExtractStats summarizes an ExtractAll run.
	ExtractStats = batch.ProcessStats
)

const (
	// SectorSize is the payload alignment unit in bytes.
	SectorSize = layout.SectorSize

	// HeaderSize is the size of the archive header in bytes.
	HeaderSize = layout.HeaderSize

	// EntrySize is the size of one directory record in bytes.
	EntrySize = layout.EntrySize

	// MaxNameLen is the longest name an entry can have.
	MaxNameLen = layout.MaxNameLen

	// MaxDeclaredSize is the largest payload whose size a record stores exactly.
	MaxDeclaredSize = layout.MaxDeclaredSize

	// MaxPayloadSize is the largest payload an entry can hold.
	MaxPayloadSize = layout.MaxPayloadSize

	// DefaultFormatTag is the tag written by CreateEmpty when none is given.
	DefaultFormatTag = "VER2"
)

// backingStore is the live archive file. *os.File satisfies it.
type backingStore interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
}

// Archive is an open archive file with buffered, uncommitted changes.
//
// The directory reflects the file as last loaded or saved; queued additions
// and deletions become visible only after Save succeeds.
type Archive struct {
	path   string
	file   *os.File
	store  backingStore
	size   int64
	header layout.Header
	idx    *index.Index

	additions []addition
	addPos    map[string]int
	deletions []string
	delSet    map[string]struct{}

	allocation AllocationPolicy
	declared   DeclaredSizePolicy
	staging    StagingMode
	scratchDir string
	lock       bool
	sync       bool
	logger     *slog.Logger

	// newStage creates the scratch image for Save.
	newStage func(sizeHint int64) (stage.Image, error)

	// unsaved is an image whose commit failed. The next Save writes it
	// again unless the queue changed in between.
	unsaved *staged

	closed bool
}

// addition is a queued payload.
type addition struct {
	name string
	data []byte
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open loads the archive at path for reading and writing.
//
// The header and the whole directory are read up front. A file shorter than
// the header fails with ErrCorruptHeader; a file ending before every record
// is read fails with ErrCorruptDirectory. No Archive is returned on error.
//
// If two records share a name, the later record replaces the earlier one
// and the name keeps the position of its first occurrence.
//
// The returned Archive owns the file handle; Close must be called to
// release it.
func Open(path string, opts ...Option) (*Archive, error) {
	a := newArchive(path, opts...)

	f, err := os.OpenFile(path, os.O_RDWR, 0) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if a.lock {
		if err := platform.Lock(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	a.file = f
	a.store = f
	a.size = info.Size()
	if err := a.load(); err != nil {
		f.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	a.log().Debug("opened archive",
		"path", path,
		"tag", a.FormatTag(),
		"entries", a.idx.Len(),
		"records", a.header.Count,
		"duplicates", a.idx.Duplicates(),
		"high_water_sector", a.idx.HighWater(),
	)
	return a, nil
}

func newArchive(path string, opts ...Option) *Archive {
	a := &Archive{
		path:   path,
		idx:    index.New(0),
		addPos: make(map[string]int),
		delSet: make(map[string]struct{}),
		lock:   true,
		sync:   true,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.newStage = a.defaultStage
	return a
}

// load parses the header and directory from the backing store.
func (a *Archive) load() error {
	if a.size < layout.HeaderSize {
		return fmt.Errorf("%w: file is %d bytes", ErrCorruptHeader, a.size)
	}
	var hdr [layout.HeaderSize]byte
	if _, err := a.store.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptHeader, err)
	}
	a.header.Unmarshal(hdr[:])

	count := int(a.header.Count)
	if end := layout.DirectoryEnd(count); end > a.size {
		return fmt.Errorf("%w: %d records need %d bytes, file is %d", ErrCorruptDirectory, count, end, a.size)
	}
	dir := make([]byte, count*layout.EntrySize)
	if _, err := a.store.ReadAt(dir, layout.HeaderSize); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrCorruptDirectory, err)
	}

	a.idx = index.New(count)
	for i := range count {
		var e layout.Entry
		e.Unmarshal(dir[i*layout.EntrySize : (i+1)*layout.EntrySize])
		if a.idx.Put(e) {
			a.log().Debug("duplicate directory name, later record wins", "name", e.Name, "record", i)
		}
	}
	if n := a.idx.Duplicates(); n > 0 {
		a.log().Warn("directory has duplicate names; the next save drops the earlier records",
			"duplicates", n,
			"records", count,
			"names", a.idx.Len(),
		)
	}
	return nil
}

// Close releases the file handle and its lock. Closing twice is a no-op.
// Queued changes that were not saved are lost.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.dropUnsaved()
	a.store = nil
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Path returns the path the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// FormatTag returns the 4-byte format tag from the header.
func (a *Archive) FormatTag() string {
	return string(a.header.Tag[:])
}

// Exists reports whether name is in the directory.
//
// Queued additions and deletions are not consulted: existence reflects the
// last loaded or saved state.
func (a *Archive) Exists(name string) bool {
	if a.closed {
		return false
	}
	return a.idx.Has(name)
}

// Entry returns the directory record for name.
func (a *Archive) Entry(name string) (Entry, bool) {
	if a.closed {
		return Entry{}, false
	}
	return a.idx.Lookup(name)
}

// Entries returns an iterator over the directory in file order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return a.idx.All()
}

// Len returns the number of entries in the directory.
func (a *Archive) Len() int {
	return a.idx.Len()
}

// HighWaterSector returns the largest sector offset among known entries.
func (a *Archive) HighWaterSector() uint32 {
	return a.idx.HighWater()
}

// defaultStage creates the scratch image selected by the staging options.
func (a *Archive) defaultStage(sizeHint int64) (stage.Image, error) {
	if a.staging == StageTempFile {
		dir := a.scratchDir
		if dir == "" {
			dir = dirOf(a.path)
		}
		return stage.NewTempFile(dir)
	}
	return stage.NewMemory(int(min(sizeHint, 1<<30))), nil
}
