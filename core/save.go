package img

import (
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/img/core/internal/index"
	"github.com/meigma/img/core/internal/layout"
	"github.com/meigma/img/core/internal/sizing"
	"github.com/meigma/img/core/internal/stage"
)

// errSectorOverflow is returned when a placement runs past the 32-bit
// sector offset field.
var errSectorOverflow = errors.New("img: sector offset overflow")

// SaveStats describes the image written by a successful Save.
type SaveStats struct {
	// Entries is the number of records in the new directory.
	Entries int

	// Added is the number of queued additions written.
	Added int

	// Deleted is the number of directory entries removed.
	Deleted int

	// Bytes is the length of the new file.
	Bytes int64

	// Digest is the sha256 digest of the whole new file.
	Digest digest.Digest
}

// placement is one record of the new directory and where its bytes come from.
type placement struct {
	entry Entry

	// source is the survivor's record in the current file; zero for additions.
	source Entry
	data   []byte
	added  bool
}

// savePlan is the layout of the image Save is about to write.
type savePlan struct {
	placements []placement
	deleted    int
	added      int
	size       int64
}

// staged is a built image and the plan it was built from.
type staged struct {
	image stage.Image
	plan  savePlan
}

// Save applies every queued change and rewrites the file.
//
// Surviving entries keep their order and their bytes. When the save removes
// entries, survivors are packed back to back from the first data sector in
// directory order, so deleted and replaced payloads leave no gaps. Otherwise
// they keep their sector offsets, unless the grown directory would overlap
// the first surviving payload; then every survivor moves down by the same
// number of sectors. Under AllocateLegacy survivors are never packed.
// Additions follow in the order queued, placed after the last survivor's
// sectors (or one sector apart under AllocateLegacy), with SectorCount set
// to the sector-rounded length and DeclaredSize to the exact length, or to
// the value chosen by the DeclaredSizePolicy when the length exceeds
// MaxDeclaredSize.
//
// Queued additions are checked first. A name that is invalid, too long or
// still present in the directory without a queued deletion, or data larger
// than MaxPayloadSize, rejects the whole save; the returned error joins one
// *NameError per offending name and nothing is written. Use Cancel to drop
// a rejected name and retry.
//
// The new image is built in a scratch buffer, then written over the file
// from offset 0 and the file is truncated to the new length. A failure in
// either step returns an error wrapping ErrSaveFailed and leaves the
// Archive's directory and queued changes as they were. A failure while
// building the image leaves the file untouched. After a failure while
// writing, the built image is kept and the next Save writes it again, so a
// retry never reads payloads from a partially overwritten file; changing
// the queue first discards it.
func (a *Archive) Save() (SaveStats, error) {
	if a.closed {
		return SaveStats{}, ErrClosed
	}

	st := a.unsaved
	a.unsaved = nil
	if st == nil {
		var err error
		if st, err = a.stageImage(); err != nil {
			return SaveStats{}, err
		}
	} else {
		a.log().Debug("writing image kept from failed save", "path", a.path, "bytes", st.plan.size)
	}

	if err := a.commit(st.image); err != nil {
		a.unsaved = st
		return SaveStats{}, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	defer st.image.Close()
	plan := st.plan

	dgst, err := digest.FromReader(io.NewSectionReader(st.image, 0, st.image.Size()))
	if err != nil {
		// The file is committed; only the summary is incomplete.
		a.log().Warn("digest saved image", "error", err)
	}

	idx := index.New(len(plan.placements))
	for _, p := range plan.placements {
		idx.Put(p.entry)
	}
	a.idx = idx
	a.size = plan.size
	a.header.Count = uint32(len(plan.placements)) //nolint:gosec // bounded by plan
	a.Discard()

	stats := SaveStats{
		Entries: len(plan.placements),
		Added:   plan.added,
		Deleted: plan.deleted,
		Bytes:   plan.size,
		Digest:  dgst,
	}
	a.log().Debug("saved archive",
		"path", a.path,
		"entries", stats.Entries,
		"added", stats.Added,
		"deleted", stats.Deleted,
		"bytes", stats.Bytes,
	)
	return stats, nil
}

// stageImage plans the new layout and builds it into a scratch image.
func (a *Archive) stageImage() (*staged, error) {
	plan, err := a.plan()
	if err != nil {
		return nil, err
	}
	img, err := a.newStage(plan.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if err := a.build(img, plan); err != nil {
		_ = img.Close() //nolint:errcheck // the build error is what matters
		return nil, fmt.Errorf("%w: stage image: %w", ErrSaveFailed, err)
	}
	return &staged{image: img, plan: plan}, nil
}

// dropUnsaved releases an image kept from a failed commit.
func (a *Archive) dropUnsaved() {
	if a.unsaved == nil {
		return
	}
	a.log().Warn("dropping image from failed save; the file may hold a partial write",
		"path", a.path,
	)
	_ = a.unsaved.image.Close() //nolint:errcheck // nothing left to do with it
	a.unsaved = nil
}

// plan computes the new directory without touching any file.
func (a *Archive) plan() (savePlan, error) {
	var plan savePlan

	survivors := make(map[string]struct{}, a.idx.Len())
	for e := range a.idx.All() {
		if _, gone := a.delSet[e.Name]; gone {
			plan.deleted++
			continue
		}
		survivors[e.Name] = struct{}{}
		plan.placements = append(plan.placements, placement{entry: e, source: e})
	}

	var errs []error
	for _, add := range a.additions {
		if err := checkAddition(add.name, len(add.data), survivors); err != nil {
			errs = append(errs, &NameError{Name: add.name, Err: err})
		}
	}
	if len(errs) > 0 {
		return savePlan{}, errors.Join(errs...)
	}

	count := len(plan.placements) + len(a.additions)
	if _, err := sizing.ToUint32(uint64(count), errSectorOverflow); err != nil { //nolint:gosec // count is non-negative
		return savePlan{}, err
	}
	dataStart := layout.DataStart(count)

	var (
		shift   uint64
		dataEnd uint64
		err     error
	)
	if plan.deleted > 0 && a.allocation == AllocateContiguous {
		dataEnd, err = packSurvivors(plan.placements, dataStart)
	} else {
		shift = survivorShift(plan.placements, dataStart)
		dataEnd, err = moveSurvivors(plan.placements, shift)
		if shift > 0 {
			a.log().Debug("moving survivors past grown directory", "sectors", shift)
		}
	}
	if err != nil {
		return savePlan{}, err
	}

	next := max(dataStart, dataEnd)
	if a.allocation == AllocateLegacy {
		next = max(dataStart, uint64(a.idx.HighWater())+shift+1)
	}
	for _, add := range a.additions {
		off, err := sizing.ToUint32(next, errSectorOverflow)
		if err != nil {
			return savePlan{}, err
		}
		sectors, err := sizing.ToUint16(layout.SectorsFor(len(add.data)), ErrPayloadTooLarge)
		if err != nil {
			return savePlan{}, &NameError{Name: add.name, Err: err}
		}
		e := Entry{
			Name:         add.name,
			SectorOffset: off,
			SectorCount:  sectors,
			DeclaredSize: a.declared.declare(len(add.data)),
		}
		plan.placements = append(plan.placements, placement{entry: e, data: add.data, added: true})
		plan.added++
		dataEnd = max(dataEnd, e.EndSector())

		step := uint64(sectors)
		if a.allocation == AllocateLegacy {
			step = 1
		}
		var ok bool
		if next, ok = sizing.AddUint64(next, step); !ok {
			return savePlan{}, errSectorOverflow
		}
	}

	end, ok := sizing.SectorBytes(dataEnd)
	if !ok {
		return savePlan{}, errSectorOverflow
	}
	plan.size = max(end, layout.DirectoryEnd(count))
	return plan, nil
}

// checkAddition validates one queued addition of size bytes against the
// survivors.
func checkAddition(name string, size int, survivors map[string]struct{}) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, ok := survivors[name]; ok {
		return ErrNameCollision
	}
	if size > layout.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, size, layout.MaxPayloadSize)
	}
	return nil
}

// survivorShift returns how many sectors the survivors must move so that
// none starts before dataStart.
func survivorShift(placements []placement, dataStart uint64) uint64 {
	lowest := uint64(^uint32(0)) + 1
	for _, p := range placements {
		if p.entry.SectorCount == 0 {
			continue
		}
		lowest = min(lowest, uint64(p.entry.SectorOffset))
	}
	if lowest >= dataStart {
		return 0
	}
	return dataStart - lowest
}

// moveSurvivors moves every survivor down by shift sectors and returns the
// sector just past the last one.
func moveSurvivors(placements []placement, shift uint64) (uint64, error) {
	var end uint64
	for i := range placements {
		p := &placements[i]
		off, err := sizing.ToUint32(uint64(p.entry.SectorOffset)+shift, errSectorOverflow)
		if err != nil {
			return 0, err
		}
		p.entry.SectorOffset = off
		end = max(end, p.entry.EndSector())
	}
	return end, nil
}

// packSurvivors places the survivors back to back from dataStart in
// directory order and returns the sector just past the last one.
func packSurvivors(placements []placement, dataStart uint64) (uint64, error) {
	next := dataStart
	for i := range placements {
		p := &placements[i]
		off, err := sizing.ToUint32(next, errSectorOverflow)
		if err != nil {
			return 0, err
		}
		p.entry.SectorOffset = off
		next += uint64(p.entry.SectorCount)
	}
	return next, nil
}

// build writes the header, directory and payloads into img.
func (a *Archive) build(img stage.Image, plan savePlan) error {
	head := make([]byte, layout.DirectoryEnd(len(plan.placements)))
	hdr := layout.Header{Tag: a.header.Tag, Count: uint32(len(plan.placements))} //nolint:gosec // checked by plan
	hdr.Marshal(head)
	for i, p := range plan.placements {
		rec := head[layout.HeaderSize+i*layout.EntrySize:]
		if err := p.entry.Marshal(rec[:layout.EntrySize]); err != nil {
			return err
		}
	}
	if _, err := img.WriteAt(head, 0); err != nil {
		return fmt.Errorf("write directory: %w", err)
	}

	for _, p := range plan.placements {
		if p.added {
			if _, err := img.WriteAt(p.data, p.entry.ByteOffset()); err != nil {
				return fmt.Errorf("write %s: %w", p.entry.Name, err)
			}
			continue
		}
		if err := a.copySurvivor(img, p); err != nil {
			return err
		}
	}
	return img.Extend(plan.size)
}

// copySurvivor copies a survivor's sector span from the live file to its
// new position. Bytes missing from a truncated file read as zero.
func (a *Archive) copySurvivor(img stage.Image, p placement) error {
	want := p.source.ByteLength()
	if want == 0 {
		return nil
	}
	src := io.NewSectionReader(a.store, p.source.ByteOffset(), want)
	dst := io.NewOffsetWriter(img, p.entry.ByteOffset())
	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", p.entry.Name, err)
	}
	if n < want {
		a.log().Warn("survivor payload truncated on disk, padding with zeros",
			"name", p.entry.Name,
			"have", n,
			"want", want,
		)
	}
	return nil
}

// commit writes img over the live file, truncates the file to the image
// length, and syncs it.
func (a *Archive) commit(img stage.Image) error {
	size := img.Size()
	if _, err := io.Copy(io.NewOffsetWriter(a.store, 0), io.NewSectionReader(img, 0, size)); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if err := a.store.Truncate(size); err != nil {
		return fmt.Errorf("truncate to %d: %w", size, err)
	}
	if a.sync {
		if err := a.store.Sync(); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	return nil
}
