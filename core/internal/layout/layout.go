package layout

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SectorSize is the alignment unit for payload placement.
	SectorSize = 2048

	// TagSize is the width of the format tag at the start of the header.
	TagSize = 4

	// HeaderSize is the size of the archive header.
	HeaderSize = TagSize + 4 // tag + entry count

	// NameSize is the width of the NUL-padded name slot in a record.
	NameSize = 24

	// MaxNameLen is the longest name that still leaves room for the NUL terminator.
	MaxNameLen = NameSize - 1

	// EntrySize is the size of one directory record.
	EntrySize = 4 + 2 + 2 + NameSize // offset + count + declared size + name

	// MaxSectorCount is the largest sector count a record can express.
	MaxSectorCount = 0xFFFF

	// MaxDeclaredSize is the largest byte size a record can express.
	MaxDeclaredSize = 0xFFFF

	// MaxPayloadSize is the largest payload a record can address.
	MaxPayloadSize = MaxSectorCount * SectorSize
)

// ErrNameTooLong is returned when a name does not fit the record's name slot.
var ErrNameTooLong = errors.New("name too long")

// Header is the fixed archive header.
type Header struct {
	Tag   [TagSize]byte
	Count uint32
}

// Marshal writes the header into dst, which must hold HeaderSize bytes.
func (h Header) Marshal(dst []byte) {
	copy(dst[0:TagSize], h.Tag[:])
	binary.LittleEndian.PutUint32(dst[TagSize:HeaderSize], h.Count)
}

// Unmarshal reads the header from src, which must hold HeaderSize bytes.
func (h *Header) Unmarshal(src []byte) {
	copy(h.Tag[:], src[0:TagSize])
	h.Count = binary.LittleEndian.Uint32(src[TagSize:HeaderSize])
}

// Entry is one directory record.
type Entry struct {
	// Name is the logical name: the name slot up to the first NUL byte.
	Name string

	// SectorOffset is the index of the first sector holding the payload.
	SectorOffset uint32

	// SectorCount is the number of whole sectors the payload occupies.
	SectorCount uint16

	// DeclaredSize is the informational byte size of the payload. Payloads
	// above MaxDeclaredSize cannot be represented exactly. It is carried
	// through unchanged and never bounds reads.
	DeclaredSize uint16
}

// Marshal writes the record into dst, which must hold EntrySize bytes.
// The name slot is NUL-padded. A name of exactly NameSize bytes fills the
// slot with no terminator, which Unmarshal reads back unchanged; new names
// should be held to MaxNameLen by the caller.
func (e Entry) Marshal(dst []byte) error {
	if len(e.Name) > NameSize {
		return fmt.Errorf("%w: %q is %d bytes, limit %d", ErrNameTooLong, e.Name, len(e.Name), NameSize)
	}
	binary.LittleEndian.PutUint32(dst[0:4], e.SectorOffset)
	binary.LittleEndian.PutUint16(dst[4:6], e.SectorCount)
	binary.LittleEndian.PutUint16(dst[6:8], e.DeclaredSize)
	name := dst[8:EntrySize]
	n := copy(name, e.Name)
	clear(name[n:])
	return nil
}

// Unmarshal reads the record from src, which must hold EntrySize bytes.
// A name slot without a NUL byte yields the full 24-byte name.
func (e *Entry) Unmarshal(src []byte) {
	e.SectorOffset = binary.LittleEndian.Uint32(src[0:4])
	e.SectorCount = binary.LittleEndian.Uint16(src[4:6])
	e.DeclaredSize = binary.LittleEndian.Uint16(src[6:8])
	e.Name = DecodeName(src[8:EntrySize])
}

// ByteOffset returns the absolute byte position of the payload.
func (e Entry) ByteOffset() int64 {
	return int64(e.SectorOffset) * SectorSize
}

// ByteLength returns the sector-granular payload length used for reads.
// It may exceed DeclaredSize by the sector padding.
func (e Entry) ByteLength() int64 {
	return int64(e.SectorCount) * SectorSize
}

// EndSector returns the sector index just past the payload.
func (e Entry) EndSector() uint64 {
	return uint64(e.SectorOffset) + uint64(e.SectorCount)
}

// DecodeName returns the bytes of slot up to the first NUL.
func DecodeName(slot []byte) string {
	if i := bytes.IndexByte(slot, 0); i >= 0 {
		return string(slot[:i])
	}
	return string(slot)
}

// SectorsFor returns the number of sectors needed to hold n bytes.
func SectorsFor(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + SectorSize - 1) / SectorSize
}

// DirectoryEnd returns the byte position just past a directory of count records.
func DirectoryEnd(count int) int64 {
	return HeaderSize + int64(count)*EntrySize
}

// DataStart returns the first sector at or after the end of a directory of
// count records. Every payload must start at or after this sector.
func DataStart(count int) uint64 {
	end := DirectoryEnd(count)
	return uint64((end + SectorSize - 1) / SectorSize)
}
