// Package testutil builds archive images for tests.
//
// The encoder here is written against the byte layout directly rather than
// the engine's own codec, so tests built on it check the codec too.
package testutil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	sectorSize = 2048
	headerSize = 8
	recordSize = 32
	nameSlot   = 24
)

// Record describes one directory record and the bytes stored for it.
type Record struct {
	Name         string
	SectorOffset uint32
	SectorCount  uint16
	DeclaredSize uint16

	// Payload is written at SectorOffset × 2048. It may be shorter or longer
	// than the record's sector span.
	Payload []byte
}

// HelloRecord is an entry at sector 4 spanning one sector and holding "HELLO".
func HelloRecord() Record {
	return Record{
		Name:         "hello.txt",
		SectorOffset: 4,
		SectorCount:  1,
		DeclaredSize: 5,
		Payload:      []byte("HELLO"),
	}
}

// Build returns an image with the given tag and records.
//
// Names are copied into the 24-byte slot verbatim, so a 24-byte name is
// stored without a terminator. The image is padded with zeros to the end of
// the last record's sectors.
func Build(tag string, records ...Record) []byte {
	end := headerSize + len(records)*recordSize
	for _, r := range records {
		span := int(r.SectorOffset+uint32(r.SectorCount)) * sectorSize
		end = max(end, span, int(r.SectorOffset)*sectorSize+len(r.Payload))
	}

	img := make([]byte, end)
	copy(img[0:4], tag)
	binary.LittleEndian.PutUint32(img[4:8], uint32(len(records))) //nolint:gosec // test sizes

	for i, r := range records {
		rec := img[headerSize+i*recordSize:]
		binary.LittleEndian.PutUint32(rec[0:4], r.SectorOffset)
		binary.LittleEndian.PutUint16(rec[4:6], r.SectorCount)
		binary.LittleEndian.PutUint16(rec[6:8], r.DeclaredSize)
		copy(rec[8:8+nameSlot], r.Name)
	}
	for _, r := range records {
		copy(img[int(r.SectorOffset)*sectorSize:], r.Payload)
	}
	return img
}

// WriteArchive writes Build(tag, records...) to a file in dir and returns
// its path.
func WriteArchive(tb testing.TB, dir, tag string, records ...Record) string {
	tb.Helper()
	path := filepath.Join(dir, "test.img")
	if err := os.WriteFile(path, Build(tag, records...), 0o600); err != nil {
		tb.Fatalf("write archive: %v", err)
	}
	return path
}

// Payload returns n bytes of deterministic, non-zero content.
func Payload(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7+int(seed)) | 1
	}
	return out
}

// Sector returns the 2048-byte sector i of image.
func Sector(image []byte, i int) []byte {
	return image[i*sectorSize : (i+1)*sectorSize]
}

// ReadFile reads path or fails the test.
func ReadFile(tb testing.TB, path string) []byte {
	tb.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test path
	if err != nil {
		tb.Fatalf("read %s: %v", path, err)
	}
	return data
}
