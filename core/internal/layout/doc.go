// Package layout defines the byte-exact on-disk structure of an archive.
//
// An archive starts with an 8-byte header (4-byte format tag followed by a
// little-endian entry count), followed by the directory: one 32-byte record
// per entry. Payloads live in 2048-byte sectors after the directory.
package layout
