// Package index provides the ordered, name-keyed directory of an archive.
//
// The directory keeps records in load order and maps each name to its
// position. Names are unique: putting a record under an existing name
// replaces the earlier record in place, so the last record wins while the
// first occurrence keeps its position.
package index
