// Package platform wraps operating-system specific file handling: opening
// source files without following symbolic links, and holding an exclusive
// advisory lock on an open archive.
package platform
