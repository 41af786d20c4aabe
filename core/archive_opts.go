package img

import "log/slog"

// AllocationPolicy decides where Save places newly added entries.
type AllocationPolicy uint8

const (
	// AllocateContiguous places each new entry at the first sector after
	// all data written so far, advancing by the entry's sector count.
	AllocateContiguous AllocationPolicy = iota

	// AllocateLegacy places each new entry one sector after the previous
	// high-water sector, advancing by exactly one sector per entry
	// regardless of size. Multi-sector payloads placed this way overlap
	// their successors; use it only to reproduce files written by tools
	// with that behavior.
	AllocateLegacy
)

// String returns the policy name.
func (p AllocationPolicy) String() string {
	switch p {
	case AllocateContiguous:
		return "contiguous"
	case AllocateLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// DeclaredSizePolicy decides what Save stores in a record's 16-bit declared
// size when a payload is larger than MaxDeclaredSize. Payloads that fit are
// always stored exactly.
type DeclaredSizePolicy uint8

const (
	// DeclareSaturate stores MaxDeclaredSize for every larger payload.
	DeclareSaturate DeclaredSizePolicy = iota

	// DeclareLowBits stores the low 16 bits of the length, as tools that
	// write the field unchecked do.
	DeclareLowBits
)

// String returns the policy name.
func (p DeclaredSizePolicy) String() string {
	switch p {
	case DeclareSaturate:
		return "saturate"
	case DeclareLowBits:
		return "lowbits"
	default:
		return "unknown"
	}
}

// declare returns the declared size stored for an n-byte payload.
func (p DeclaredSizePolicy) declare(n int) uint16 {
	if n <= MaxDeclaredSize || p == DeclareLowBits {
		return uint16(n & MaxDeclaredSize) //nolint:gosec // masked
	}
	return MaxDeclaredSize
}

// StagingMode selects where Save builds the new image.
type StagingMode uint8

const (
	// StageMemory builds the new image in memory.
	StageMemory StagingMode = iota

	// StageTempFile builds the new image in a temporary file, created in
	// the scratch directory (the archive's own directory by default).
	StageTempFile
)

// String returns the mode name.
func (m StagingMode) String() string {
	switch m {
	case StageMemory:
		return "memory"
	case StageTempFile:
		return "file"
	default:
		return "unknown"
	}
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithAllocation sets the sector allocation policy for new entries.
// The default is AllocateContiguous.
func WithAllocation(p AllocationPolicy) Option {
	return func(a *Archive) {
		a.allocation = p
	}
}

// WithDeclaredSize sets how Save records the size of payloads larger than
// MaxDeclaredSize. The default is DeclareSaturate.
func WithDeclaredSize(p DeclaredSizePolicy) Option {
	return func(a *Archive) {
		a.declared = p
	}
}

// WithStaging sets where Save builds the new image (default: StageMemory).
func WithStaging(m StagingMode) Option {
	return func(a *Archive) {
		a.staging = m
	}
}

// WithScratchDir sets the directory for StageTempFile images.
// It implies StageTempFile.
func WithScratchDir(dir string) Option {
	return func(a *Archive) {
		a.staging = StageTempFile
		a.scratchDir = dir
	}
}

// WithLock controls whether Open takes an exclusive advisory lock on the
// file for the Archive's lifetime (default: true).
func WithLock(enabled bool) Option {
	return func(a *Archive) {
		a.lock = enabled
	}
}

// WithSync controls whether Save flushes the file to stable storage after
// writing the new image (default: true).
func WithSync(enabled bool) Option {
	return func(a *Archive) {
		a.sync = enabled
	}
}

// ExtractOption configures ExtractAll.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	workers    int
	overwrite  bool
	progress   ProgressFunc
	onComplete CompletionFunc
}

// ExtractWithWorkers sets how many sector runs are extracted concurrently.
// Values < 1 force serial extraction, which is the default.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithProgress sets a callback receiving progress after each file.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}

// ExtractWithOnComplete sets a callback invoked with (name, dir) after each
// file is written.
func ExtractWithOnComplete(fn CompletionFunc) ExtractOption {
	return func(c *extractConfig) {
		c.onComplete = fn
	}
}
