package img

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/meigma/img/core/internal/layout"
	"github.com/meigma/img/core/internal/platform"
	"github.com/meigma/img/core/internal/sizing"
)

// CreateEmpty writes a new archive with no entries at path and opens it.
//
// The file holds only the 8-byte header. CreateEmpty fails if path already
// exists. Parent directories are created as needed.
//
// The returned Archive must be closed to release the file.
func CreateEmpty(path string, opts ...CreateOption) (*Archive, error) {
	cfg := createConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	tag, err := cfg.formatTag()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	var hdr [layout.HeaderSize]byte
	layout.Header{Tag: tag}.Marshal(hdr[:])
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close archive: %w", err)
	}

	return Open(path, cfg.openOpts...)
}

// Create builds a new archive at path from the regular files directly
// inside srcDir, in name order, and returns it open.
//
// Subdirectories are not descended into and symbolic links are skipped.
// Each file becomes one entry named after the file, so every name must
// satisfy ValidateName and no file may exceed MaxPayloadSize.
// On any failure the partially created archive is removed.
//
// The context can be used to cancel a long-running build.
func Create(ctx context.Context, srcDir, path string, opts ...CreateOption) (*Archive, error) {
	root, err := os.OpenRoot(srcDir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	dirents, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}

	a, err := CreateEmpty(path, opts...)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Archive, error) {
		a.Close()
		os.Remove(path)
		return nil, err
	}

	a.log().Info("creating archive", "src", srcDir, "path", path)
	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if !d.Type().IsRegular() {
			continue
		}
		data, skip, err := readSource(root, d.Name())
		if err != nil {
			return fail(err)
		}
		if skip {
			a.log().Debug("skipping symlink", "name", d.Name())
			continue
		}
		if err := a.Add(d.Name(), data); err != nil {
			return fail(err)
		}
	}

	stats, err := a.Save()
	if err != nil {
		return fail(fmt.Errorf("create archive: %w", err))
	}
	a.log().Debug("archive created", "entries", stats.Entries, "bytes", stats.Bytes)
	return a, nil
}

// readSource reads name from root without following a final symlink.
// It reports skip=true if name turned out to be a link.
func readSource(root *os.Root, name string) (data []byte, skip bool, err error) {
	f, err := platform.OpenFileNoFollow(root, name)
	if err != nil {
		if errors.Is(err, platform.ErrSymlink) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	data, err = ReadPayload(f)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return data, false, nil
}

// ReadPayload reads r to the end. It fails with ErrPayloadTooLarge as soon
// as r yields more than MaxPayloadSize bytes, without buffering the rest.
func ReadPayload(r io.Reader) ([]byte, error) {
	return sizing.ReadAllWithLimit(r, layout.MaxPayloadSize, ErrPayloadTooLarge)
}
