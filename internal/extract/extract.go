// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package extract unpacks bundle archives.
//
// Only zip archives are accepted. Entries that would land outside the
// destination directory are skipped rather than failing the archive, and
// symlinks are never created, so a hostile archive can at worst produce a
// bundle that fails validation.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/opentofu/hotbundle/internal/bundlefs"
	"github.com/opentofu/hotbundle/internal/tracing"
)

// minArchiveSize is the size of an empty zip archive: just the end of
// central directory record.
const minArchiveSize = 22

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

const progressStep = 0.01

var (
	// ErrExtractionFormat means the archive is not a readable zip, or an
	// entry failed its checksum.
	ErrExtractionFormat = errors.New("bundle archive format error")

	// ErrInvalidBundle means the archive was readable but does not contain
	// a usable bundle.
	ErrInvalidBundle = errors.New("invalid bundle contents")
)

// Options configures an [Extractor].
type Options struct {
	// RequiredEntry, if set, is the base name of a file that must be among
	// the extracted files for the archive to count as a bundle.
	RequiredEntry string

	Logger hclog.Logger
}

// Result summarizes a successful extraction.
type Result struct {
	Files   int
	Bytes   int64
	Skipped []string

	// RequiredPath is where RequiredEntry was extracted, if it was set.
	RequiredPath string
}

// Extractor unpacks archives stored on a bundle file system.
type Extractor struct {
	fs       *bundlefs.FS
	required string
	logger   hclog.Logger
}

func New(fs *bundlefs.FS, opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Extractor{
		fs:       fs,
		required: opts.RequiredEntry,
		logger:   logger,
	}
}

// Extract unpacks the zip archive at archivePath into destDir, creating it
// if necessary.
//
// onProgress, if set, receives the fraction of uncompressed bytes written so
// far, in steps of at least one percent, and finally exactly 1.
//
// The context is checked between entries. On failure destDir may hold a
// partial extraction which the caller is responsible for removing.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, onProgress func(float64)) (result Result, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "Extract bundle")
	defer func() {
		tracing.SetSpanError(span, err)
		span.End()
	}()

	f, err := e.fs.Open(archivePath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: cannot open archive: %w", ErrExtractionFormat, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("%w: cannot stat archive: %w", ErrExtractionFormat, err)
	}
	if info.Size() < minArchiveSize {
		return Result{}, fmt.Errorf("%w: archive is only %d bytes", ErrExtractionFormat, info.Size())
	}
	magic := make([]byte, len(zipMagic))
	if _, err := f.ReadAt(magic, 0); err != nil || !bytes.Equal(magic, zipMagic) {
		return Result{}, fmt.Errorf("%w: not a zip archive", ErrExtractionFormat)
	}

	zr, err := zip.NewReader(f, info.Size())
	if errors.Is(err, zip.ErrInsecurePath) && zr != nil {
		// Reported when zipinsecurepath=0; such entries are skipped below.
		err = nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrExtractionFormat, err)
	}
	if len(zr.File) == 0 {
		return Result{}, fmt.Errorf("%w: archive has no entries", ErrExtractionFormat)
	}

	if err := e.fs.MkdirAll(destDir); err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	var entries []*zip.File
	var total uint64
	for _, zf := range zr.File {
		if !filepath.IsLocal(filepath.FromSlash(zf.Name)) {
			e.logger.Warn("skipping archive entry outside destination", "entry", zf.Name)
			result.Skipped = append(result.Skipped, zf.Name)
			continue
		}
		if zf.Mode()&fs.ModeSymlink != 0 {
			e.logger.Warn("skipping symlink archive entry", "entry", zf.Name)
			result.Skipped = append(result.Skipped, zf.Name)
			continue
		}
		entries = append(entries, zf)
		if !zf.FileInfo().IsDir() {
			total += zf.UncompressedSize64
		}
	}
	if total == 0 {
		return result, fmt.Errorf("%w: archive holds no data", ErrInvalidBundle)
	}

	progress := &progressTracker{total: total, report: onProgress}
	for _, zf := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		target := filepath.Join(destDir, filepath.FromSlash(zf.Name))
		if zf.FileInfo().IsDir() {
			if err := e.fs.MkdirAll(target); err != nil {
				return result, fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}

		n, err := e.extractFile(zf, target, progress)
		if err != nil {
			return result, err
		}
		result.Files++
		result.Bytes += n
		if e.required != "" && result.RequiredPath == "" && filepath.Base(target) == e.required {
			result.RequiredPath = target
		}
	}

	if result.Files == 0 {
		return result, fmt.Errorf("%w: no files extracted", ErrInvalidBundle)
	}
	if e.required != "" && result.RequiredPath == "" {
		return result, fmt.Errorf("%w: %s not found in archive", ErrInvalidBundle, e.required)
	}

	progress.finish()
	e.logger.Debug("bundle archive extracted", "dest", destDir, "files", result.Files, "bytes", result.Bytes, "skipped", len(result.Skipped))
	return result, nil
}

func (e *Extractor) extractFile(zf *zip.File, target string, progress *progressTracker) (int64, error) {
	if err := e.fs.MkdirAll(filepath.Dir(target)); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}

	src, err := zf.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrExtractionFormat, zf.Name, err)
	}
	defer src.Close()

	dst, err := e.fs.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", target, err)
	}

	crc := crc32.NewIEEE()
	n, copyErr := io.Copy(io.MultiWriter(dst, crc, progress), src)
	closeErr := dst.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("%w: %s: %w", ErrExtractionFormat, zf.Name, copyErr)
	case crc.Sum32() != zf.CRC32:
		err = fmt.Errorf("%w: %s: checksum mismatch", ErrExtractionFormat, zf.Name)
	case closeErr != nil:
		err = fmt.Errorf("failed to write %s: %w", target, closeErr)
	}
	if err != nil {
		if rmErr := e.fs.RemoveAll(target); rmErr != nil {
			e.logger.Warn("failed to remove corrupt file", "path", target, "error", rmErr)
		}
		return n, err
	}
	return n, nil
}

// progressTracker accumulates written bytes across all entries.
type progressTracker struct {
	total    uint64
	written  uint64
	reported float64
	report   func(float64)
}

func (p *progressTracker) Write(b []byte) (int, error) {
	p.written += uint64(len(b))
	if p.report != nil {
		frac := min(float64(p.written)/float64(p.total), 1)
		if frac-p.reported >= progressStep {
			p.reported = frac
			p.report(frac)
		}
	}
	return len(b), nil
}

func (p *progressTracker) finish() {
	if p.report != nil && p.reported < 1 {
		p.reported = 1
		p.report(1)
	}
}
