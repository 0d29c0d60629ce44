// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package bundlefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// copyConcurrency bounds how many files CopyDir copies at once.
const copyConcurrency = 8

// CopyDir recursively copies all of the files within the directory given in
// src to the directory given in dst, creating dst if needed.
//
// If the destination directory is non-empty then the new files will merge in
// with the old, overwriting any files that have a relative path in common.
//
// Unlike a general-purpose copy, dot files are copied too: a bundle is an
// opaque tree and every file in it belongs to the bundle.
//
// Symlinks are recreated with the same target when the underlying file
// system supports them, and are otherwise reported as an error.
func (f *FS) CopyDir(dst, src string) error {
	if err := f.fs.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dst, err)
	}

	var errg errgroup.Group
	errg.SetLimit(copyConcurrency)

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("error walking the path %q: %w", path, err)
		}

		if path == src {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, rel)

		if info.IsDir() {
			if path == dst {
				// dst is in src; don't walk it.
				return filepath.SkipDir
			}
			if err := f.fs.MkdirAll(dstPath, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %q: %w", dstPath, err)
			}
			return nil
		}

		errg.Go(func() error {
			if sameFile(path, dstPath) {
				return nil
			}

			if info.Mode()&os.ModeSymlink == os.ModeSymlink {
				return f.copySymlink(dstPath, path)
			}
			return f.copyFile(dstPath, path, info.Mode())
		})
		return nil
	}
	err := afero.Walk(f.fs, src, walkFn)
	waitErr := errg.Wait()
	return errors.Join(waitErr, err)
}

func (f *FS) copySymlink(dst, src string) error {
	linker, ok := f.fs.(afero.Symlinker)
	if !ok {
		return fmt.Errorf("cannot copy symlink %q: file system does not support symlinks", src)
	}
	target, err := linker.ReadlinkIfPossible(src)
	if err != nil {
		return fmt.Errorf("failed to read symlink %q: %w", src, err)
	}
	if err := linker.SymlinkIfPossible(target, dst); err != nil {
		return fmt.Errorf("failed to create symlink %q: %w", dst, err)
	}
	return nil
}

// copyFile copies the contents and mode of the file from src to dst.
func (f *FS) copyFile(dst, src string, mode os.FileMode) error {
	srcF, err := f.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %q: %w", src, err)
	}
	defer srcF.Close()

	dstF, err := f.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file %q: %w", dst, err)
	}

	if _, err := io.Copy(dstF, srcF); err != nil {
		dstF.Close() // Ignore error from Close since io.Copy already failed
		return fmt.Errorf("failed to copy contents from %q to %q: %w", src, dst, err)
	}

	if err := dstF.Close(); err != nil {
		return fmt.Errorf("failed to close destination file %q: %w", dst, err)
	}

	if err := f.fs.Chmod(dst, mode.Perm()); err != nil {
		return fmt.Errorf("failed to set file mode for %q: %w", dst, err)
	}

	return nil
}

// sameFile reports whether a and b name the same file. Only a textual
// comparison is possible across afero implementations.
func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
