// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package bundlefs

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrMoveFailed is returned by [FS.Move] when every strategy for moving a
// directory into place has failed.
var ErrMoveFailed = errors.New("failed to move directory into place")

// Move moves the directory src to dst, which must not already exist.
//
// Three strategies are tried in order:
//
//  1. a plain rename;
//  2. creating dst's parent and renaming again, then checking that dst
//     actually appeared and src is gone, for file systems whose rename
//     reports success without doing the work;
//  3. a recursive copy followed by removal of src.
//
// If all three fail, any partial copy at dst is removed and the returned
// error wraps [ErrMoveFailed] together with each strategy's error.
func (f *FS) Move(src, dst string) error {
	renameErr := f.fs.Rename(src, dst)
	if renameErr == nil {
		return nil
	}
	f.logger.Debug("rename failed, retrying with verification", "src", src, "dst", dst, "error", renameErr)

	verifyErr := f.moveAndVerify(src, dst)
	if verifyErr == nil {
		return nil
	}
	f.logger.Debug("verified move failed, falling back to copy", "src", src, "dst", dst, "error", verifyErr)

	copyErr := f.CopyDir(dst, src)
	if copyErr == nil {
		if err := f.fs.RemoveAll(src); err != nil {
			// dst is complete, so the move itself succeeded.
			f.logger.Warn("failed to remove source after copy", "src", src, "error", err)
		}
		return nil
	}
	if err := f.fs.RemoveAll(dst); err != nil {
		f.logger.Warn("failed to remove partial copy", "dst", dst, "error", err)
	}

	return fmt.Errorf("%w: %s -> %s: %w", ErrMoveFailed, src, dst, errors.Join(renameErr, verifyErr, copyErr))
}

func (f *FS) moveAndVerify(src, dst string) error {
	if err := f.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := f.fs.Rename(src, dst); err != nil {
		return err
	}
	if !f.IsDir(dst) {
		return fmt.Errorf("%s missing after rename", dst)
	}
	if f.Exists(src) {
		return fmt.Errorf("%s still present after rename", src)
	}
	return nil
}
