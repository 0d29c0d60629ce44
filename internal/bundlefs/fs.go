// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package bundlefs is the file-system capability used by the bundle
// lifecycle engine.
//
// Everything goes through an [afero.Fs] so that the engine can run against
// the real OS file system in production and an in-memory one in tests. The
// package adds the handful of compound operations the engine needs on top
// of afero's primitives: atomic file writes, a directory move that degrades
// gracefully when rename is not possible, recursive copy, bundle file
// lookup and free-space queries.
package bundlefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// FS is an afero-backed file system with the compound operations the
// lifecycle engine relies on.
type FS struct {
	fs        afero.Fs
	freeSpace FreeSpaceFunc
	logger    hclog.Logger
}

// Option customizes an [FS] at construction time.
type Option func(*FS)

// WithFreeSpaceFunc replaces the free-space query. Tests use this to
// simulate full disks, and hosts use it when the store lives somewhere
// gopsutil cannot see.
func WithFreeSpaceFunc(fn FreeSpaceFunc) Option {
	return func(f *FS) {
		f.freeSpace = fn
	}
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(logger hclog.Logger) Option {
	return func(f *FS) {
		f.logger = logger
	}
}

// New wraps the given afero file system.
func New(base afero.Fs, opts ...Option) *FS {
	ret := &FS{
		fs:        base,
		freeSpace: DiskFreeSpace,
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// NewOS returns an FS over the real operating system file system.
func NewOS(opts ...Option) *FS {
	return New(afero.NewOsFs(), opts...)
}

// Afero returns the underlying afero file system.
func (f *FS) Afero() afero.Fs {
	return f.fs
}

func (f *FS) MkdirAll(path string) error {
	return f.fs.MkdirAll(path, 0o755)
}

func (f *FS) RemoveAll(path string) error {
	return f.fs.RemoveAll(path)
}

func (f *FS) Rename(oldpath, newpath string) error {
	return f.fs.Rename(oldpath, newpath)
}

func (f *FS) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(f.fs, path)
}

func (f *FS) Open(path string) (afero.File, error) {
	return f.fs.Open(path)
}

func (f *FS) Create(path string) (afero.File, error) {
	return f.fs.Create(path)
}

func (f *FS) OpenFile(path string, flag int, perm os.FileMode) (afero.File, error) {
	return f.fs.OpenFile(path, flag, perm)
}

func (f *FS) Stat(path string) (os.FileInfo, error) {
	return f.fs.Stat(path)
}

// ReadDir lists the entries of a directory sorted by name.
func (f *FS) ReadDir(path string) ([]os.FileInfo, error) {
	return afero.ReadDir(f.fs, path)
}

// Exists reports whether anything exists at path. Errors other than
// "not exist" are treated as existing, so that callers err on the side of
// not overwriting.
func (f *FS) Exists(path string) bool {
	_, err := f.fs.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// IsDir reports whether path exists and is a directory.
func (f *FS) IsDir(path string) bool {
	info, err := f.fs.Stat(path)
	return err == nil && info.IsDir()
}

// IsFile reports whether path exists and is a regular file.
func (f *FS) IsFile(path string) bool {
	info, err := f.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Touch sets the modification time of path to now.
func (f *FS) Touch(path string, now time.Time) error {
	return f.fs.Chtimes(path, now, now)
}

// WriteFileAtomic writes data to a sibling temporary file and then renames
// it over path, so a reader never observes a partially-written file.
func (f *FS) WriteFileAtomic(path string, data []byte) error {
	if err := f.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, 0o644); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.fs.Rename(tmp, path); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// FindFile searches the tree rooted at root for a regular file with the
// given base name and returns the first match in lexical walk order.
func (f *FS) FindFile(root, name string) (string, bool, error) {
	var found string
	err := afero.Walk(f.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == name {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	// afero.Walk hands SkipAll back to the caller rather than absorbing it.
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return "", false, err
	}
	return found, found != "", nil
}
