// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingBundleID is returned when an operation needs a bundle id and
	// none was given.
	ErrMissingBundleID = errors.New("bundle id is required")

	// ErrInvalidBundleID is returned for ids that cannot safely name a
	// directory in the bundle store.
	ErrInvalidBundleID = errors.New("invalid bundle id")

	// ErrDirectoryCreation covers failures to prepare the bundle store or
	// scratch directories, including not being able to tell how much space
	// is free when the disk space policy is fail-closed.
	ErrDirectoryCreation = errors.New("failed to prepare bundle directory")

	// ErrMoveOperationFailed means an extracted bundle could not be moved
	// into place by any strategy.
	ErrMoveOperationFailed = errors.New("failed to move bundle into place")

	// ErrBundleInCrashedHistory means the requested bundle crashed the app
	// before and will not be installed again.
	ErrBundleInCrashedHistory = errors.New("bundle is in crashed history and cannot be applied")
)

// InsufficientDiskSpaceError is returned when the volume holding the bundle
// store cannot fit both an archive and its extracted contents.
type InsufficientDiskSpaceError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientDiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space: need %d bytes, %d available", e.Required, e.Available)
}
