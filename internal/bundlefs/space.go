// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package bundlefs

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpaceFunc returns the number of bytes available to an unprivileged
// writer on the volume containing path.
type FreeSpaceFunc func(path string) (uint64, error)

// DiskFreeSpace queries the operating system for the free space on the
// volume containing path.
func DiskFreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("failed to query free space for %s: %w", path, err)
	}
	return usage.Free, nil
}

// FreeSpace returns the free space available to the volume containing path.
func (f *FS) FreeSpace(path string) (uint64, error) {
	return f.freeSpace(path)
}
