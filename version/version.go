// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package version holds the build version of hotbundle.
package version

import (
	"fmt"
)

// Version is the main version number that is being run at the moment.
//
// Release builds override this with -ldflags.
var Version = "0.4.0"

// Prerelease is a marker for the version. If this is "" (empty string)
// then it means that it is a final release. Otherwise, this is a pre-release
// such as "dev" (in development), "beta", "rc1", etc.
var Prerelease = "dev"

// String returns the complete version string, including prerelease.
func String() string {
	if Prerelease != "" {
		return fmt.Sprintf("%s-%s", Version, Prerelease)
	}
	return Version
}
