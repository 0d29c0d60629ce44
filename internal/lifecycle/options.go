// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/opentofu/hotbundle/internal/bundlefs"
	"github.com/opentofu/hotbundle/internal/extract"
	"github.com/opentofu/hotbundle/internal/prefs"
)

const (
	// DefaultBundleFileName is the entry point file that every bundle must
	// contain.
	DefaultBundleFileName = "index.android.bundle"

	// DefaultFallbackBundleURL is the bundle shipped inside the app binary.
	DefaultFallbackBundleURL = "assets://" + DefaultBundleFileName

	// BundleURLPreference is the preference key holding the path of the
	// most recently selected bundle file.
	BundleURLPreference = "HotBundleURL"
)

// Transfer downloads an archive to a local file.
type Transfer interface {
	Download(ctx context.Context, url, dest string, onSizeKnown func(int64) error, onProgress func(float64)) error
}

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, onProgress func(float64)) (extract.Result, error)
}

// Verifier checks an archive against the credential supplied with it.
type Verifier interface {
	Verify(ctx context.Context, archivePath, credential string) error
}

// DiskSpacePolicy decides what happens when the free space on the bundle
// store's volume cannot be determined.
type DiskSpacePolicy int

const (
	// FailClosed rejects the install.
	FailClosed DiskSpacePolicy = iota

	// Proceed logs a warning and carries on without the check.
	Proceed
)

func (p DiskSpacePolicy) String() string {
	switch p {
	case FailClosed:
		return "fail-closed"
	case Proceed:
		return "proceed"
	default:
		return fmt.Sprintf("DiskSpacePolicy(%d)", int(p))
	}
}

// ParseDiskSpacePolicy accepts the names returned by DiskSpacePolicy.String.
func ParseDiskSpacePolicy(s string) (DiskSpacePolicy, error) {
	switch s {
	case "", "fail-closed":
		return FailClosed, nil
	case "proceed":
		return Proceed, nil
	default:
		return FailClosed, fmt.Errorf("unknown disk space policy %q; must be \"fail-closed\" or \"proceed\"", s)
	}
}

// Options configures an [Engine]. StoreDir and IsolationKey are required;
// every other field has a usable default.
type Options struct {
	// StoreDir is the directory holding one subdirectory per installed
	// bundle, plus the metadata and crashed-history documents.
	StoreDir string

	// IsolationKey identifies the app build, as computed by the isolation
	// package.
	IsolationKey string

	// FS defaults to the operating system file system.
	FS *bundlefs.FS

	// Prefs is the host's preference store. The engine namespaces its keys
	// with IsolationKey. Defaults to an in-memory store.
	Prefs prefs.Store

	// Transfer, Extractor and Verifier default to the implementations in
	// the transfer, extract and integrity packages using FS.
	Transfer  Transfer
	Extractor Extractor
	Verifier  Verifier

	Logger hclog.Logger
	Events *Events

	// BundleFileName defaults to DefaultBundleFileName.
	BundleFileName string

	// FallbackBundleURL is returned when no installed bundle is usable.
	// Defaults to DefaultFallbackBundleURL.
	FallbackBundleURL string

	// Clock defaults to time.Now.
	Clock func() time.Time

	DiskSpacePolicy DiskSpacePolicy
}
