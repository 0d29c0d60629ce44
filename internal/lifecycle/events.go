// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import "time"

// Events is a collection of function references that the engine calls as it
// makes progress, so that a host can observe the engine without the engine
// knowing anything about how the observations are used.
//
// Any or all of the fields may be nil. The callbacks run synchronously on
// the engine's own goroutine, some while it holds its internal lock, so they
// must return promptly and must not call back into the engine.
type Events struct {
	// UpdateBegin is called when an install of bundleID starts doing work,
	// after it has passed the crashed-history check.
	UpdateBegin func(bundleID string)

	// UpdateRejected is called when an install is refused because the
	// bundle crashed the app before.
	UpdateRejected func(bundleID string)

	// UpdateReused is called when an install found the bundle already
	// extracted on disk and staged it without downloading.
	UpdateReused func(bundleID string)

	// UpdateSuccess is called when a downloaded bundle has been staged.
	// bundleBytes is the extracted size.
	UpdateSuccess func(bundleID string, bundleBytes int64, elapsed time.Duration)

	// UpdateFailure is called when an install fails after UpdateBegin.
	UpdateFailure func(bundleID string, err error)

	// Reset is called after an update request without a URL has put the
	// partition back to its initial state.
	Reset func(bundleID string)

	// Promoted is called when a staged bundle has been confirmed and made
	// stable.
	Promoted func(bundleID string)

	// RolledBack is called when a staged bundle has been discarded, either
	// because a previous launch crashed with it or because it went missing
	// from disk.
	RolledBack func(bundleID string, reason string)

	// GarbageCollected is called with the names of the directories that a
	// garbage collection pass removed, if there were any.
	GarbageCollected func(removed []string)

	// IsolationWipe is called on construction when the app identity changed
	// and the bundles installed under the old identity were removed.
	IsolationWipe func(removed int)
}
