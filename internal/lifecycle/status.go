// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import "github.com/opentofu/hotbundle/internal/bundlemeta"

// State is the lifecycle state of a partition, derived from its metadata.
type State string

const (
	StateUninitialized               State = "uninitialized"
	StateStable                      State = "stable"
	StateStagingUnverified           State = "staging-unverified"
	StateStagingAwaitingConfirmation State = "staging-awaiting-confirmation"
)

// Snapshot is a read-only view of a partition.
type Snapshot struct {
	State    State
	Metadata *bundlemeta.Metadata

	// Installed lists the bundle directories currently in the store.
	Installed []string
}

// StateOf derives the lifecycle state from metadata, which may be nil.
func StateOf(m *bundlemeta.Metadata) State {
	switch {
	case m == nil:
		return StateUninitialized
	case !isPending(m):
		return StateStable
	case m.VerificationAttemptedAt == 0:
		return StateStagingUnverified
	default:
		return StateStagingAwaitingConfirmation
	}
}

// Status reports the current state of the partition without changing it.
func (e *Engine) Status() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.meta.Load()
	if err != nil {
		return Snapshot{}, err
	}
	ret := Snapshot{
		State:    StateOf(meta),
		Metadata: meta,
	}

	entries, err := e.fs.ReadDir(e.storeDir)
	if err != nil {
		return ret, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() && validateBundleID(name) == nil {
			ret.Installed = append(ret.Installed, name)
		}
	}
	return ret, nil
}
