// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package bundlemeta persists the bundle lifecycle state: which bundle is
// stable, which is staged awaiting confirmation, and which bundles have
// crashed the app in the past.
package bundlemeta

import (
	"errors"
	"time"
)

const (
	// MetadataFileName is the name of the metadata document within the
	// bundle store directory.
	MetadataFileName = "metadata.json"

	// CrashedHistoryFileName is the name of the crashed-bundle ledger within
	// the bundle store directory.
	CrashedHistoryFileName = "crashed-history.json"
)

// ErrInvalidMetadata is returned by [Store.Save] when asked to persist a
// snapshot that violates the metadata invariants.
var ErrInvalidMetadata = errors.New("invalid bundle metadata")

// Metadata is the persisted lifecycle record for one isolation partition.
//
// An empty bundle id means "none". Timestamps are Unix milliseconds, and a
// zero VerificationAttemptedAt means the staged bundle has not yet been
// launched.
type Metadata struct {
	StableBundleID          string `json:"stableBundleId,omitempty"`
	StagingBundleID         string `json:"stagingBundleId,omitempty"`
	VerificationPending     bool   `json:"verificationPending"`
	VerificationAttemptedAt int64  `json:"verificationAttemptedAt,omitempty"`
	IsolationKey            string `json:"isolationKey"`
	UpdatedAt               int64  `json:"updatedAt"`
}

// Initial returns the fresh record used when a partition has no metadata
// yet. stableID may be empty.
func Initial(isolationKey, stableID string) Metadata {
	return Metadata{
		StableBundleID: stableID,
		IsolationKey:   isolationKey,
	}
}

// Validate checks the invariants that must hold for every persisted
// snapshot.
func (m Metadata) Validate() error {
	if m.VerificationPending && m.StagingBundleID == "" {
		return errors.Join(ErrInvalidMetadata, errors.New("verification is pending but no bundle is staged"))
	}
	if m.VerificationAttemptedAt != 0 && !m.VerificationPending {
		return errors.Join(ErrInvalidMetadata, errors.New("verification attempt recorded without a pending verification"))
	}
	return nil
}

// ActiveBundleID returns the id of the bundle that should be running: the
// staged bundle while it awaits verification and otherwise the stable one.
func (m Metadata) ActiveBundleID() string {
	if m.VerificationPending && m.StagingBundleID != "" {
		return m.StagingBundleID
	}
	return m.StableBundleID
}

// WithStaging returns a copy of m with id staged for verification.
func (m Metadata) WithStaging(id string) Metadata {
	m.StagingBundleID = id
	m.VerificationPending = true
	m.VerificationAttemptedAt = 0
	return m
}

// WithAttempt returns a copy of m recording that the staged bundle was
// launched at the given time.
func (m Metadata) WithAttempt(at time.Time) Metadata {
	m.VerificationAttemptedAt = at.UnixMilli()
	return m
}

// Promoted returns a copy of m with the staged bundle made stable.
func (m Metadata) Promoted() Metadata {
	m.StableBundleID = m.StagingBundleID
	return m.withoutStaging()
}

// RolledBack returns a copy of m with the staged bundle discarded.
func (m Metadata) RolledBack() Metadata {
	return m.withoutStaging()
}

func (m Metadata) withoutStaging() Metadata {
	m.StagingBundleID = ""
	m.VerificationPending = false
	m.VerificationAttemptedAt = 0
	return m
}
