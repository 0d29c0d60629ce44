// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package bundlemeta

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/opentofu/hotbundle/internal/bundlefs"
)

// Store reads and writes the metadata document of one isolation partition.
//
// Store does no locking of its own. The lifecycle engine is the only writer
// and serializes its read-modify-write cycles.
type Store struct {
	fs           *bundlefs.FS
	dir          string
	isolationKey string
	logger       hclog.Logger
	now          func() time.Time
}

// NewStore returns a store for the metadata document in dir belonging to
// the partition identified by isolationKey.
func NewStore(fs *bundlefs.FS, dir, isolationKey string, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		fs:           fs,
		dir:          dir,
		isolationKey: isolationKey,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source used to stamp saved snapshots.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Path returns the location of the metadata document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, MetadataFileName)
}

// Load returns the persisted metadata, or nil if there is none.
//
// A malformed document, or one written under a different isolation key, is
// treated the same as a missing one so that a damaged file can never stop
// the app from starting. Only unexpected read failures are returned as
// errors.
func (s *Store) Load() (*Metadata, error) {
	data, err := s.fs.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Path(), err)
	}

	var ret Metadata
	if err := json.Unmarshal(data, &ret); err != nil {
		s.logger.Warn("ignoring malformed metadata", "path", s.Path(), "error", err)
		return nil, nil
	}
	if ret.IsolationKey != s.isolationKey {
		s.logger.Debug("ignoring metadata from another partition", "stored", ret.IsolationKey, "current", s.isolationKey)
		return nil, nil
	}
	if err := ret.Validate(); err != nil {
		s.logger.Warn("ignoring inconsistent metadata", "path", s.Path(), "error", err)
		return nil, nil
	}
	return &ret, nil
}

// Save persists the full snapshot m, stamping its isolation key and update
// time in place first. The previous document is replaced atomically.
func (s *Store) Save(m *Metadata) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.IsolationKey = s.isolationKey
	m.UpdatedAt = s.now().UnixMilli()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := s.fs.WriteFileAtomic(s.Path(), data); err != nil {
		return err
	}
	s.logger.Trace("saved metadata", "stable", m.StableBundleID, "staging", m.StagingBundleID, "pending", m.VerificationPending)
	return nil
}

// PeekIsolationKey returns the isolation key recorded in the metadata
// document without validating anything else about it. The boolean result is
// false if there is no document or it has no readable key.
func (s *Store) PeekIsolationKey() (string, bool) {
	data, err := s.fs.ReadFile(s.Path())
	if err != nil {
		return "", false
	}
	var raw struct {
		IsolationKey *string `json:"isolationKey"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.IsolationKey == nil {
		return "", false
	}
	return *raw.IsolationKey, true
}
