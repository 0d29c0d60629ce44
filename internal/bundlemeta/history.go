// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package bundlemeta

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/opentofu/hotbundle/internal/bundlefs"
)

// CrashedBundle is one entry of the crashed-bundle ledger.
type CrashedBundle struct {
	BundleID  string `json:"bundleId"`
	CrashedAt int64  `json:"crashedAt"`
}

// CrashedHistory is the ordered set of bundles that crashed the app. Entries
// are only ever added, or dropped all at once by [HistoryStore.Clear].
type CrashedHistory struct {
	Bundles []CrashedBundle `json:"bundles"`
}

// Contains reports whether id has crashed before.
func (h *CrashedHistory) Contains(id string) bool {
	return slices.ContainsFunc(h.Bundles, func(b CrashedBundle) bool {
		return b.BundleID == id
	})
}

// Add records that id crashed at the given time. It reports false, and
// changes nothing, if id is already recorded.
func (h *CrashedHistory) Add(id string, at time.Time) bool {
	if h.Contains(id) {
		return false
	}
	h.Bundles = append(h.Bundles, CrashedBundle{BundleID: id, CrashedAt: at.UnixMilli()})
	return true
}

// IDs returns the recorded bundle ids in the order they crashed.
func (h *CrashedHistory) IDs() []string {
	ret := make([]string, len(h.Bundles))
	for i, b := range h.Bundles {
		ret[i] = b.BundleID
	}
	return ret
}

// HistoryStore reads and writes the crashed-bundle ledger.
//
// The ledger lives beside the metadata document but in its own file, so
// metadata resets and isolation wipes leave it intact.
type HistoryStore struct {
	fs     *bundlefs.FS
	dir    string
	logger hclog.Logger
}

func NewHistoryStore(fs *bundlefs.FS, dir string, logger hclog.Logger) *HistoryStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HistoryStore{fs: fs, dir: dir, logger: logger}
}

func (s *HistoryStore) Path() string {
	return filepath.Join(s.dir, CrashedHistoryFileName)
}

// Load returns the ledger. A missing or unreadable ledger is empty.
func (s *HistoryStore) Load() *CrashedHistory {
	data, err := s.fs.ReadFile(s.Path())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read crashed history", "path", s.Path(), "error", err)
		}
		return &CrashedHistory{}
	}
	var ret CrashedHistory
	if err := json.Unmarshal(data, &ret); err != nil {
		s.logger.Warn("ignoring malformed crashed history", "path", s.Path(), "error", err)
		return &CrashedHistory{}
	}
	return &ret
}

func (s *HistoryStore) Save(h *CrashedHistory) error {
	if h.Bundles == nil {
		h.Bundles = []CrashedBundle{}
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode crashed history: %w", err)
	}
	return s.fs.WriteFileAtomic(s.Path(), data)
}

// Clear empties the ledger.
func (s *HistoryStore) Clear() error {
	return s.Save(&CrashedHistory{})
}
