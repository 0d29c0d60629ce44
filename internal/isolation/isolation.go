// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package isolation partitions installed bundles by app identity.
//
// Bundles are only safe to run under the app build they were published for,
// so every piece of persisted state is tagged with an isolation key derived
// from the app version, an optional build fingerprint and the release
// channel. When the key changes, the bundles installed under the old key
// are wiped.
package isolation

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/opentofu/hotbundle/internal/bundlefs"
)

const (
	keyPrefix = "hotbundle_"

	// DefaultChannel is used when no release channel is configured.
	DefaultChannel = "production"

	// UnknownVersion is used when the host cannot report its version.
	UnknownVersion = "unknown"
)

// Identity describes the app build that bundles are installed for.
type Identity struct {
	AppVersion  string
	Fingerprint string
	Channel     string
}

// Key returns the isolation key for the identity, in the form
// "hotbundle_{fingerprint_}{version}_{channel}_". The trailing underscore
// lets the key be used directly as a preference key prefix.
func (id Identity) Key() string {
	version := strings.TrimSpace(id.AppVersion)
	if version == "" {
		version = UnknownVersion
	}
	channel := strings.TrimSpace(id.Channel)
	if channel == "" {
		channel = DefaultChannel
	}

	var b strings.Builder
	b.WriteString(keyPrefix)
	if fp := strings.TrimSpace(id.Fingerprint); fp != "" {
		b.WriteString(fp)
		b.WriteByte('_')
	}
	b.WriteString(version)
	b.WriteByte('_')
	b.WriteString(channel)
	b.WriteByte('_')
	return b.String()
}

// KeyPeeker reads the isolation key recorded with the persisted metadata,
// without trusting anything else in it.
type KeyPeeker interface {
	PeekIsolationKey() (string, bool)
}

// Guard wipes the bundle store when the app identity has changed since the
// metadata was last written.
type Guard struct {
	fs       *bundlefs.FS
	storeDir string
	current  string
	peeker   KeyPeeker
	logger   hclog.Logger
}

func NewGuard(fs *bundlefs.FS, storeDir, currentKey string, peeker KeyPeeker, logger hclog.Logger) *Guard {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Guard{
		fs:       fs,
		storeDir: storeDir,
		current:  currentKey,
		peeker:   peeker,
		logger:   logger,
	}
}

// Check compares the stored isolation key with the current one and, if a
// different key is recorded, removes every directory in the bundle store.
//
// Files are left alone, so the metadata document and crashed history
// survive; the metadata is then ignored by key mismatch and recreated on
// the next install. Removal failures are logged and the sweep continues.
//
// Check returns how many directories were removed along with any errors
// encountered during the sweep.
func (g *Guard) Check() (int, error) {
	stored, ok := g.peeker.PeekIsolationKey()
	if !ok || stored == g.current {
		return 0, nil
	}

	g.logger.Info("isolation key changed, wiping installed bundles", "previous", stored, "current", g.current)

	entries, err := g.fs.ReadDir(g.storeDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(g.storeDir, entry.Name())
		if err := g.fs.RemoveAll(path); err != nil {
			g.logger.Error("failed to remove bundle directory", "path", path, "error", err)
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
