// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package lifecycle implements the bundle lifecycle engine: installing
// bundles as staging, promoting them once the app confirms it started,
// rolling them back when it did not, and keeping the bundle store tidy.
package lifecycle

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/opentofu/hotbundle/internal/bundlefs"
	"github.com/opentofu/hotbundle/internal/bundlemeta"
	"github.com/opentofu/hotbundle/internal/extract"
	"github.com/opentofu/hotbundle/internal/integrity"
	"github.com/opentofu/hotbundle/internal/isolation"
	"github.com/opentofu/hotbundle/internal/prefs"
	"github.com/opentofu/hotbundle/internal/transfer"
)

// AppReadyStatus is the outcome reported by [Engine.NotifyAppReady].
type AppReadyStatus string

const (
	StatusStable    AppReadyStatus = "STABLE"
	StatusPromoted  AppReadyStatus = "PROMOTED"
	StatusRecovered AppReadyStatus = "RECOVERED"
)

// AppReadyResult is returned by [Engine.NotifyAppReady]. CrashedBundleID is
// only set when Status is StatusRecovered.
type AppReadyResult struct {
	Status          AppReadyStatus
	CrashedBundleID string
}

// CrashInfo describes a rollback that happened during this process.
type CrashInfo struct {
	BundleID  string
	CrashedAt time.Time
}

// Engine manages the bundle store for one isolation partition.
//
// All methods are safe for concurrent use. Installs of the same bundle id
// are coalesced into a single download.
type Engine struct {
	fs       *bundlefs.FS
	storeDir string
	key      string

	meta    *bundlemeta.Store
	history *bundlemeta.HistoryStore
	prefs   prefs.Store

	transfer  Transfer
	extractor Extractor
	verifier  Verifier

	logger         hclog.Logger
	events         Events
	bundleFileName string
	fallbackURL    string
	now            func() time.Time
	diskPolicy     DiskSpacePolicy

	mu sync.Mutex
	// crashChecked is set once crash detection has evaluated a pending
	// verification in this process.
	crashChecked bool
	// rolledBack is the rollback waiting to be reported by NotifyAppReady.
	rolledBack *CrashInfo
	// scratch holds the paths owned by installs that are still running, so
	// that garbage collection leaves them alone.
	scratch map[string]struct{}

	inflight singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight
}

// New returns an engine for the bundle store described by opts.
//
// If the store was last written under a different isolation key, every
// installed bundle is removed before New returns.
func New(opts Options) (*Engine, error) {
	if opts.StoreDir == "" {
		return nil, errors.New("bundle store directory is required")
	}
	if opts.IsolationKey == "" {
		return nil, errors.New("isolation key is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	fs := opts.FS
	if fs == nil {
		fs = bundlefs.NewOS(bundlefs.WithLogger(logger))
	}
	bundleFileName := opts.BundleFileName
	if bundleFileName == "" {
		bundleFileName = DefaultBundleFileName
	}
	fallbackURL := opts.FallbackBundleURL
	if fallbackURL == "" {
		fallbackURL = DefaultFallbackBundleURL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	store := opts.Prefs
	if store == nil {
		store = prefs.NewMemoryStore()
	}

	e := &Engine{
		fs:             fs,
		storeDir:       opts.StoreDir,
		key:            opts.IsolationKey,
		meta:           bundlemeta.NewStore(fs, opts.StoreDir, opts.IsolationKey, logger.Named("metadata")),
		history:        bundlemeta.NewHistoryStore(fs, opts.StoreDir, logger.Named("metadata")),
		prefs:          prefs.Prefixed(store, opts.IsolationKey),
		transfer:       opts.Transfer,
		extractor:      opts.Extractor,
		verifier:       opts.Verifier,
		logger:         logger,
		bundleFileName: bundleFileName,
		fallbackURL:    fallbackURL,
		now:            now,
		diskPolicy:     opts.DiskSpacePolicy,
		scratch:        make(map[string]struct{}),
		flights:        make(map[string]*flight),
	}
	e.meta.SetClock(now)
	if opts.Events != nil {
		e.events = *opts.Events
	}
	if e.transfer == nil {
		e.transfer = transfer.New(fs, transfer.Options{Retries: -1, Logger: logger.Named("transfer")})
	}
	if e.extractor == nil {
		e.extractor = extract.New(fs, extract.Options{RequiredEntry: bundleFileName, Logger: logger.Named("extract")})
	}
	if e.verifier == nil {
		e.verifier = integrity.NewVerifier(fs, integrity.Options{Logger: logger.Named("integrity")})
	}

	if err := fs.MkdirAll(opts.StoreDir); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, opts.StoreDir, err)
	}

	guard := isolation.NewGuard(fs, opts.StoreDir, opts.IsolationKey, e.meta, logger.Named("isolation"))
	removed, err := guard.Check()
	if err != nil {
		// A partial wipe leaves stale bundles behind, but the stale
		// metadata is ignored so they are never loaded.
		logger.Warn("isolation wipe did not complete", "error", err)
	}
	if removed > 0 {
		if cb := e.events.IsolationWipe; cb != nil {
			cb(removed)
		}
	}

	return e, nil
}

// StoreDir returns the bundle store directory.
func (e *Engine) StoreDir() string {
	return e.storeDir
}

// BundleURL returns the location of the bundle the app should load.
//
// Before any metadata exists this is the last installed bundle recorded in
// preferences, or the fallback. Otherwise the first call in a process that
// finds a staged bundle awaiting verification either marks it as attempted
// or, if it was already attempted by an earlier process that never
// confirmed it, rolls it back. A staged bundle whose file has gone missing
// is also rolled back.
func (e *Engine) BundleURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.meta.Load()
	if err != nil {
		e.logger.Error("failed to load metadata", "error", err)
	}
	if meta == nil {
		if cached := e.cachedBundleURL(); cached != "" {
			return cached
		}
		return e.fallbackURL
	}

	if isPending(meta) && !e.crashChecked {
		e.crashChecked = true
		if meta.VerificationAttemptedAt != 0 {
			e.logger.Warn("staged bundle was launched but never confirmed", "bundle", meta.StagingBundleID)
			next := e.rollback(meta, "crashed before confirming")
			meta = &next
		} else {
			next := meta.WithAttempt(e.now())
			if err := e.meta.Save(&next); err != nil {
				e.logger.Error("failed to record verification attempt", "bundle", meta.StagingBundleID, "error", err)
			}
			meta = &next
		}
	}

	if isPending(meta) {
		if path, ok := e.bundleFile(meta.StagingBundleID); ok {
			return path
		}
		e.logger.Warn("staged bundle file is missing", "bundle", meta.StagingBundleID)
		next := e.rollback(meta, "bundle file missing")
		meta = &next
	}

	if meta.StableBundleID != "" {
		if path, ok := e.bundleFile(meta.StableBundleID); ok {
			return path
		}
	}

	if cached := e.cachedBundleURL(); cached != "" {
		return cached
	}
	return e.fallbackURL
}

// NotifyAppReady records that the app started successfully with the bundle
// currentID, which may be empty.
//
// A rollback performed earlier in this process is reported exactly once,
// taking precedence over everything else. Otherwise, if currentID is the
// staged bundle awaiting verification, it is promoted to stable.
func (e *Engine) NotifyAppReady(currentID string) AppReadyResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.meta.Load()
	if err != nil {
		e.logger.Error("failed to load metadata", "error", err)
	}
	if meta == nil {
		return AppReadyResult{Status: StatusStable}
	}

	if info := e.rolledBack; info != nil {
		e.rolledBack = nil
		e.logger.Info("recovered from rollback", "crashed", info.BundleID)
		return AppReadyResult{Status: StatusRecovered, CrashedBundleID: info.BundleID}
	}

	if !isPending(meta) {
		e.logger.Trace("no verification pending")
		return AppReadyResult{Status: StatusStable}
	}
	if currentID == "" || meta.StagingBundleID != currentID {
		e.logger.Debug("ready bundle is not the staged one", "staging", meta.StagingBundleID, "current", currentID)
		return AppReadyResult{Status: StatusStable}
	}

	if err := e.promote(meta); err != nil {
		e.logger.Error("failed to promote staged bundle", "bundle", currentID, "error", err)
		return AppReadyResult{Status: StatusStable}
	}
	return AppReadyResult{Status: StatusPromoted}
}

// CrashHistory returns the ids of the bundles that have been rolled back,
// oldest first.
func (e *Engine) CrashHistory() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Load().IDs()
}

// CrashHistoryEntries is like CrashHistory but includes when each bundle
// crashed.
func (e *Engine) CrashHistoryEntries() []bundlemeta.CrashedBundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Load().Bundles
}

// ClearCrashHistory forgets every crashed bundle, allowing them to be
// installed again. It reports whether the empty history was saved.
func (e *Engine) ClearCrashHistory() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.history.Clear(); err != nil {
		e.logger.Error("failed to clear crashed history", "error", err)
		return false
	}
	return true
}

// BaseURL returns a file URL for the directory of the active bundle, or the
// empty string if no installed bundle is active.
func (e *Engine) BaseURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var id string
	meta, err := e.meta.Load()
	if err != nil {
		e.logger.Error("failed to load metadata", "error", err)
	}
	if meta != nil {
		id = meta.ActiveBundleID()
	}
	if id == "" {
		id = e.cachedBundleID()
	}
	if id == "" {
		return ""
	}
	dir := e.bundleDir(id)
	if !e.fs.IsDir(dir) {
		return ""
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "file://" + filepath.ToSlash(dir)
}

// rollback discards the staged bundle in meta, records it as crashed and
// returns the metadata that was saved in its place. The caller must hold
// e.mu.
func (e *Engine) rollback(meta *bundlemeta.Metadata, reason string) bundlemeta.Metadata {
	staging := meta.StagingBundleID
	now := e.now()

	history := e.history.Load()
	if history.Add(staging, now) {
		if err := e.history.Save(history); err != nil {
			e.logger.Error("failed to record crashed bundle", "bundle", staging, "error", err)
		}
	}

	next := meta.RolledBack()
	if err := e.meta.Save(&next); err != nil {
		e.logger.Error("failed to save metadata after rollback", "bundle", staging, "error", err)
	}
	e.rolledBack = &CrashInfo{BundleID: staging, CrashedAt: now}

	if next.StableBundleID != "" {
		if path, ok := e.bundleFile(next.StableBundleID); ok {
			e.setCachedBundleURL(&path)
		}
	} else {
		e.setCachedBundleURL(nil)
	}

	if staging != next.StableBundleID {
		if err := e.fs.RemoveAll(e.bundleDir(staging)); err != nil {
			e.logger.Warn("failed to remove rolled back bundle", "bundle", staging, "error", err)
		}
	}

	e.logger.Info("rolled back staged bundle", "bundle", staging, "stable", next.StableBundleID, "reason", reason)
	if cb := e.events.RolledBack; cb != nil {
		cb(staging, reason)
	}
	return next
}

// promote makes the staged bundle in meta stable. Nothing else changes
// if the new metadata cannot be saved. The caller must hold e.mu.
func (e *Engine) promote(meta *bundlemeta.Metadata) error {
	id := meta.StagingBundleID
	next := meta.Promoted()
	if err := e.meta.Save(&next); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	if path, ok := e.bundleFile(id); ok {
		e.setCachedBundleURL(&path)
	}
	e.collectGarbage(id)

	e.logger.Info("promoted staged bundle", "bundle", id)
	if cb := e.events.Promoted; cb != nil {
		cb(id)
	}
	return nil
}

// loadOrInit returns the persisted metadata, creating and saving the
// initial record if there is none. The caller must hold e.mu.
func (e *Engine) loadOrInit() (*bundlemeta.Metadata, error) {
	meta, err := e.meta.Load()
	if err != nil {
		return nil, err
	}
	if meta != nil {
		return meta, nil
	}
	initial := bundlemeta.Initial(e.key, e.cachedBundleID())
	if err := e.meta.Save(&initial); err != nil {
		return nil, err
	}
	e.logger.Debug("created initial metadata", "stable", initial.StableBundleID)
	return &initial, nil
}

func (e *Engine) bundleDir(id string) string {
	return filepath.Join(e.storeDir, id)
}

// bundleFile returns the path of the bundle file for id, if it is installed.
func (e *Engine) bundleFile(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	dir := e.bundleDir(id)
	if !e.fs.IsDir(dir) {
		return "", false
	}
	path, ok, err := e.fs.FindFile(dir, e.bundleFileName)
	if err != nil {
		e.logger.Warn("failed to search bundle directory", "bundle", id, "error", err)
		return "", false
	}
	return path, ok
}

// cachedBundleURL returns the bundle path recorded in preferences, clearing
// it if the file it names no longer exists.
func (e *Engine) cachedBundleURL() string {
	v, err := e.prefs.GetItem(BundleURLPreference)
	if err != nil {
		e.logger.Warn("failed to read bundle preference", "error", err)
		return ""
	}
	if v == nil || *v == "" {
		return ""
	}
	if !e.fs.IsFile(*v) {
		e.logger.Debug("cached bundle no longer exists", "path", *v)
		e.setCachedBundleURL(nil)
		return ""
	}
	return *v
}

// cachedBundleID infers the id of the bundle recorded in preferences from
// its location in the bundle store.
func (e *Engine) cachedBundleID() string {
	v, err := e.prefs.GetItem(BundleURLPreference)
	if err != nil || v == nil || *v == "" {
		return ""
	}
	rel, err := filepath.Rel(e.storeDir, *v)
	if err != nil || !filepath.IsLocal(rel) {
		return ""
	}
	id, rest, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok || rest == "" || validateBundleID(id) != nil {
		return ""
	}
	return id
}

func (e *Engine) setCachedBundleURL(path *string) {
	if err := e.prefs.SetItem(BundleURLPreference, path); err != nil {
		e.logger.Warn("failed to update bundle preference", "error", err)
	}
}

func isPending(m *bundlemeta.Metadata) bool {
	return m.VerificationPending && m.StagingBundleID != ""
}

// validateBundleID rejects ids that cannot name a directory directly inside
// the bundle store, or that collide with the store's own scratch names.
func validateBundleID(id string) error {
	switch {
	case id == "":
		return ErrMissingBundleID
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."):
		return fmt.Errorf("%w %q: must not contain path separators", ErrInvalidBundleID, id)
	case strings.HasPrefix(id, "."), strings.HasSuffix(id, scratchSuffix):
		return fmt.Errorf("%w %q: reserved name", ErrInvalidBundleID, id)
	}
	return nil
}
