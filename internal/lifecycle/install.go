// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/opentofu/hotbundle/internal/bundlemeta"
	"github.com/opentofu/hotbundle/internal/extract"
	"github.com/opentofu/hotbundle/internal/tracing"
)

const (
	scratchSuffix   = ".tmp"
	downloadsDir    = ".downloads"
	archiveFallback = "bundle.zip"

	// downloadShare is the part of the overall progress covered by the
	// download. Extraction covers the rest.
	downloadShare = 0.8
)

// UpdateBundle installs the bundle bundleID from fileURL as the staged
// bundle, to be promoted once the app confirms it starts with it.
//
// An empty fileURL instead resets the partition: the bundle preference is
// cleared, fresh metadata is written and every installed bundle except
// bundleID is removed.
//
// Bundles in the crashed history are rejected with
// ErrBundleInCrashedHistory before anything touches the disk or network.
// A bundle that is already installed is staged again without downloading.
//
// credential is the hash or signature to check the archive against, as
// accepted by the integrity package. onProgress, if set, receives the
// overall progress in [0, 1] on a separate goroutine; it has been called
// for the last time when UpdateBundle returns.
//
// Concurrent calls for the same bundleID share one install. Every caller
// sees its progress and its result, but only the first caller's fileURL,
// credential and context are used.
func (e *Engine) UpdateBundle(ctx context.Context, bundleID, fileURL, credential string, onProgress func(float64)) error {
	if err := validateBundleID(bundleID); err != nil {
		return err
	}
	if fileURL == "" {
		return e.reset(bundleID)
	}

	relay := newProgressRelay(onProgress)
	defer relay.close()
	f := e.joinFlight(bundleID, relay)
	defer e.leaveFlight(bundleID, f, relay)

	_, err, shared := e.inflight.Do(bundleID, func() (any, error) {
		return nil, e.install(ctx, bundleID, fileURL, credential, f)
	})
	if shared {
		e.logger.Trace("install was shared with other callers", "bundle", bundleID)
	}
	return err
}

func (e *Engine) install(ctx context.Context, id, fileURL, credential string, f *flight) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "Install bundle",
		tracing.SpanAttributes(tracing.BundleID(id), tracing.BundleURL(fileURL)),
	)
	outcome := "failed"
	defer func() {
		span.SetAttributes(tracing.InstallOutcome(outcome))
		tracing.SetSpanError(span, err)
		span.End()
	}()

	if e.isCrashed(id) {
		outcome = "rejected"
		e.logger.Warn("rejecting bundle from crashed history", "bundle", id)
		if cb := e.events.UpdateRejected; cb != nil {
			cb(id)
		}
		return fmt.Errorf("%w: %s", ErrBundleInCrashedHistory, id)
	}

	if cb := e.events.UpdateBegin; cb != nil {
		cb(id)
	}
	start := e.now()

	reused, size, err := e.installBundle(ctx, id, fileURL, credential, f)
	if err != nil {
		e.logger.Error("bundle install failed", "bundle", id, "error", err)
		if cb := e.events.UpdateFailure; cb != nil {
			cb(id, err)
		}
		return err
	}

	f.broadcast(1)
	if reused {
		outcome = "reused"
		e.logger.Info("staged existing bundle", "bundle", id)
		if cb := e.events.UpdateReused; cb != nil {
			cb(id)
		}
		return nil
	}
	outcome = "installed"
	elapsed := e.now().Sub(start)
	e.logger.Info("staged new bundle", "bundle", id, "bytes", size, "elapsed", elapsed)
	if cb := e.events.UpdateSuccess; cb != nil {
		cb(id, size, elapsed)
	}
	return nil
}

func (e *Engine) isCrashed(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Load().Contains(id)
}

// installBundle stages id, reusing an existing installation if there is
// one. It returns whether it did, and otherwise the extracted size.
func (e *Engine) installBundle(ctx context.Context, id, fileURL, credential string, f *flight) (bool, int64, error) {
	e.mu.Lock()
	meta, err := e.loadOrInit()
	if err != nil {
		e.mu.Unlock()
		return false, 0, fmt.Errorf("failed to load metadata: %w", err)
	}
	if err := e.fs.MkdirAll(e.storeDir); err != nil {
		e.mu.Unlock()
		return false, 0, fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, e.storeDir, err)
	}

	finalDir := e.bundleDir(id)
	if e.fs.IsDir(finalDir) {
		if bundlePath, ok := e.bundleFile(id); ok {
			defer e.mu.Unlock()
			if err := e.fs.Touch(finalDir, e.now()); err != nil {
				e.logger.Debug("failed to refresh bundle modification time", "bundle", id, "error", err)
			}
			return true, 0, e.stage(meta, id, bundlePath)
		}
		e.logger.Warn("installed bundle has no bundle file, downloading again", "bundle", id)
		if err := e.fs.RemoveAll(finalDir); err != nil {
			e.mu.Unlock()
			return false, 0, fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, finalDir, err)
		}
	}

	s := e.reserveScratch(id)
	e.mu.Unlock()
	defer e.releaseScratch(s)

	size, err := e.fetch(ctx, id, fileURL, credential, s, f)
	if err != nil {
		return false, 0, err
	}
	return false, size, e.commit(id, s)
}

// fetch downloads, verifies and extracts the archive into the scratch
// extraction directory, and returns the extracted size.
func (e *Engine) fetch(ctx context.Context, id, fileURL, credential string, s scratch, f *flight) (int64, error) {
	if err := e.fs.MkdirAll(s.downloadDir); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, s.downloadDir, err)
	}
	archive := filepath.Join(s.downloadDir, archiveName(fileURL))

	err := e.transfer.Download(ctx, fileURL, archive, e.checkDiskSpace, func(p float64) {
		f.broadcast(p * downloadShare)
	})
	if err != nil {
		return 0, err
	}

	if err := e.verifier.Verify(ctx, archive, credential); err != nil {
		return 0, err
	}

	if err := e.fs.RemoveAll(s.extractDir); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, s.extractDir, err)
	}
	if err := e.fs.MkdirAll(s.extractDir); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, s.extractDir, err)
	}

	result, err := e.extractor.Extract(ctx, archive, s.extractDir, func(p float64) {
		f.broadcast(downloadShare + p*(1-downloadShare))
	})
	if err != nil {
		return 0, err
	}
	if len(result.Skipped) > 0 {
		e.logger.Warn("skipped unsafe archive entries", "bundle", id, "entries", result.Skipped)
	}

	_, ok, err := e.fs.FindFile(s.extractDir, e.bundleFileName)
	if err != nil {
		return 0, fmt.Errorf("failed to search extracted bundle: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s not found in archive", extract.ErrInvalidBundle, e.bundleFileName)
	}
	return result.Bytes, nil
}

// commit moves the extracted bundle into place and stages it.
func (e *Engine) commit(id string, s scratch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	finalDir := e.bundleDir(id)
	if err := e.fs.RemoveAll(finalDir); err != nil {
		return fmt.Errorf("%w: failed to remove previous %s: %w", ErrMoveOperationFailed, finalDir, err)
	}
	if err := e.fs.Move(s.extractDir, finalDir); err != nil {
		return fmt.Errorf("%w: %w", ErrMoveOperationFailed, err)
	}

	bundlePath, ok, err := e.fs.FindFile(finalDir, e.bundleFileName)
	if err != nil || !ok {
		if rmErr := e.fs.RemoveAll(finalDir); rmErr != nil {
			e.logger.Warn("failed to remove incomplete bundle", "bundle", id, "error", rmErr)
		}
		if err != nil {
			return fmt.Errorf("failed to search installed bundle: %w", err)
		}
		return fmt.Errorf("%w: %s missing after install", extract.ErrInvalidBundle, e.bundleFileName)
	}
	if err := e.fs.Touch(finalDir, e.now()); err != nil {
		e.logger.Debug("failed to refresh bundle modification time", "bundle", id, "error", err)
	}

	meta, err := e.loadOrInit()
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}
	return e.stage(meta, id, bundlePath)
}

// stage records id as the staged bundle awaiting verification. The caller
// must hold e.mu.
func (e *Engine) stage(meta *bundlemeta.Metadata, id, bundlePath string) error {
	next := meta.WithStaging(id)
	if err := e.meta.Save(&next); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	e.setCachedBundleURL(&bundlePath)
	e.collectGarbage(next.StableBundleID, id)
	return nil
}

// reset puts the partition back to its initial state, keeping only the
// directory for id if there is one.
func (e *Engine) reset(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setCachedBundleURL(nil)
	initial := bundlemeta.Initial(e.key, "")
	if err := e.meta.Save(&initial); err != nil {
		e.logger.Warn("failed to reset metadata", "error", err)
	}
	e.collectGarbage(id)

	e.logger.Info("reset to fallback bundle", "kept", id)
	if cb := e.events.Reset; cb != nil {
		cb(id)
	}
	return nil
}

// checkDiskSpace is called with an archive's declared size before it is
// downloaded. The archive and its extracted contents must both fit.
func (e *Engine) checkDiskSpace(size int64) error {
	if size <= 0 {
		return nil
	}
	required := uint64(size) * 2
	available, err := e.fs.FreeSpace(e.storeDir)
	if err != nil {
		if e.diskPolicy == Proceed {
			e.logger.Warn("cannot determine free disk space, continuing", "error", err)
			return nil
		}
		return fmt.Errorf("%w: cannot determine free disk space: %w", ErrDirectoryCreation, err)
	}
	e.logger.Debug("checked disk space", "required", required, "available", available)
	if available < required {
		return &InsufficientDiskSpaceError{Required: required, Available: available}
	}
	return nil
}

// scratch is the set of temporary paths owned by one install.
type scratch struct {
	extractDir  string
	downloadDir string
}

// reserveScratch allocates scratch paths for id and protects them from
// garbage collection. The caller must hold e.mu.
func (e *Engine) reserveScratch(id string) scratch {
	s := scratch{
		extractDir:  e.bundleDir(id) + scratchSuffix,
		downloadDir: filepath.Join(e.storeDir, downloadsDir, uuid.NewString()),
	}
	e.scratch[s.extractDir] = struct{}{}
	e.scratch[s.downloadDir] = struct{}{}
	return s
}

// releaseScratch removes whatever is left of s.
func (e *Engine) releaseScratch(s scratch) {
	var errs []error
	for _, p := range []string{s.extractDir, s.downloadDir} {
		if err := e.fs.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("failed to remove install scratch", "error", err)
	}

	e.mu.Lock()
	delete(e.scratch, s.extractDir)
	delete(e.scratch, s.downloadDir)
	e.mu.Unlock()
}

// archiveName picks a local file name for the archive at rawURL.
func archiveName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return archiveFallback
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" || validateBundleID(name) != nil {
		return archiveFallback
	}
	return name
}

// flight fans progress out to every caller sharing one install.
type flight struct {
	mu     sync.Mutex
	relays []*progressRelay
	refs   int
}

func (f *flight) broadcast(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.relays {
		r.send(v)
	}
}

func (e *Engine) joinFlight(id string, r *progressRelay) *flight {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	f, ok := e.flights[id]
	if !ok {
		f = &flight{}
		e.flights[id] = f
	}
	f.refs++
	f.mu.Lock()
	f.relays = append(f.relays, r)
	f.mu.Unlock()
	return f
}

func (e *Engine) leaveFlight(id string, f *flight, r *progressRelay) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	f.mu.Lock()
	for i, other := range f.relays {
		if other == r {
			f.relays = append(f.relays[:i], f.relays[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	f.refs--
	if f.refs == 0 {
		delete(e.flights, id)
	}
}
