// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package bridge is the surface that a host application calls into. It
// validates parameters before anything else happens and reports failures
// using a small closed set of error codes.
package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/opentofu/hotbundle/internal/lifecycle"
)

// Engine is the part of [lifecycle.Engine] that the bridge exposes.
type Engine interface {
	UpdateBundle(ctx context.Context, bundleID, fileURL, credential string, onProgress func(float64)) error
	BundleURL() string
	NotifyAppReady(currentID string) lifecycle.AppReadyResult
	CrashHistory() []string
	ClearCrashHistory() bool
	BaseURL() string
}

// UpdateParams are the parameters of an update request.
type UpdateParams struct {
	BundleID string `json:"bundleId"`

	// FileURL is where to download the bundle archive. Empty resets to
	// the bundle shipped with the app.
	FileURL string `json:"fileUrl,omitempty"`

	// FileHash is the archive credential: a hex digest or "sig:" followed
	// by a base64 signature.
	FileHash string `json:"fileHash,omitempty"`
}

// Validate checks the parameters without touching any state.
func (p UpdateParams) Validate() error {
	if strings.TrimSpace(p.BundleID) == "" {
		return &Error{Code: CodeMissingBundleID, Message: "Missing or empty 'bundleId'", Err: lifecycle.ErrMissingBundleID}
	}
	if p.FileURL == "" {
		return nil
	}
	u, err := url.Parse(p.FileURL)
	if err != nil {
		return &Error{Code: CodeInvalidFileURL, Message: fmt.Sprintf("Invalid 'fileUrl' provided: %s", p.FileURL), Err: fmt.Errorf("%w: %w", ErrInvalidFileURL, err)}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &Error{Code: CodeInvalidFileURL, Message: fmt.Sprintf("Invalid 'fileUrl' provided: %s", p.FileURL), Err: fmt.Errorf("%w: must be an absolute http or https URL", ErrInvalidFileURL)}
	}
	return nil
}

// Module adapts an [Engine] for a host application.
type Module struct {
	engine Engine
	logger hclog.Logger
}

func New(engine Engine, logger hclog.Logger) *Module {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Module{engine: engine, logger: logger}
}

// UpdateBundle validates p and installs the bundle it describes. Any error
// returned is an *Error.
func (m *Module) UpdateBundle(ctx context.Context, p UpdateParams, onProgress func(float64)) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := m.engine.UpdateBundle(ctx, p.BundleID, p.FileURL, p.FileHash, onProgress)
	if err == nil {
		return nil
	}
	ret := publicError(err)
	if ret.Code == CodeUnknownError {
		m.logger.Error("update failed with an unexpected error", "bundle", p.BundleID, "error", err)
	} else {
		m.logger.Debug("update failed", "bundle", p.BundleID, "code", ret.Code, "error", err)
	}
	return ret
}

func (m *Module) GetBundleURL() string {
	return m.engine.BundleURL()
}

// NotifyAppReady reports that the app started with bundleID. The result
// always has a "status" entry and, after a rollback, a "crashedBundleId"
// entry naming the bundle that was rolled back.
//
// An empty bundle id never promotes anything, but still reports a rollback
// made earlier in this process.
func (m *Module) NotifyAppReady(bundleID string) map[string]string {
	result := m.engine.NotifyAppReady(bundleID)
	ret := map[string]string{"status": string(result.Status)}
	if result.CrashedBundleID != "" {
		ret["crashedBundleId"] = result.CrashedBundleID
	}
	return ret
}

// GetCrashHistory returns the ids of the bundles that crashed the app.
// The result is never nil.
func (m *Module) GetCrashHistory() []string {
	ids := m.engine.CrashHistory()
	if ids == nil {
		return []string{}
	}
	return ids
}

func (m *Module) ClearCrashHistory() bool {
	return m.engine.ClearCrashHistory()
}

func (m *Module) GetBaseURL() string {
	return m.engine.BaseURL()
}
