// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package transfer downloads bundle archives over HTTP.
package transfer

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/opentofu/hotbundle/internal/bundlefs"
	"github.com/opentofu/hotbundle/internal/httpclient"
	"github.com/opentofu/hotbundle/internal/tracing"
)

const (
	DefaultRetries = 2
	DefaultTimeout = 5 * time.Minute
)

// Options configures a [Manager].
type Options struct {
	// Retries is how many times a request is retried after a transient
	// failure. Negative means the default.
	Retries int

	// Timeout bounds each request including reading the body. Zero means
	// the default.
	Timeout time.Duration

	Logger hclog.Logger

	// ClientBuilder overrides how the HTTP client is constructed. The
	// default uses the shared pooled client with retries.
	ClientBuilder func(ctx context.Context) *retryablehttp.Client
}

// Manager downloads archives onto a bundle file system.
type Manager struct {
	fs            *bundlefs.FS
	logger        hclog.Logger
	clientBuilder func(ctx context.Context) *retryablehttp.Client
}

func New(fs *bundlefs.FS, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	retries := opts.Retries
	if retries < 0 {
		retries = DefaultRetries
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	builder := opts.ClientBuilder
	if builder == nil {
		builder = func(ctx context.Context) *retryablehttp.Client {
			client := httpclient.NewRetryable(ctx, retries, timeout, logger)
			client.RequestLogHook = func(l retryablehttp.Logger, req *http.Request, attempt int) {
				if attempt > 0 {
					logger.Info("failed to fetch bundle archive; retrying", "url", req.URL.Redacted(), "attempt", attempt)
				}
			}
			return client
		}
	}

	return &Manager{
		fs:            fs,
		logger:        logger,
		clientBuilder: builder,
	}
}

// Download fetches url into the file dest, replacing anything already there.
//
// onSizeKnown, if set, is called once with the declared Content-Length
// before any of the body is written, and only when the server declares one.
// Returning an error from it abandons the download with that error.
//
// onProgress, if set, receives the completed fraction in [0, 1]. Values
// never decrease and completion is always reported as exactly 1.
//
// On any failure dest is removed.
func (m *Manager) Download(ctx context.Context, url, dest string, onSizeKnown func(int64) error, onProgress func(float64)) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "Download bundle",
		tracing.SpanAttributes(tracing.BundleURL(url)),
	)
	defer func() {
		tracing.SetSpanError(span, err)
		span.End()
	}()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: invalid download request: %w", ErrDownloadFailed, err)
	}
	resp, err := m.clientBuilder(ctx).Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrDownloadInterrupted, ctxErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrDownloadFailed, req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	expected := resp.ContentLength
	if expected > 0 {
		span.SetAttributes(tracing.BundleSize(expected))
		if onSizeKnown != nil {
			if err := onSizeKnown(expected); err != nil {
				return err
			}
		}
	}

	if err := m.fs.MkdirAll(filepath.Dir(dest)); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	f, err := m.fs.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to open %s for download: %w", dest, err)
	}
	defer func() {
		if err != nil {
			if rmErr := m.fs.RemoveAll(dest); rmErr != nil {
				m.logger.Warn("failed to remove partial download", "path", dest, "error", rmErr)
			}
		}
	}()

	pw := &progressWriter{w: f, total: expected, report: onProgress}
	// go-getter's copy checks the context between chunks, so cancellation
	// takes effect mid-body.
	n, copyErr := getter.Copy(ctx, pw, resp.Body)
	closeErr := f.Close()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrDownloadInterrupted, ctxErr)
	}
	if expected > 0 && n != expected {
		return &IncompleteDownloadError{Expected: expected, Actual: n}
	}
	if copyErr != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to write %s: %w", dest, closeErr)
	}

	pw.finish()
	m.logger.Debug("bundle archive downloaded", "url", req.URL.Redacted(), "bytes", n)
	return nil
}
