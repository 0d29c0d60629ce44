// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrDownloadFailed wraps transport-level failures: bad requests,
	// connection errors and retries exhausted.
	ErrDownloadFailed = errors.New("bundle download failed")

	// ErrDownloadInterrupted means the caller cancelled the download or its
	// deadline passed. The context's own error is wrapped alongside it.
	ErrDownloadInterrupted = errors.New("bundle download was interrupted")
)

// IncompleteDownloadError reports a body whose length differs from the
// Content-Length the server declared.
type IncompleteDownloadError struct {
	Expected int64
	Actual   int64
}

func (e *IncompleteDownloadError) Error() string {
	return fmt.Sprintf("incorrect response size: expected %d bytes, but got %d bytes", e.Expected, e.Actual)
}

// HTTPStatusError reports a response other than 200 OK.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unsuccessful request to %s: %s", e.URL, e.Status)
}

// Unwrap lets callers treat a bad status as a download failure with
// errors.Is(err, ErrDownloadFailed).
func (e *HTTPStatusError) Unwrap() error {
	return ErrDownloadFailed
}
