// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"context"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentofu/hotbundle/internal/tracing"
	"github.com/opentofu/hotbundle/version"
)

// New returns the DefaultPooledClient from the cleanhttp
// package that will also send a hotbundle User-Agent string.
//
// If the given context has an active OpenTelemetry trace span associated with
// it then the returned client is also configured to collect traces for
// outgoing requests. Those traces will be children of the span associated
// with the context passed in each individual request, rather than of the
// span in the context passed to this function.
func New(ctx context.Context) *http.Client {
	cli := cleanhttp.DefaultPooledClient()
	cli.Transport = &userAgentRoundTripper{
		userAgent: UserAgent(version.Version),
		inner:     cli.Transport,
	}

	if span := tracing.SpanFromContext(ctx); span != nil && span.IsRecording() {
		// Only instrument when the caller is already being traced, since
		// otherwise every request would start a separate single-span trace.
		cli.Transport = otelhttp.NewTransport(cli.Transport)
	}

	return cli
}

// NewWithTimeout is like New but bounds the whole of each request,
// including reading the response body, to the given duration.
//
// A zero timeout means no limit, matching the behavior of http.Client.
func NewWithTimeout(ctx context.Context, timeout time.Duration) *http.Client {
	cli := New(ctx)
	cli.Timeout = timeout
	return cli
}

// NewRetryable wraps the result of [NewWithTimeout] in a retryablehttp
// client that retries certain transient errors up to retryCount times.
//
// The retryablehttp library logs through the given logger at debug level,
// so the output stays out of the way unless verbose logging is enabled.
func NewRetryable(ctx context.Context, retryCount int, timeout time.Duration, logger hclog.Logger) *retryablehttp.Client {
	baseClient := NewWithTimeout(ctx, timeout)

	retryableClient := retryablehttp.NewClient()
	retryableClient.HTTPClient = baseClient
	retryableClient.RetryMax = retryCount
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	retryableClient.Logger = logger.Named("http")
	retryableClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return retryableClient
}
