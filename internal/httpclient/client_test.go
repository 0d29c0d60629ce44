// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_instrumentsOnlyTracedContexts(t *testing.T) {
	if _, ok := New(t.Context()).Transport.(*userAgentRoundTripper); !ok {
		t.Errorf("untraced context got an instrumented transport")
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })
	ctx, span := provider.Tracer("test").Start(t.Context(), "download")
	defer span.End()

	if _, ok := New(ctx).Transport.(*otelhttp.Transport); !ok {
		t.Errorf("traced context got transport %T; want *otelhttp.Transport", New(ctx).Transport)
	}
}
