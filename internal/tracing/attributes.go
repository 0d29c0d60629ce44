// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package tracing

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	// Common attributes names used across the codebase

	BundleIDAttributeName       = "hotbundle.bundle.id"
	BundleURLAttributeName      = "hotbundle.bundle.url"
	BundleSizeAttributeName     = "hotbundle.bundle.size"
	VerificationAttributeName   = "hotbundle.verification.mode"
	IsolationKeyAttributeName   = "hotbundle.isolation_key"
	InstallOutcomeAttributeName = "hotbundle.install.outcome"
)

// BundleID returns an attribute indicating which bundle a span is about.
func BundleID(id string) attribute.KeyValue {
	return attribute.String(BundleIDAttributeName, id)
}

// BundleURL returns an attribute carrying the archive URL being fetched.
func BundleURL(url string) attribute.KeyValue {
	return attribute.String(BundleURLAttributeName, url)
}

// BundleSize returns an attribute carrying an archive's declared size in bytes.
func BundleSize(size int64) attribute.KeyValue {
	return attribute.Int64(BundleSizeAttributeName, size)
}

// VerificationMode returns an attribute naming how an archive was verified,
// such as "sha256", "signature" or "none".
func VerificationMode(mode string) attribute.KeyValue {
	return attribute.String(VerificationAttributeName, mode)
}

// InstallOutcome returns an attribute naming how an update request ended.
func InstallOutcome(outcome string) attribute.KeyValue {
	return attribute.String(InstallOutcomeAttributeName, outcome)
}
