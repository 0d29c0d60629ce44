// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package integrity

import "errors"

var (
	// ErrSignatureVerificationFailed means the archive's signature did not
	// verify against the configured public key.
	ErrSignatureVerificationFailed = errors.New("bundle signature verification failed")

	// ErrHashMismatch means the archive's digest differs from the expected one.
	ErrHashMismatch = errors.New("bundle hash mismatch")

	// ErrPublicKeyNotConfigured means a signature was supplied but there is
	// no key to check it with.
	ErrPublicKeyNotConfigured = errors.New("public key not configured for signature verification")

	// ErrInvalidPublicKeyFormat means the configured public key could not be
	// parsed.
	ErrInvalidPublicKeyFormat = errors.New("invalid public key format")

	// ErrInvalidCredential means the credential string is malformed, or is
	// missing when one is required.
	ErrInvalidCredential = errors.New("invalid bundle credential")

	// ErrFileRead means the archive could not be read for verification.
	ErrFileRead = errors.New("failed to read bundle archive")
)
