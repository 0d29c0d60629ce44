// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package integrity checks downloaded bundle archives against the credential
// that accompanied the update: either an expected digest of the archive or
// a detached signature over it.
package integrity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/opentofu/hotbundle/internal/bundlefs"
	"github.com/opentofu/hotbundle/internal/tracing"
)

// Options configures a [Verifier].
type Options struct {
	// PublicKey is the key used for signature credentials, in any of the
	// formats accepted by the package documentation. It may be empty if
	// only hash credentials are used.
	PublicKey string

	// RequireCredential rejects updates that carry no credential at all.
	// Without it such updates are installed unverified.
	RequireCredential bool

	Logger hclog.Logger
}

// Verifier checks archives on a bundle file system.
type Verifier struct {
	fs      *bundlefs.FS
	key     publicKey
	keyErr  error
	require bool
	logger  hclog.Logger
}

// NewVerifier returns a verifier for archives stored on fs.
//
// A malformed public key does not fail construction: hash credentials keep
// working and only signature checks report [ErrInvalidPublicKeyFormat].
func NewVerifier(fs *bundlefs.FS, opts Options) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ret := &Verifier{
		fs:      fs,
		require: opts.RequireCredential,
		logger:  logger,
	}
	if strings.TrimSpace(opts.PublicKey) != "" {
		ret.key, ret.keyErr = parsePublicKey(opts.PublicKey)
		if ret.keyErr != nil {
			logger.Warn("configured public key is unusable", "error", ret.keyErr)
		}
	}
	return ret
}

// Verify checks the archive at archivePath against credential.
func (v *Verifier) Verify(ctx context.Context, archivePath, credential string) (err error) {
	cred, err := ParseCredential(credential)
	if err != nil {
		return err
	}

	_, span := tracing.Tracer().Start(ctx, "Verify bundle",
		tracing.SpanAttributes(tracing.VerificationMode(cred.Mode.String())),
	)
	defer func() {
		tracing.SetSpanError(span, err)
		span.End()
	}()

	switch cred.Mode {
	case ModeNone:
		if v.require {
			return fmt.Errorf("%w: no credential supplied", ErrInvalidCredential)
		}
		v.logger.Warn("installing bundle without integrity verification", "path", archivePath)
		return nil
	case ModeSHA256:
		return v.verifyDigest(archivePath, sha256.New(), cred.Digest)
	case ModeSHA512:
		return v.verifyDigest(archivePath, sha512.New(), cred.Digest)
	case ModeSignature:
		return v.verifySignature(archivePath, cred.Signature)
	default:
		return fmt.Errorf("%w: unsupported mode %s", ErrInvalidCredential, cred.Mode)
	}
}

func (v *Verifier) verifyDigest(archivePath string, h hash.Hash, want []byte) error {
	f, err := v.fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	got := h.Sum(nil)
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: archive has %s, expected %s", ErrHashMismatch, hex.EncodeToString(got), hex.EncodeToString(want))
	}
	v.logger.Debug("bundle hash verified", "path", archivePath)
	return nil
}

func (v *Verifier) verifySignature(archivePath string, sig []byte) error {
	if v.keyErr != nil {
		return v.keyErr
	}
	if v.key == nil {
		return ErrPublicKeyNotConfigured
	}

	f, err := v.fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	defer f.Close()

	signer, err := v.key.verify(f, sig)
	if err != nil {
		return err
	}
	v.logger.Debug("bundle signature verified", "path", archivePath, "key", v.key.kind(), "signer", signer)
	return nil
}
