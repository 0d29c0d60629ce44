// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Mode is the kind of check a credential asks for.
type Mode int

const (
	ModeNone Mode = iota
	ModeSHA256
	ModeSHA512
	ModeSignature
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSHA256:
		return "sha256"
	case ModeSHA512:
		return "sha512"
	case ModeSignature:
		return "signature"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

const signaturePrefix = "sig:"

// Credential is a parsed integrity credential: either an expected digest of
// the archive or a detached signature over it.
type Credential struct {
	Mode      Mode
	Digest    []byte
	Signature []byte
}

// ParseCredential parses the credential string that accompanies an update.
//
// "sig:<base64>" carries a detached signature. A bare hex string of 64 or
// 128 characters is a SHA-256 or SHA-512 digest, in either letter case. An
// empty string means no credential was supplied.
func ParseCredential(s string) (Credential, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Credential{Mode: ModeNone}, nil
	}

	if rest, ok := strings.CutPrefix(s, signaturePrefix); ok {
		sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
		if err != nil {
			return Credential{}, fmt.Errorf("%w: signature is not valid base64: %w", ErrInvalidCredential, err)
		}
		if len(sig) == 0 {
			return Credential{}, fmt.Errorf("%w: empty signature", ErrInvalidCredential)
		}
		return Credential{Mode: ModeSignature, Signature: sig}, nil
	}

	var mode Mode
	switch len(s) {
	case sha256.Size * 2:
		mode = ModeSHA256
	case sha512.Size * 2:
		mode = ModeSHA512
	default:
		return Credential{}, fmt.Errorf("%w: %d-character digest is neither SHA-256 nor SHA-512", ErrInvalidCredential, len(s))
	}
	digest, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: digest is not hexadecimal", ErrInvalidCredential)
	}
	return Credential{Mode: mode, Digest: digest}, nil
}
