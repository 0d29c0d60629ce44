// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	openpgpErrors "github.com/ProtonMail/go-crypto/openpgp/errors"
)

// publicKey checks a detached signature over a whole archive.
// verify returns a description of the signer for logging.
type publicKey interface {
	verify(archive io.Reader, sig []byte) (string, error)
	kind() string
}

// parsePublicKey accepts an ASCII-armored OpenPGP key ring, a PEM-encoded
// PKIX public key, or the base64 of a DER-encoded PKIX public key.
func parsePublicKey(s string) (publicKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-----BEGIN PGP PUBLIC KEY BLOCK-----") {
		keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(s))
		if err != nil {
			return nil, fmt.Errorf("%w: error decoding signing key: %w", ErrInvalidPublicKeyFormat, err)
		}
		return pgpKey{keyring}, nil
	}

	var der []byte
	if block, _ := pem.Decode([]byte(s)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: neither PEM, OpenPGP nor base64", ErrInvalidPublicKeyFormat)
		}
		der = decoded
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKeyFormat, err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return rsaKey{k}, nil
	case *ecdsa.PublicKey:
		return ecdsaKey{k}, nil
	case ed25519.PublicKey:
		return ed25519Key{k}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidPublicKeyFormat, pub)
	}
}

type pgpKey struct {
	keyring openpgp.EntityList
}

func (k pgpKey) kind() string { return "openpgp" }

func (k pgpKey) verify(archive io.Reader, sig []byte) (string, error) {
	check := openpgp.CheckDetachedSignature
	if bytes.HasPrefix(sig, []byte("-----BEGIN PGP SIGNATURE-----")) {
		check = openpgp.CheckArmoredDetachedSignature
	}
	entity, err := check(k.keyring, archive, bytes.NewReader(sig), nil)
	if err != nil {
		if errors.Is(err, openpgpErrors.ErrUnknownIssuer) {
			return "", fmt.Errorf("%w: signed by an unknown key", ErrSignatureVerificationFailed)
		}
		return "", fmt.Errorf("%w: %w", ErrSignatureVerificationFailed, err)
	}
	return entityString(entity), nil
}

// entityString extracts the key ID and identity name(s) from an
// openpgp.Entity for logging.
func entityString(entity *openpgp.Entity) string {
	if entity == nil {
		return ""
	}

	keyID := "n/a"
	if entity.PrimaryKey != nil {
		keyID = entity.PrimaryKey.KeyIdString()
	}

	var names []string
	for _, identity := range entity.Identities {
		names = append(names, identity.Name)
	}

	return fmt.Sprintf("%s %s", keyID, strings.Join(names, ", "))
}

type rsaKey struct {
	pub *rsa.PublicKey
}

func (k rsaKey) kind() string { return "rsa" }

func (k rsaKey) verify(archive io.Reader, sig []byte) (string, error) {
	digest, err := digestOf(archive, crypto.SHA256)
	if err != nil {
		return "", err
	}
	if err := rsa.VerifyPKCS1v15(k.pub, crypto.SHA256, digest, sig); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSignatureVerificationFailed, err)
	}
	return fmt.Sprintf("rsa-%d", k.pub.N.BitLen()), nil
}

type ecdsaKey struct {
	pub *ecdsa.PublicKey
}

func (k ecdsaKey) kind() string { return "ecdsa" }

func (k ecdsaKey) verify(archive io.Reader, sig []byte) (string, error) {
	digest, err := digestOf(archive, crypto.SHA256)
	if err != nil {
		return "", err
	}
	if !ecdsa.VerifyASN1(k.pub, digest, sig) {
		return "", ErrSignatureVerificationFailed
	}
	return "ecdsa-" + k.pub.Curve.Params().Name, nil
}

type ed25519Key struct {
	pub ed25519.PublicKey
}

func (k ed25519Key) kind() string { return "ed25519" }

func (k ed25519Key) verify(archive io.Reader, sig []byte) (string, error) {
	// Ed25519 signs the message itself rather than a digest of it.
	msg, err := io.ReadAll(archive)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	if !ed25519.Verify(k.pub, msg, sig) {
		return "", ErrSignatureVerificationFailed
	}
	return "ed25519", nil
}

func digestOf(r io.Reader, h crypto.Hash) ([]byte, error) {
	hasher := h.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	return hasher.Sum(nil), nil
}
