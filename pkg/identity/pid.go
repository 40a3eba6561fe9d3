// Copyright 2025 Certen Protocol
//
// Participant identity derivation and signature verification.

package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeySize is the length in bytes of an Ed25519 public key.
const PublicKeySize = ed25519.PublicKeySize

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

var (
	// ErrInvalidPublicKey is returned when a public key is not 32 bytes.
	ErrInvalidPublicKey = errors.New("identity: public key must be 32 bytes")

	// ErrInvalidSignature is returned when a signature fails verification.
	ErrInvalidSignature = errors.New("identity: signature verification failed")

	// ErrInvalidSignatureSize is returned when a signature is not 64 bytes.
	ErrInvalidSignatureSize = errors.New("identity: signature must be 64 bytes")
)

// PID is a participant identifier: base58(sha256(public_key)).
type PID string

// DerivePID computes the canonical participant ID for an Ed25519 public key.
func DerivePID(publicKey []byte) (PID, error) {
	if len(publicKey) != PublicKeySize {
		return "", fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(publicKey))
	}
	sum := sha256.Sum256(publicKey)
	return PID(base58.Encode(sum[:])), nil
}

// VerifySignature checks that sig is a valid Ed25519 signature over
// message by the holder of publicKey.
func VerifySignature(publicKey, message, sig []byte) error {
	if len(publicKey) != PublicKeySize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(publicKey))
	}
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidSignatureSize, len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign is a convenience helper for tests and fixture generation; the hub
// itself never holds a participant's private key.
func Sign(privateKey, message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(privateKey), message)
}
