// Package keystore defines the signing capability the host application
// injects. Keys live in platform keystores (Secure Enclave, StrongBox, …);
// the core only ever sees opaque aliases and signature bytes.
package keystore

import (
	"context"
	"errors"
)

// Algorithm identifies a signing algorithm by its JOSE name.
type Algorithm string

const (
	AlgorithmES256  Algorithm = "ES256"
	AlgorithmES256K Algorithm = "ES256K"
	AlgorithmES384  Algorithm = "ES384"
)

var (
	// ErrKeyNotFound is returned when the alias resolves to nothing.
	ErrKeyNotFound = errors.New("keystore: key not found")
	// ErrUserAuthenticationRefused is returned when the platform prompted
	// the user for biometrics/PIN and the user declined.
	ErrUserAuthenticationRefused = errors.New("keystore: user authentication refused")
	// ErrHardwareUnavailable is returned when the secure hardware cannot be
	// reached.
	ErrHardwareUnavailable = errors.New("keystore: hardware unavailable")
)

// Signer produces signatures with a single key. Sign may suspend while the
// platform gathers user authentication, hence the context. Implementations
// may return DER- or raw-encoded ECDSA signatures; callers normalise via
// pkg/ecsig before handing a signature to anything format-sensitive.
type Signer interface {
	// JWK returns the public key as a JWK JSON string.
	JWK() (string, error)
	Algorithm() Algorithm
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Keystore resolves key aliases to signers.
type Keystore interface {
	SigningKey(alias string) (Signer, error)
}
