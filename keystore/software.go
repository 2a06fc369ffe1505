package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
)

// P256Signer is a software ES256 signer. Production builds inject
// platform-backed signers; this one backs tests and the demo binaries.
// It deliberately emits DER-encoded signatures so downstream normalisation
// stays exercised.
type P256Signer struct {
	key *ecdsa.PrivateKey
}

func NewP256Signer() (*P256Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}
	return &P256Signer{key: key}, nil
}

func NewP256SignerFromKey(key *ecdsa.PrivateKey) *P256Signer {
	return &P256Signer{key: key}
}

func (s *P256Signer) Algorithm() Algorithm { return AlgorithmES256 }

func (s *P256Signer) PublicKey() *ecdsa.PublicKey { return &s.key.PublicKey }

func (s *P256Signer) PrivateKey() *ecdsa.PrivateKey { return s.key }

func (s *P256Signer) JWK() (string, error) {
	size := (s.key.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	s.key.X.FillBytes(x)
	s.key.Y.FillBytes(y)

	jwk := map[string]string{
		"kty": "EC",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(x),
		"y":   base64.RawURLEncoding.EncodeToString(y),
	}
	out, err := json.Marshal(jwk)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JWK: %w", err)
	}
	return string(out), nil
}

func (s *P256Signer) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	return ecdsa.SignASN1(rand.Reader, s.key, digest[:])
}

// MemoryKeystore maps aliases to signers in memory.
type MemoryKeystore struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{signers: make(map[string]Signer)}
}

func (k *MemoryKeystore) Register(alias string, signer Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[alias] = signer
}

func (k *MemoryKeystore) SigningKey(alias string) (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	signer, ok := k.signers[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}
	return signer, nil
}
