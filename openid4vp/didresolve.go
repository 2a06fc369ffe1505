package openid4vp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// resolveDID extracts the P-256 verification key from a did:jwk or did:key
// identifier. Other methods would need a network resolver and are not
// supported.
func resolveDID(did string) (*ecdsa.PublicKey, error) {
	id, _, _ := strings.Cut(did, "#")
	switch {
	case strings.HasPrefix(id, "did:jwk:"):
		return resolveDIDJWK(strings.TrimPrefix(id, "did:jwk:"))
	case strings.HasPrefix(id, "did:key:"):
		return resolveDIDKey(strings.TrimPrefix(id, "did:key:"))
	default:
		return nil, fmt.Errorf("unsupported DID method in %q", id)
	}
}

func resolveDIDJWK(encoded string) (*ecdsa.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode did:jwk: %w", err)
	}
	var jwk struct {
		Kty string `json:"kty"`
		Crv string `json:"crv"`
		X   string `json:"x"`
		Y   string `json:"y"`
	}
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return nil, fmt.Errorf("failed to parse did:jwk: %w", err)
	}
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, fmt.Errorf("unsupported did:jwk key type %s/%s", jwk.Kty, jwk.Crv)
	}
	xb, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode did:jwk x: %w", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode did:jwk y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}, nil
}

// resolveDIDKey decodes a did:key with the P-256 multicodec (0x1200) over a
// compressed point.
func resolveDIDKey(encoded string) (*ecdsa.PublicKey, error) {
	if !strings.HasPrefix(encoded, "z") {
		return nil, fmt.Errorf("did:key is not base58btc multibase")
	}
	raw, err := decodeBase58(encoded[1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode did:key: %w", err)
	}
	// varint 0x1200 encodes as 0x80 0x24.
	if len(raw) < 2 || raw[0] != 0x80 || raw[1] != 0x24 {
		return nil, fmt.Errorf("did:key is not a P-256 key")
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw[2:])
	if x == nil {
		return nil, fmt.Errorf("did:key carries an invalid P-256 point")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func decodeBase58(s string) ([]byte, error) {
	n := new(big.Int)
	radix := big.NewInt(58)
	for i, r := range s {
		idx := strings.IndexRune(base58Alphabet, r)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q at %d", r, i)
		}
		n.Mul(n, radix)
		n.Add(n, big.NewInt(int64(idx)))
	}
	out := n.Bytes()
	for i := 0; i < len(s) && s[i] == '1'; i++ {
		out = append([]byte{0}, out...)
	}
	return out, nil
}
