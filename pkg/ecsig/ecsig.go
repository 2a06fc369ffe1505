// Package ecsig normalises ECDSA signature encodings. Native keystores hand
// back either ASN.1 DER sequences or raw r||s pairs depending on the
// platform; everything downstream (COSE, JWS, data-integrity proofs) wants
// the raw fixed-width form.
package ecsig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/asn1"
	"fmt"
	"math/big"
)

type derSignature struct {
	R, S *big.Int
}

// EnsureRawFixedWidth accepts a P-256 ECDSA signature in either DER or raw
// r||s encoding and returns the 64-byte raw form. It returns an error when
// the input matches neither encoding.
func EnsureRawFixedWidth(sig []byte) ([]byte, error) {
	return EnsureRawFixedWidthForCurve(sig, elliptic.P256())
}

// EnsureRawFixedWidthForCurve is EnsureRawFixedWidth generalised over the
// curve, for signers on other NIST curves.
func EnsureRawFixedWidthForCurve(sig []byte, curve elliptic.Curve) ([]byte, error) {
	size := (curve.Params().BitSize + 7) / 8

	if len(sig) == 2*size {
		return sig, nil
	}

	var parsed derSignature
	rest, err := asn1.Unmarshal(sig, &parsed)
	if err != nil || len(rest) != 0 {
		return nil, fmt.Errorf("unrecognised signature encoding (len=%d)", len(sig))
	}
	if parsed.R.Sign() <= 0 || parsed.S.Sign() <= 0 {
		return nil, fmt.Errorf("invalid DER signature: non-positive component")
	}

	out := make([]byte, 2*size)
	parsed.R.FillBytes(out[:size])
	parsed.S.FillBytes(out[size:])
	return out, nil
}

// EncodeDER converts a raw r||s signature to ASN.1 DER. The X.509 paths want
// DER while everything else wants raw.
func EncodeDER(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid raw signature length: %d", len(raw))
	}
	half := len(raw) / 2
	return asn1.Marshal(derSignature{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	})
}

// Verify checks a signature in either encoding against the given public key
// and pre-hashed digest.
func Verify(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	raw, err := EnsureRawFixedWidthForCurve(sig, pub.Curve)
	if err != nil {
		return false
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])
	return ecdsa.Verify(pub, digest, r, s)
}
