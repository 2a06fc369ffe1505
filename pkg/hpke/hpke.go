// Package hpke wraps the RFC 9180 base-mode suite the W3C Digital
// Credentials API prescribes for response encryption: DHKEM(P-256,
// HKDF-SHA256), HKDF-SHA256, AES-128-GCM.
package hpke

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/cisco/go-hpke"
)

func suite() (hpke.CipherSuite, error) {
	return hpke.AssembleCipherSuite(hpke.DHKEM_P256, hpke.KDF_HKDF_SHA256, hpke.AEAD_AESGCM128)
}

// Seal encrypts plaintext to the recipient public key and returns the
// encapsulated key alongside the ciphertext.
func Seal(recipient *ecdh.PublicKey, info, aad, plaintext []byte) (enc, ciphertext []byte, err error) {
	s, err := suite()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assemble cipher suite: %w", err)
	}
	pkR, err := s.KEM.DeserializePublicKey(recipient.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize recipient key: %w", err)
	}
	enc, ctx, err := hpke.SetupBaseS(s, rand.Reader, pkR, info)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up sender context: %w", err)
	}
	return enc, ctx.Seal(aad, plaintext), nil
}

// Open decrypts a ciphertext produced by Seal with the recipient private key
// and the sender's encapsulated key.
func Open(priv *ecdh.PrivateKey, enc, info, aad, ciphertext []byte) ([]byte, error) {
	s, err := suite()
	if err != nil {
		return nil, fmt.Errorf("failed to assemble cipher suite: %w", err)
	}
	skR, err := s.KEM.DeserializePrivateKey(priv.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize private key: %w", err)
	}
	ctx, err := hpke.SetupBaseR(s, skR, enc, info)
	if err != nil {
		return nil, fmt.Errorf("failed to set up receiver context: %w", err)
	}
	plaintext, err := ctx.Open(aad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt ciphertext: %w", err)
	}
	return plaintext, nil
}
