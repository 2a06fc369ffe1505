// Package pki loads PEM-encoded keys and certificates. Trust anchors live
// outside the core; these helpers exist for the demo verifier and tests.
package pki

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

func LoadPrivateKey(dataPath string) (*ecdh.PrivateKey, error) {
	pemString, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemString)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}

	ecdsaPriv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	ecdhPriv, err := ecdsaPriv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert to ECDH private key: %w", err)
	}
	return ecdhPriv, nil
}

func LoadSigningKey(dataPath string) (*ecdsa.PrivateKey, error) {
	pemString, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemString)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

func LoadCertificate(dataPath string) (*x509.Certificate, error) {
	pemString, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemString)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode PEM block containing certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}

// GetRootCertificate builds a pool from every CERTIFICATE block in the file.
func GetRootCertificate(dataPath string) (*x509.CertPool, error) {
	pemString, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pemString) {
		return nil, fmt.Errorf("no certificates found in %s", dataPath)
	}
	return roots, nil
}
