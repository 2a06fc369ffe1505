// Package mdoctest issues software-signed mdoc credentials for tests and
// demos. It stands in for a real issuing authority: a self-signed IACA root,
// a document signer certificate under it, and IssuerSigned structures whose
// digests check out under the clause 9 inspection procedure.
package mdoctest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/mdoc"
	"github.com/spruceid/mobile-sdk-go/pkg/cose1"
)

// Issuer holds a generated IACA root and document signer key pair.
type Issuer struct {
	RootCert *x509.Certificate
	DSCert   *x509.Certificate
	DSKey    *ecdsa.PrivateKey
}

// NewIssuer generates a fresh IACA root and a document signer certificate
// valid for ten years.
func NewIssuer() (*Issuer, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test IACA Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	dsKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	dsTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Document Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	dsDER, err := x509.CreateCertificate(rand.Reader, dsTmpl, rootCert, &dsKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create DS certificate: %w", err)
	}
	dsCert, err := x509.ParseCertificate(dsDER)
	if err != nil {
		return nil, err
	}

	return &Issuer{RootCert: rootCert, DSCert: dsCert, DSKey: dsKey}, nil
}

// Roots returns a pool holding the IACA root.
func (i *Issuer) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(i.RootCert)
	return pool
}

// Issue signs an IssuerSigned structure over the given element values, bound
// to the holder's device key.
func (i *Issuer) Issue(docType mdoc.DocType, deviceKey *ecdsa.PublicKey, values map[mdoc.NameSpace]map[mdoc.ElementIdentifier]any) (*mdoc.IssuerSigned, error) {
	nameSpaces := mdoc.IssuerNameSpaces{}
	valueDigests := mdoc.ValueDigests{}

	var digestID mdoc.DigestID
	for ns, elements := range values {
		digests := mdoc.DigestIDs{}
		for id, value := range elements {
			random := make([]byte, 16)
			if _, err := rand.Read(random); err != nil {
				return nil, err
			}
			item := mdoc.IssuerSignedItem{
				DigestID:          digestID,
				Random:            random,
				ElementIdentifier: id,
				ElementValue:      value,
			}
			itemBytes, err := cbor.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal issuer signed item: %w", err)
			}
			tagged, err := cbor.Marshal(cbor.Tag{Number: 24, Content: itemBytes})
			if err != nil {
				return nil, err
			}
			digest := sha256.Sum256(tagged)
			digests[digestID] = digest[:]
			nameSpaces[ns] = append(nameSpaces[ns], mdoc.IssuerSignedItemBytes(itemBytes))
			digestID++
		}
		valueDigests[ns] = digests
	}

	coseKey, err := mdoc.NewCOSEKeyP256(deviceKey)
	if err != nil {
		return nil, err
	}

	mso := mdoc.MobileSecurityObject{
		Version:         "1.0",
		DigestAlgorithm: "SHA-256",
		ValueDigests:    valueDigests,
		DeviceKeyInfo:   mdoc.DeviceKeyInfo{DeviceKey: coseKey},
		DocType:         docType,
		ValidityInfo: mdoc.ValidityInfo{
			Signed:     time.Now(),
			ValidFrom:  time.Now().Add(-time.Hour),
			ValidUntil: time.Now().AddDate(1, 0, 0),
		},
	}
	msoBytes, err := cbor.Marshal(mso)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal MSO: %w", err)
	}
	payload, err := cbor.Marshal(cbor.Tag{Number: 24, Content: msoBytes})
	if err != nil {
		return nil, err
	}

	issuerAuth, err := cose1.Build(context.Background(), keystore.NewP256SignerFromKey(i.DSKey),
		payload, [][]byte{i.DSCert.Raw})
	if err != nil {
		return nil, fmt.Errorf("failed to sign issuer auth: %w", err)
	}

	return &mdoc.IssuerSigned{
		NameSpaces: nameSpaces,
		IssuerAuth: *issuerAuth,
	}, nil
}

// IssueMDL issues a small mDL with common elements, returning the credential
// and the holder signer bound into its MSO.
func (i *Issuer) IssueMDL() (*mdoc.IssuerSigned, *keystore.P256Signer, error) {
	holder, err := keystore.NewP256Signer()
	if err != nil {
		return nil, nil, err
	}
	is, err := i.Issue(mdoc.DocTypeMDL, holder.PublicKey(), map[mdoc.NameSpace]map[mdoc.ElementIdentifier]any{
		mdoc.NameSpaceMDL: {
			"family_name":     "Doe",
			"given_name":      "Jane",
			"birth_date":      "1990-01-01",
			"document_number": "0123456789",
			"age_over_21":     true,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return is, holder, nil
}
