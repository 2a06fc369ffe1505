package mdoc

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/veraison/go-cose"
)

type VerifierOption func(*Verifier)

// AllowSelfCert accepts document signer certificates that are not anchored
// in the trusted roots. Test rigs only.
func AllowSelfCert() VerifierOption {
	return func(v *Verifier) {
		v.allowSelfCert = true
	}
}

func WithSignCurrentTime(date time.Time) VerifierOption {
	return func(v *Verifier) {
		v.signCurrentTime = date
	}
}

func WithCertCurrentTime(date time.Time) VerifierOption {
	return func(v *Verifier) {
		v.certCurrentTime = date
	}
}

func SkipVerifyCertificate() VerifierOption {
	return func(v *Verifier) {
		v.skipVerifyCertificate = true
	}
}

func SkipVerifyDeviceSigned() VerifierOption {
	return func(v *Verifier) {
		v.skipVerifyDeviceSigned = true
	}
}

func SkipVerifyIssuerAuth() VerifierOption {
	return func(v *Verifier) {
		v.skipVerifyIssuerAuth = true
	}
}

func SkipValidityCheck() VerifierOption {
	return func(v *Verifier) {
		v.skipValidityCheck = true
	}
}

func SkipSignedDateValidation() VerifierOption {
	return func(v *Verifier) {
		v.skipSignedDateValidation = true
	}
}

// Verifier runs the ISO 18013-5 clause 9 inspection procedure over a single
// document.
type Verifier struct {
	roots                    *x509.CertPool
	allowSelfCert            bool
	skipVerifyDeviceSigned   bool
	skipVerifyCertificate    bool
	skipVerifyIssuerAuth     bool
	skipValidityCheck        bool
	skipSignedDateValidation bool
	signCurrentTime          time.Time
	certCurrentTime          time.Time
}

func NewVerifier(roots *x509.CertPool, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		roots:           roots,
		signCurrentTime: time.Now(),
		certCurrentTime: time.Now(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Verify(doc *Document, sessTrans []byte) error {
	mso, err := doc.IssuerSigned.MobileSecurityObject()
	if err != nil {
		return fmt.Errorf("failed to get MobileSecurityObject: %w", err)
	}

	// 9.1.3 mdoc authentication
	if err := v.verifyDeviceSigned(mso, doc, sessTrans); err != nil {
		return fmt.Errorf("failed to verify device signed: %w", err)
	}

	// 9.3.1 Inspection procedure for issuer data authentication
	// 1. Validate the certificate included in the MSO header.
	if err := v.verifyCertificate(doc.IssuerSigned); err != nil {
		return fmt.Errorf("failed to verify certificate: %w", err)
	}

	// 2. Verify the IssuerAuth signature with the document signing key.
	if err := v.verifyIssuerAuth(doc.IssuerSigned); err != nil {
		return fmt.Errorf("failed to verify issuer auth: %w", err)
	}

	// 3. Recompute the digest of every returned IssuerSignedItem and match
	//    it against the MSO.
	if err := verifyDigests(doc.IssuerSigned, mso); err != nil {
		return fmt.Errorf("failed to verify digests: %w", err)
	}

	// 4. The MSO doctype must match the document's.
	if doc.DocType != mso.DocType {
		return fmt.Errorf("docType mismatch: document=%s mso=%s", doc.DocType, mso.DocType)
	}

	// 5. Validate the ValidityInfo window.
	if err := v.validateValidityInfo(mso, doc); err != nil {
		return err
	}
	return nil
}

func (v *Verifier) verifyDeviceSigned(mso *MobileSecurityObject, doc *Document, sessionTranscript []byte) error {
	if v.skipVerifyDeviceSigned {
		return nil
	}
	if doc.DeviceSigned == nil || doc.DeviceSigned.DeviceAuth.DeviceSignature == nil {
		return fmt.Errorf("device signature not present")
	}

	deviceAuthenticationByte, err := doc.DeviceSigned.DeviceAuthenticationBytes(doc.DocType, sessionTranscript)
	if err != nil {
		return fmt.Errorf("failed to build DeviceAuthentication: %w", err)
	}

	alg, err := doc.DeviceSigned.Alg()
	if err != nil {
		return fmt.Errorf("failed to get alg: %w", err)
	}

	pubKey, err := mso.DeviceKey()
	if err != nil {
		return fmt.Errorf("failed to get device key: %w", err)
	}

	verifier, err := cose.NewVerifier(alg, pubKey)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	sig := *doc.DeviceSigned.DeviceAuth.DeviceSignature
	sig.Payload = deviceAuthenticationByte
	return sig.Verify(nil, verifier)
}

func verifyDigests(issuerSigned IssuerSigned, mso *MobileSecurityObject) error {
	for ns, itembytes := range issuerSigned.NameSpaces {
		digestIDs, ok := mso.ValueDigests[ns]
		if !ok {
			return fmt.Errorf("failed to get value digests of %s", ns)
		}

		for _, itemByte := range itembytes {
			item, err := itemByte.IssuerSignedItem()
			if err != nil {
				return fmt.Errorf("failed to get IssuerSignedItem: %w", err)
			}

			digest, ok := digestIDs[item.DigestID]
			if !ok {
				return fmt.Errorf("no digest for digestID %d in %s", item.DigestID, ns)
			}

			calc, err := item.Digest(mso.DigestAlgorithm)
			if err != nil {
				return err
			}

			if !bytes.Equal(digest, calc) {
				return fmt.Errorf("%w: digestID=%v", ErrDigestMismatch, item.DigestID)
			}
		}
	}
	return nil
}

func (v *Verifier) verifyIssuerAuth(issuerSigned IssuerSigned) error {
	if v.skipVerifyIssuerAuth {
		return nil
	}
	alg, err := issuerSigned.Alg()
	if err != nil {
		return fmt.Errorf("failed to get alg: %w", err)
	}

	documentSigningKey, err := issuerSigned.DocumentSigningKey()
	if err != nil {
		return fmt.Errorf("failed to get document signing key: %w", err)
	}

	verifier, err := cose.NewVerifier(alg, documentSigningKey)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	return issuerSigned.IssuerAuth.Verify(nil, verifier)
}

func (v *Verifier) verifyCertificate(issuerSigned IssuerSigned) error {
	if v.skipVerifyCertificate {
		return nil
	}

	certs, err := issuerSigned.DocumentSigningCertificateChain()
	if err != nil {
		return fmt.Errorf("failed to get certificate chain: %w", err)
	}

	roots := v.roots
	if v.allowSelfCert {
		if roots == nil {
			roots = x509.NewCertPool()
		}
		for _, cert := range certs {
			roots.AddCert(cert)
		}
	}

	opts := x509.VerifyOptions{
		Roots:       roots,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		CurrentTime: v.certCurrentTime,
	}
	for _, cert := range certs[1:] {
		if opts.Intermediates == nil {
			opts.Intermediates = x509.NewCertPool()
		}
		opts.Intermediates.AddCert(cert)
	}

	if _, err := certs[0].Verify(opts); err != nil {
		return fmt.Errorf("failed to verify certificate chain: %w", err)
	}
	return nil
}

func (v *Verifier) validateValidityInfo(mso *MobileSecurityObject, doc *Document) error {
	if v.skipValidityCheck {
		return nil
	}
	if !v.skipSignedDateValidation {
		certificate, err := doc.IssuerSigned.DocumentSigningCertificate()
		if err != nil {
			return fmt.Errorf("failed to get certificate: %w", err)
		}
		if mso.ValidityInfo.Signed.Before(certificate.NotBefore) || mso.ValidityInfo.Signed.After(certificate.NotAfter) {
			return fmt.Errorf("signed date outside certificate validity: signed=%v notBefore=%v notAfter=%v",
				mso.ValidityInfo.Signed, certificate.NotBefore, certificate.NotAfter)
		}
	}
	if v.signCurrentTime.Before(mso.ValidityInfo.ValidFrom) || v.signCurrentTime.After(mso.ValidityInfo.ValidUntil) {
		return fmt.Errorf("%w: validFrom=%v validUntil=%v", ErrExpired,
			mso.ValidityInfo.ValidFrom, mso.ValidityInfo.ValidUntil)
	}
	return nil
}
