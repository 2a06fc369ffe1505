// Package cose1 wraps COSE_Sign1 construction and verification around the
// injected keystore and crypto capabilities.
package cose1

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"

	"github.com/veraison/go-cose"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/ecsig"
)

// Outcome separates "signature did not match" from "could not run
// verification".
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeFailure:
		return "Failure"
	default:
		return "Error"
	}
}

// VerificationResult carries the tri-state outcome plus its cause.
type VerificationResult struct {
	Outcome Outcome
	Cause   error
}

func Success() VerificationResult {
	return VerificationResult{Outcome: OutcomeSuccess}
}

func Failure(cause error) VerificationResult {
	return VerificationResult{Outcome: OutcomeFailure, Cause: cause}
}

func Error(cause error) VerificationResult {
	return VerificationResult{Outcome: OutcomeError, Cause: cause}
}

// Crypto is the native capability for P-256 certificate signature checks.
// Implementations verify payload against the public key of the DER
// certificate, with a DER-encoded ECDSA signature.
type Crypto interface {
	P256Verify(certDER, payload, derSignature []byte) bool
}

// SoftwareCrypto implements Crypto in-process.
type SoftwareCrypto struct{}

func (SoftwareCrypto) P256Verify(certDER, payload, derSignature []byte) bool {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return false
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false
	}
	digest := sha256.Sum256(payload)
	return ecsig.Verify(pub, digest[:], derSignature)
}

// P256Verifier verifies COSE_Sign1 ES256 signatures through a Crypto
// capability. It satisfies go-cose's Verifier interface.
type P256Verifier struct {
	crypto  Crypto
	certDER []byte
}

func NewP256Verifier(crypto Crypto, certDER []byte) *P256Verifier {
	return &P256Verifier{crypto: crypto, certDER: certDER}
}

func (v *P256Verifier) Algorithm() cose.Algorithm { return cose.AlgorithmES256 }

func (v *P256Verifier) Verify(content, signature []byte) error {
	der, err := ecsig.EncodeDER(signature)
	if err != nil {
		return fmt.Errorf("failed to encode signature as DER: %w", err)
	}
	if !v.crypto.P256Verify(v.certDER, content, der) {
		return fmt.Errorf("ES256 signature mismatch")
	}
	return nil
}

// keystoreSigner adapts a keystore.Signer to go-cose's Signer. The signature
// returned by the keystore may be DER or raw; COSE wants raw.
type keystoreSigner struct {
	ctx    context.Context
	signer keystore.Signer
}

func (s keystoreSigner) Algorithm() cose.Algorithm {
	switch s.signer.Algorithm() {
	case keystore.AlgorithmES384:
		return cose.AlgorithmES384
	default:
		return cose.AlgorithmES256
	}
}

func (s keystoreSigner) Sign(_ io.Reader, content []byte) ([]byte, error) {
	sig, err := s.signer.Sign(s.ctx, content)
	if err != nil {
		return nil, err
	}
	raw, err := ecsig.EnsureRawFixedWidth(sig)
	if err != nil {
		return nil, fmt.Errorf("failed to normalise keystore signature: %w", err)
	}
	return raw, nil
}

// NewSigner adapts a keystore signer to go-cose's Signer interface. The
// context is captured because go-cose's Sign carries none.
func NewSigner(ctx context.Context, signer keystore.Signer) cose.Signer {
	return keystoreSigner{ctx: ctx, signer: signer}
}

// Build assembles a COSE_Sign1 over payload, signed by the keystore signer.
// When x5chain is non-empty the certificate chain lands in the unprotected
// header the way mdoc issuer/device auth expects.
func Build(ctx context.Context, signer keystore.Signer, payload []byte, x5chain [][]byte) (*cose.UntaggedSign1Message, error) {
	msg := &cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected:   cose.ProtectedHeader{},
			Unprotected: cose.UnprotectedHeader{},
		},
		Payload: payload,
	}
	adapter := keystoreSigner{ctx: ctx, signer: signer}
	msg.Headers.Protected.SetAlgorithm(adapter.Algorithm())

	switch len(x5chain) {
	case 0:
	case 1:
		msg.Headers.Unprotected[cose.HeaderLabelX5Chain] = x5chain[0]
	default:
		msg.Headers.Unprotected[cose.HeaderLabelX5Chain] = x5chain
	}

	if err := msg.Sign(rand.Reader, nil, adapter); err != nil {
		return nil, fmt.Errorf("failed to sign COSE_Sign1: %w", err)
	}
	return msg, nil
}

// Verify runs a COSE_Sign1 verification and maps the error space onto the
// tri-state outcome. detachedPayload substitutes the payload for detached
// signatures.
func Verify(msg *cose.UntaggedSign1Message, verifier cose.Verifier, externalAAD, detachedPayload []byte) VerificationResult {
	if msg == nil {
		return Error(fmt.Errorf("nil COSE_Sign1"))
	}
	if detachedPayload != nil {
		clone := *msg
		clone.Payload = detachedPayload
		msg = &clone
	}
	if msg.Payload == nil {
		return Error(fmt.Errorf("missing payload"))
	}
	if err := msg.Verify(externalAAD, verifier); err != nil {
		return Failure(err)
	}
	return Success()
}
