// Package cwt parses and verifies CBOR Web Tokens carried as COSE_Sign1
// messages, including the certificate chain checks the verifier pipeline
// runs before trusting a credential issuer.
package cwt

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/spruceid/mobile-sdk-go/pkg/cose1"
)

// RFC 8392 claim keys.
const (
	ClaimIssuer     int64 = 1
	ClaimSubject    int64 = 2
	ClaimAudience   int64 = 3
	ClaimExpiration int64 = 4
	ClaimNotBefore  int64 = 5
	ClaimIssuedAt   int64 = 6
	ClaimCWTID      int64 = 7

	// ClaimStatus carries the token status list reference.
	ClaimStatus int64 = 65535
)

// ErrCwtExpired is returned when the token's expiration lies in the past.
var ErrCwtExpired = errors.New("cwt: token expired")

// Cwt is a parsed CBOR Web Token.
type Cwt struct {
	message *cose.UntaggedSign1Message
	claims  map[int64]interface{}
	raw     []byte
}

// Parse decodes a COSE_Sign1 CWT, tagged or untagged.
func Parse(data []byte) (*Cwt, error) {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		var tagged cose.Sign1Message
		if err := tagged.UnmarshalCBOR(data); err != nil {
			return nil, fmt.Errorf("failed to parse COSE_Sign1: %w", err)
		}
		msg = cose.UntaggedSign1Message(tagged)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("CWT carries no payload")
	}

	var rawClaims map[interface{}]interface{}
	if err := cbor.Unmarshal(msg.Payload, &rawClaims); err != nil {
		return nil, fmt.Errorf("failed to parse CWT claims: %w", err)
	}
	claims := make(map[int64]interface{}, len(rawClaims))
	for k, v := range rawClaims {
		switch key := k.(type) {
		case int64:
			claims[key] = v
		case uint64:
			claims[int64(key)] = v
		}
	}

	return &Cwt{message: &msg, claims: claims, raw: data}, nil
}

// Raw returns the bytes Parse consumed.
func (c *Cwt) Raw() []byte { return c.raw }

// Claim looks up a claim by its integer key.
func (c *Cwt) Claim(key int64) (interface{}, bool) {
	v, ok := c.claims[key]
	return v, ok
}

// Issuer returns the iss claim.
func (c *Cwt) Issuer() (string, bool) {
	v, ok := c.claims[ClaimIssuer].(string)
	return v, ok
}

// Expiration returns the exp claim as a time.
func (c *Cwt) Expiration() (time.Time, bool) {
	switch v := c.claims[ClaimExpiration].(type) {
	case int64:
		return time.Unix(v, 0), true
	case uint64:
		return time.Unix(int64(v), 0), true
	case float64:
		return time.Unix(int64(v), 0), true
	case cbor.Tag:
		// Tag 1, epoch-based date/time.
		if n, ok := v.Content.(int64); ok {
			return time.Unix(n, 0), true
		}
		if n, ok := v.Content.(uint64); ok {
			return time.Unix(int64(n), 0), true
		}
	}
	return time.Time{}, false
}

// SignerCertificate extracts the signing certificate from the x5chain
// header.
func (c *Cwt) SignerCertificate() (*x509.Certificate, error) {
	headers := c.message.Headers
	rawX5Chain, ok := headers.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		rawX5Chain, ok = headers.Protected[cose.HeaderLabelX5Chain]
	}
	if !ok {
		return nil, fmt.Errorf("x5chain not present")
	}

	var certDER []byte
	switch v := rawX5Chain.(type) {
	case [][]byte:
		if len(v) > 0 {
			certDER = v[0]
		}
	case []interface{}:
		if len(v) > 0 {
			certDER, _ = v[0].([]byte)
		}
	case []byte:
		certDER = v
	}
	if len(certDER) == 0 {
		return nil, fmt.Errorf("empty x5chain")
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer certificate: %w", err)
	}
	return cert, nil
}

// Verifier checks CWTs against a trusted root certificate.
type Verifier struct {
	root   *x509.Certificate
	crypto cose1.Crypto
	now    func() time.Time
}

type VerifierOption func(*Verifier)

// WithCurrentTime fixes the verification clock.
func WithCurrentTime(now time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = func() time.Time { return now }
	}
}

// WithCrypto swaps the P-256 verification capability, so hosts can route it
// through platform crypto.
func WithCrypto(crypto cose1.Crypto) VerifierOption {
	return func(v *Verifier) {
		v.crypto = crypto
	}
}

func NewVerifier(root *x509.Certificate, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		root:   root,
		crypto: cose1.SoftwareCrypto{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the chain and signature checks, returning the tri-state
// outcome, then validates claims. An expired token yields ErrCwtExpired
// alongside a success outcome, so callers can distinguish a bad signature
// from a stale credential.
func (v *Verifier) Verify(c *Cwt) (cose1.VerificationResult, error) {
	signer, err := c.SignerCertificate()
	if err != nil {
		return cose1.Error(err), nil
	}

	now := v.now()
	if now.Before(signer.NotBefore) || now.After(signer.NotAfter) {
		return cose1.Failure(fmt.Errorf("signer certificate outside validity window")), nil
	}
	if now.Before(v.root.NotBefore) || now.After(v.root.NotAfter) {
		return cose1.Failure(fmt.Errorf("root certificate outside validity window")), nil
	}

	if v.root.KeyUsage&x509.KeyUsageCertSign == 0 {
		return cose1.Failure(fmt.Errorf("root certificate lacks keyCertSign")), nil
	}
	if signer.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return cose1.Failure(fmt.Errorf("signer certificate lacks digitalSignature")), nil
	}

	if v.root.Subject.String() != signer.Issuer.String() {
		return cose1.Failure(fmt.Errorf("signer issuer does not match root subject")), nil
	}

	if !v.crypto.P256Verify(v.root.Raw, signer.RawTBSCertificate, signer.Signature) {
		return cose1.Failure(fmt.Errorf("signer certificate signature invalid")), nil
	}

	verifier := cose1.NewP256Verifier(v.crypto, signer.Raw)
	result := cose1.Verify(c.message, verifier, nil, nil)
	if result.Outcome != cose1.OutcomeSuccess {
		return result, nil
	}

	if exp, ok := c.Expiration(); ok && !exp.After(now) {
		return result, ErrCwtExpired
	}
	return result, nil
}

// StatusReference locates the status list entry for this token, from the
// status claim's status_list map.
type StatusReference struct {
	URI   string
	Index int
}

func (c *Cwt) StatusReference() (*StatusReference, bool) {
	claim, ok := c.claims[ClaimStatus]
	if !ok {
		return nil, false
	}
	entry, ok := mapLookup(claim, "status_list")
	if !ok {
		return nil, false
	}
	uriVal, ok := mapLookup(entry, "uri")
	if !ok {
		return nil, false
	}
	uri, ok := uriVal.(string)
	if !ok {
		return nil, false
	}
	idxVal, ok := mapLookup(entry, "idx")
	if !ok {
		return nil, false
	}
	idx, ok := toInt(idxVal)
	if !ok {
		return nil, false
	}
	return &StatusReference{URI: uri, Index: idx}, true
}

func mapLookup(v interface{}, key string) (interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		out, ok := m[key]
		return out, ok
	case map[interface{}]interface{}:
		out, ok := m[key]
		return out, ok
	}
	return nil, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
