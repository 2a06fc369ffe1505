// Package iso18013 implements the ISO/IEC 18013-5 proximity presentation
// flow (device engagement, session encryption, holder and reader state
// machines) and the 18013-7 session transcript bridge used by web
// presentations (OID4VP, browser DC API).
package iso18013

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

const oid4vpHandoverIdentifier = "OpenID4VPHandover"

// OID4VPSessionTranscript builds the 18013-7 Annex B session transcript for
// an OID4VP presentation.
//
//	HandoverInfo      = [clientId, nonce, jwkThumbprint / null, responseUri]
//	OID4VPHandover    = ["OpenID4VPHandover", sha256(HandoverInfo)]
//	SessionTranscript = [null, null, OID4VPHandover]
//
// jwkThumbprint is the RFC 7638 thumbprint of the verifier's response
// encryption key, or nil for an unencrypted response.
func OID4VPSessionTranscript(clientID, nonce string, jwkThumbprint []byte, responseURI string) ([]byte, error) {
	if clientID == "" {
		return nil, fmt.Errorf("clientID cannot be empty")
	}
	if nonce == "" {
		return nil, fmt.Errorf("nonce cannot be empty")
	}
	if responseURI == "" {
		return nil, fmt.Errorf("responseURI cannot be empty")
	}

	var thumbprint interface{}
	if len(jwkThumbprint) > 0 {
		thumbprint = jwkThumbprint
	}
	handoverInfo, err := cbor.Marshal([]interface{}{clientID, nonce, thumbprint, responseURI})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover info: %w", err)
	}
	infoHash := sha256.Sum256(handoverInfo)

	sessionTranscript := []interface{}{
		nil, // DeviceEngagementBytes
		nil, // EReaderKeyBytes
		[]interface{}{ // OID4VPHandover
			oid4vpHandoverIdentifier,
			infoHash[:],
		},
	}

	transcript, err := cbor.Marshal(sessionTranscript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	return transcript, nil
}

const dcapiHandoverIdentifier = "dcapi"

// DCAPISessionTranscript builds the session transcript for a browser
// Digital Credentials API invocation. The handover binds the verifier's
// base64-encoded EncryptionInfo and the calling web origin:
//
//	Handover          = ["dcapi", sha256(encryptionInfoB64 || origin)]
//	SessionTranscript = [null, null, Handover]
func DCAPISessionTranscript(encryptionInfoB64, origin string) ([]byte, error) {
	if encryptionInfoB64 == "" {
		return nil, fmt.Errorf("encryptionInfo cannot be empty")
	}
	if origin == "" {
		return nil, fmt.Errorf("origin cannot be empty")
	}

	infoHash := sha256.Sum256([]byte(encryptionInfoB64 + origin))

	sessionTranscript := []interface{}{
		nil, // DeviceEngagementBytes
		nil, // EReaderKeyBytes
		[]interface{}{ // DCAPIHandover
			dcapiHandoverIdentifier,
			infoHash[:],
		},
	}

	transcript, err := cbor.Marshal(sessionTranscript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	return transcript, nil
}

// DeviceSessionTranscript builds the 18013-5 clause 9.1.5.1 transcript for a
// proximity exchange. deviceEngagement and eReaderKey are the raw CBOR
// encodings exchanged during engagement; both are wrapped in tag 24 here.
// handover is nil for QR engagement, or the NFC handover pair.
func DeviceSessionTranscript(deviceEngagement, eReaderKey []byte, handover interface{}) ([]byte, error) {
	if len(deviceEngagement) == 0 {
		return nil, fmt.Errorf("deviceEngagement cannot be empty")
	}
	if len(eReaderKey) == 0 {
		return nil, fmt.Errorf("eReaderKey cannot be empty")
	}

	sessionTranscript := []interface{}{
		cbor.Tag{Number: 24, Content: deviceEngagement},
		cbor.Tag{Number: 24, Content: eReaderKey},
		handover,
	}

	transcript, err := cbor.Marshal(sessionTranscript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	return transcript, nil
}

// NFCHandover is the 18013-5 negotiated handover pair carried in the
// session transcript: the NDEF Handover Select message and, when the
// negotiation used one, the Handover Request message.
type NFCHandover struct {
	_         struct{} `cbor:",toarray"`
	HSMessage []byte
	HRMessage []byte
}

// JWKThumbprint computes the RFC 7638 SHA-256 thumbprint of a JWK given as
// JSON. Only the required members of the key type enter the hash, in
// lexicographic order with no whitespace.
func JWKThumbprint(jwkJSON []byte) ([]byte, error) {
	var jwk map[string]interface{}
	if err := json.Unmarshal(jwkJSON, &jwk); err != nil {
		return nil, fmt.Errorf("failed to parse JWK: %w", err)
	}
	kty, _ := jwk["kty"].(string)

	var members []string
	switch kty {
	case "EC":
		members = []string{"crv", "kty", "x", "y"}
	case "OKP":
		members = []string{"crv", "kty", "x"}
	case "RSA":
		members = []string{"e", "kty", "n"}
	case "oct":
		members = []string{"k", "kty"}
	default:
		return nil, fmt.Errorf("unsupported JWK key type %q", kty)
	}
	sort.Strings(members)

	buf := []byte{'{'}
	for i, name := range members {
		value, ok := jwk[name].(string)
		if !ok {
			return nil, fmt.Errorf("JWK member %q missing or not a string", name)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		nameJSON, _ := json.Marshal(name)
		valueJSON, _ := json.Marshal(value)
		buf = append(buf, nameJSON...)
		buf = append(buf, ':')
		buf = append(buf, valueJSON...)
	}
	buf = append(buf, '}')

	sum := sha256.Sum256(buf)
	return sum[:], nil
}

// JWKThumbprintB64 returns the thumbprint base64url-encoded without padding,
// the form used as a JWE "kid" header.
func JWKThumbprintB64(jwkJSON []byte) (string, error) {
	tp, err := JWKThumbprint(jwkJSON)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}
