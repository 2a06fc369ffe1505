package vcb_test

import (
	"bytes"
	"compress/flate"
	"context"
	"math/big"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/ldproof"
	"github.com/spruceid/mobile-sdk-go/vcb"
)

const base45Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

func encodeBase45(b []byte) string {
	var out []byte
	for len(b) >= 2 {
		n := int(b[0])<<8 | int(b[1])
		out = append(out,
			base45Alphabet[n%45],
			base45Alphabet[n/45%45],
			base45Alphabet[n/45/45])
		b = b[2:]
	}
	if len(b) == 1 {
		n := int(b[0])
		out = append(out, base45Alphabet[n%45], base45Alphabet[n/45])
	}
	return string(out)
}

func encodeBase10(b []byte) string {
	withMarker := append([]byte{0x01}, b...)
	return new(big.Int).SetBytes(withMarker).String()
}

func deflateCompress(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(b)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func encodeQR(t *testing.T, doc interface{}) string {
	t.Helper()
	raw, err := cbor.Marshal(doc)
	require.NoError(t, err)
	return vcb.QRPrefix + encodeBase45(deflateCompress(t, raw))
}

func testTerms() vcb.TermMap {
	return vcb.TermMap{
		1: "@context",
		2: "type",
		3: "credentialSubject",
		4: "given_name",
	}
}

func compactDoc() map[interface{}]interface{} {
	return map[interface{}]interface{}{
		uint64(1): "https://www.w3.org/ns/credentials/v2",
		uint64(2): []interface{}{"VerifiableCredential"},
		uint64(3): map[interface{}]interface{}{
			uint64(4): "Jane",
		},
	}
}

func TestDecodeQR(t *testing.T) {
	payload := encodeQR(t, compactDoc())

	doc, err := vcb.DecodeQR(payload, testTerms())
	require.NoError(t, err)

	assert.Equal(t, "https://www.w3.org/ns/credentials/v2", doc["@context"])
	assert.Equal(t, []any{"VerifiableCredential"}, doc["type"])
	subject, ok := doc["credentialSubject"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jane", subject["given_name"])
}

func TestDecodeQRWithoutPrefix(t *testing.T) {
	payload := encodeQR(t, compactDoc())
	_, err := vcb.DecodeQR(payload[len(vcb.QRPrefix):], testTerms())
	assert.NoError(t, err)
}

func TestDecodePDF417(t *testing.T) {
	raw, err := cbor.Marshal(compactDoc())
	require.NoError(t, err)
	payload := encodeBase10(deflateCompress(t, raw))

	doc, err := vcb.DecodePDF417(payload, testTerms())
	require.NoError(t, err)
	assert.Equal(t, []any{"VerifiableCredential"}, doc["type"])
}

func TestDecodeQRUnknownTerm(t *testing.T) {
	doc := map[interface{}]interface{}{uint64(99): "mystery"}
	_, err := vcb.DecodeQR(encodeQR(t, doc), testTerms())
	assert.ErrorContains(t, err, "unknown CBOR-LD term id 99")
}

func TestDecodeQRRejectsGarbage(t *testing.T) {
	_, err := vcb.DecodeQR("VC1-", testTerms())
	assert.Error(t, err)

	// Length 3n+1 is impossible in base45.
	_, err = vcb.DecodeQR("VC1-ABCD", testTerms())
	assert.Error(t, err)

	_, err = vcb.DecodeQR("VC1-ab!", testTerms())
	assert.Error(t, err)
}

func TestDecodePDF417RejectsMissingMarker(t *testing.T) {
	// A bare decimal number without the 0x01 marker byte.
	_, err := vcb.DecodePDF417("255", testTerms())
	assert.Error(t, err)
}

func testContexts() map[string]any {
	terms := map[string]any{"@version": 1.1}
	for _, term := range []string{
		"VerifiableCredential", "credentialSubject", "given_name",
		"DataIntegrityProof", "proof", "cryptosuite", "created",
		"verificationMethod", "proofPurpose", "proofValue",
		"challenge", "domain", "authentication", "assertionMethod",
	} {
		terms[term] = "https://example.com/vocab#" + term
	}
	return map[string]any{
		"https://example.com/barcode/v1": map[string]any{"@context": terms},
	}
}

func TestVerifySignedBarcode(t *testing.T) {
	issuer, err := keystore.NewP256Signer()
	require.NoError(t, err)

	doc := map[string]any{
		"@context": []any{"https://example.com/barcode/v1"},
		"type":     []any{"VerifiableCredential"},
		"credentialSubject": map[string]any{
			"given_name": "Jane",
		},
	}
	contexts := testContexts()
	signed, err := ldproof.Sign(context.Background(), issuer, doc, ldproof.Options{
		Suite:              ldproof.SuiteEcdsaRdfc2019,
		VerificationMethod: "did:example:issuer#key-1",
		ProofPurpose:       "assertionMethod",
		Contexts:           contexts,
	})
	require.NoError(t, err)

	payload := encodeQR(t, signed)
	decoded, err := vcb.DecodeQR(payload, testTerms())
	require.NoError(t, err)

	require.NoError(t, vcb.Verify(decoded, issuer.PublicKey(), contexts))

	// Tampering with the subject breaks the proof.
	subject := decoded["credentialSubject"].(map[string]any)
	subject["given_name"] = "John"
	assert.Error(t, vcb.Verify(decoded, issuer.PublicKey(), contexts))
}
