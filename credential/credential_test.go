package credential_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spruceid/mobile-sdk-go/credential"
	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/internal/mdoctest"
	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/mdoc"
	"github.com/spruceid/mobile-sdk-go/pkg/cose1"
	"github.com/spruceid/mobile-sdk-go/pkg/jws"
	"github.com/spruceid/mobile-sdk-go/pkg/ldproof"
	"github.com/spruceid/mobile-sdk-go/storage"
)

func issueJwtVc(t *testing.T, signer keystore.Signer) string {
	t.Helper()
	claims := map[string]any{
		"iss": "did:example:issuer",
		"sub": "did:example:holder",
		"vc": map[string]any{
			"@context": []any{"https://www.w3.org/2018/credentials/v1"},
			"type":     []any{"VerifiableCredential", "IdentityCredential"},
			"credentialSubject": map[string]any{
				"given_name":  "Jane",
				"family_name": "Doe",
			},
		},
	}
	token, err := jws.SignCompact(context.Background(), signer, jws.Header(signer, "JWT"), claims)
	require.NoError(t, err)
	return token
}

func TestJwtVcParseAndMatch(t *testing.T) {
	signer, err := keystore.NewP256Signer()
	require.NoError(t, err)
	raw := issueJwtVc(t, signer)

	vc, err := credential.NewJwtVc(raw, "holder-key")
	require.NoError(t, err)

	assert.Equal(t, credential.FormatJwtVc, vc.Format())
	assert.Equal(t, "VerifiableCredential+IdentityCredential", vc.Type())
	assert.Equal(t, "holder-key", vc.KeyAlias())
	assert.Equal(t, raw, string(vc.Payload()))

	query := dcql.CredentialQuery{
		ID:     "identity",
		Format: "jwt_vc",
		Claims: []dcql.ClaimQuery{{Path: []interface{}{"given_name"}}},
	}
	assert.True(t, credential.SatisfiesDCQL(vc, query))

	fields := vc.RequestedFields(query)
	require.Len(t, fields, 1)
	assert.Equal(t, "Given Name", fields[0].DisplayName)
	assert.Equal(t, []any{"Jane"}, fields[0].RawFields)
}

func TestJwtVcRejectsMalformed(t *testing.T) {
	_, err := credential.NewJwtVc("not.a-jwt", "")
	assert.Error(t, err)

	_, err = credential.NewJwtVc("a.b.c", "")
	assert.Error(t, err)
}

func TestJwtVcVPTokenItem(t *testing.T) {
	issuerSigner, err := keystore.NewP256Signer()
	require.NoError(t, err)
	holderSigner, err := keystore.NewP256Signer()
	require.NoError(t, err)

	raw := issueJwtVc(t, issuerSigner)
	vc, err := credential.NewJwtVc(raw, "")
	require.NoError(t, err)

	item, err := vc.VPTokenItem(context.Background(), credential.PresentationOptions{
		ClientID: "https://verifier.example",
		Nonce:    "n-0S6_WzA2Mj",
		Signer:   holderSigner,
		Holder:   "did:example:holder",
	}, nil)
	require.NoError(t, err)

	parts := strings.Split(item, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, "https://verifier.example", claims["aud"])
	assert.Equal(t, "n-0S6_WzA2Mj", claims["nonce"])
	assert.Equal(t, "did:example:holder", claims["iss"])

	vp, ok := claims["vp"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{raw}, vp["verifiableCredential"])
}

const testContextURL = "https://example.com/contexts/identity/v1"

// testContextMap builds a small self-contained JSON-LD context so
// canonicalization never reaches for the network.
func testContextMap() map[string]any {
	terms := map[string]any{"@version": 1.1}
	for _, term := range []string{
		"VerifiableCredential", "IdentityCredential", "VerifiablePresentation",
		"DataIntegrityProof", "verifiableCredential", "credentialSubject",
		"holder", "issuer", "givenName", "proof", "cryptosuite", "created",
		"verificationMethod", "proofPurpose", "challenge", "domain",
		"proofValue",
	} {
		terms[term] = "https://example.com/vocab#" + term
	}
	return map[string]any{
		testContextURL: map[string]any{"@context": terms},
	}
}

func testJSONCredential() []byte {
	doc := map[string]any{
		"@context": []any{testContextURL},
		"type":     []any{"VerifiableCredential", "IdentityCredential"},
		"issuer":   "did:example:issuer",
		"credentialSubject": map[string]any{
			"givenName": "Jane",
		},
	}
	raw, _ := json.Marshal(doc)
	return raw
}

func TestJsonVcParse(t *testing.T) {
	vc, err := credential.NewJsonVc(testJSONCredential(), "")
	require.NoError(t, err)

	assert.Equal(t, credential.FormatLdpVc, vc.Format())
	assert.Equal(t, credential.FormatLdpVp, vc.PresentationFormat())
	assert.Equal(t, "VerifiableCredential+IdentityCredential", vc.Type())

	query := dcql.CredentialQuery{
		ID:     "identity",
		Format: "ldp_vc",
		Claims: []dcql.ClaimQuery{{Path: []interface{}{"credentialSubject", "givenName"}}},
	}
	assert.True(t, credential.SatisfiesDCQL(vc, query))
}

func TestJsonVcSchemaWarnings(t *testing.T) {
	schema := `{"type":"object","required":["issuer"],"properties":{"issuer":{"type":"string"}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(schema))
	}))
	defer srv.Close()

	withSchema := func(doc map[string]any) []byte {
		doc["credentialSchema"] = map[string]any{"id": srv.URL + "/schema.json", "type": "JsonSchema"}
		raw, err := json.Marshal(doc)
		require.NoError(t, err)
		return raw
	}

	valid := map[string]any{
		"@context": []any{testContextURL},
		"type":     []any{"VerifiableCredential"},
		"issuer":   "did:example:issuer",
	}
	vc, err := credential.NewJsonVc(withSchema(valid), "")
	require.NoError(t, err)
	assert.Empty(t, vc.SchemaWarnings())

	invalid := map[string]any{
		"@context": []any{testContextURL},
		"type":     []any{"VerifiableCredential"},
	}
	vc, err = credential.NewJsonVc(withSchema(invalid), "")
	require.NoError(t, err)
	assert.NotEmpty(t, vc.SchemaWarnings())
	assert.Contains(t, vc.SchemaWarnings()[0], "issuer")
}

func TestJsonVcRejectsNonJSONLD(t *testing.T) {
	_, err := credential.NewJsonVc([]byte(`{"type": ["VerifiableCredential"]}`), "")
	assert.ErrorContains(t, err, "@context")
}

func TestJsonVcVPTokenItem(t *testing.T) {
	vc, err := credential.NewJsonVc(testJSONCredential(), "")
	require.NoError(t, err)

	signer, err := keystore.NewP256Signer()
	require.NoError(t, err)

	item, err := vc.VPTokenItem(context.Background(), credential.PresentationOptions{
		ClientID:   "https://verifier.example",
		Nonce:      "n-0S6_WzA2Mj",
		Signer:     signer,
		Holder:     "did:example:holder",
		ContextMap: testContextMap(),
	}, nil)
	require.NoError(t, err)

	var vp map[string]any
	require.NoError(t, json.Unmarshal([]byte(item), &vp))
	assert.Equal(t, "did:example:holder", vp["holder"])

	proof, ok := vp["proof"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "DataIntegrityProof", proof["type"])
	assert.Equal(t, "ecdsa-rdfc-2019", proof["cryptosuite"])
	assert.Equal(t, "n-0S6_WzA2Mj", proof["challenge"])
	assert.Equal(t, "https://verifier.example", proof["domain"])

	require.NoError(t, ldproof.Verify(vp, signer.PublicKey(), testContextMap()))
}

func TestCwtCredentialReceiveOnly(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	require.NoError(t, err)

	payload, err := cbor.Marshal(map[int64]any{1: "https://issuer.example"})
	require.NoError(t, err)
	signer := keystore.NewP256SignerFromKey(issuer.DSKey)
	msg, err := cose1.Build(context.Background(), signer, payload, [][]byte{issuer.DSCert.Raw})
	require.NoError(t, err)
	raw, err := msg.MarshalCBOR()
	require.NoError(t, err)

	vc, err := credential.NewCwtCredential(raw)
	require.NoError(t, err)

	assert.Equal(t, credential.FormatCwt, vc.Format())
	assert.Equal(t, "", vc.KeyAlias())
	assert.Equal(t, "https://issuer.example", vc.Candidate().Claims["1"])
	assert.Equal(t, "https://issuer.example", vc.DisplayClaims()["iss"])

	_, err = vc.VPTokenItem(context.Background(), credential.PresentationOptions{}, nil)
	assert.ErrorIs(t, err, credential.ErrUnsupportedPresentation)
}

func TestMdocVPTokenItem(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	require.NoError(t, err)
	issuerSigned, deviceSigner, err := issuer.IssueMDL()
	require.NoError(t, err)

	vc, err := credential.NewMdocFromIssuerSigned(issuerSigned, "device")
	require.NoError(t, err)
	assert.Equal(t, "org.iso.18013.5.1.mDL", vc.Type())

	ks := keystore.NewMemoryKeystore()
	ks.Register("device", deviceSigner)

	item, err := vc.VPTokenItem(context.Background(), credential.PresentationOptions{
		ClientID:    "https://verifier.example",
		Nonce:       "n-0S6_WzA2Mj",
		ResponseURI: "https://verifier.example/response",
		Keystore:    ks,
	}, nil)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(item)
	require.NoError(t, err)
	response, err := mdoc.ParseDeviceResponse(raw)
	require.NoError(t, err)
	require.Len(t, response.Documents, 1)
	assert.Equal(t, mdoc.DocType("org.iso.18013.5.1.mDL"), response.Documents[0].DocType)
	assert.NotNil(t, response.Documents[0].DeviceSigned)
}

func TestVdcCollectionRoundTrip(t *testing.T) {
	signer, err := keystore.NewP256Signer()
	require.NoError(t, err)
	raw := issueJwtVc(t, signer)
	vc, err := credential.NewJwtVc(raw, "holder-key")
	require.NoError(t, err)

	ctx := context.Background()
	collection := credential.NewVdcCollection(storage.NewMemoryStore())

	require.NoError(t, collection.Add(ctx, vc))

	ids, err := collection.AllEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{vc.ID()}, ids)

	got, err := collection.Get(ctx, vc.ID())
	require.NoError(t, err)
	assert.Equal(t, vc.ID(), got.ID())
	assert.Equal(t, credential.FormatJwtVc, got.Format())
	assert.Equal(t, vc.Type(), got.Type())
	assert.Equal(t, vc.Payload(), got.Payload())
	assert.Equal(t, "holder-key", got.KeyAlias())

	require.NoError(t, collection.Delete(ctx, vc.ID()))
	_, err = collection.Get(ctx, vc.ID())
	assert.ErrorIs(t, err, credential.ErrCredentialNotFound)
}

func TestVdcCollectionAllSkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	collection := credential.NewVdcCollection(store)

	signer, err := keystore.NewP256Signer()
	require.NoError(t, err)
	vc, err := credential.NewJwtVc(issueJwtVc(t, signer), "")
	require.NoError(t, err)
	require.NoError(t, collection.Add(ctx, vc))
	require.NoError(t, store.Add(ctx, "Credential.bogus", []byte("not json")))

	creds, err := collection.All(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, vc.ID(), creds[0].ID())
}

func TestDisplayClaims(t *testing.T) {
	signer, err := keystore.NewP256Signer()
	require.NoError(t, err)
	jwtVC, err := credential.NewJwtVc(issueJwtVc(t, signer), "")
	require.NoError(t, err)
	subject, ok := jwtVC.DisplayClaims()["credentialSubject"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jane", subject["given_name"])

	issuer, err := mdoctest.NewIssuer()
	require.NoError(t, err)
	holder, err := keystore.NewP256Signer()
	require.NoError(t, err)
	portrait := []byte{0xff, 0xd8, 0xff, 0xe0}
	issuerSigned, err := issuer.Issue(mdoc.DocTypeMDL, holder.PublicKey(), map[mdoc.NameSpace]map[mdoc.ElementIdentifier]any{
		mdoc.NameSpaceMDL: {
			"given_name": "Jane",
			"portrait":   portrait,
		},
	})
	require.NoError(t, err)
	mdl, err := credential.NewMdocFromIssuerSigned(issuerSigned, "device")
	require.NoError(t, err)

	elements, ok := mdl.DisplayClaims()["org.iso.18013.5.1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jane", elements["given_name"])
	assert.Equal(t,
		"data:application/octet-stream;base64,"+base64.StdEncoding.EncodeToString(portrait),
		elements["portrait"])
}

func TestPathEncodingRoundTrip(t *testing.T) {
	path := []interface{}{"org.iso.18013.5.1", "given_name", 2, nil}
	encoded := credential.EncodePath(path)
	decoded, err := credential.DecodePath(encoded)
	require.NoError(t, err)
	assert.Equal(t, path, decoded)
}

func TestHumanizeIdentifier(t *testing.T) {
	cases := map[string]string{
		"given_name":   "Given Name",
		"proofOfAge":   "Proof Of Age",
		"proof_of_age": "Proof Of Age",
		"name":         "Name",
	}
	for in, want := range cases {
		assert.Equal(t, want, credential.HumanizeIdentifier(in), in)
	}
}
