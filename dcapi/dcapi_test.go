package dcapi_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spruceid/mobile-sdk-go/dcapi"
	"github.com/spruceid/mobile-sdk-go/internal/mdoctest"
	"github.com/spruceid/mobile-sdk-go/mdoc"
)

const testOrigin = "https://verifier.example"

func buildRequest(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	verifierKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	items := mdoc.ItemsRequest{
		DocType: mdoc.DocTypeMDL,
		NameSpaces: mdoc.RequestNameSpaces{
			mdoc.NameSpaceMDL: mdoc.RequestDataElements{
				"given_name":  false,
				"family_name": false,
			},
		},
	}
	nonce := make([]byte, 16)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	requestJSON, err := dcapi.BuildRequest(items, &verifierKey.PublicKey, nonce)
	require.NoError(t, err)
	return requestJSON, verifierKey
}

func TestDCAPIExchange(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	require.NoError(t, err)
	issuerSigned, deviceSigner, err := issuer.IssueMDL()
	require.NoError(t, err)

	requestJSON, verifierKey := buildRequest(t)

	session, err := dcapi.NewSession(requestJSON, testOrigin)
	require.NoError(t, err)
	require.Equal(t, mdoc.DocTypeMDL, session.ItemsRequest().DocType)

	permitted := mdoc.ElementSelection{
		mdoc.NameSpaceMDL: {"given_name", "family_name"},
	}
	response, err := session.Respond(context.Background(), issuerSigned, deviceSigner, permitted)
	require.NoError(t, err)

	responseJSON, err := json.Marshal(response)
	require.NoError(t, err)

	var req dcapi.Request
	require.NoError(t, json.Unmarshal(requestJSON, &req))
	ecdhPriv, err := verifierKey.ECDH()
	require.NoError(t, err)

	decrypted, err := dcapi.DecryptResponse(responseJSON, ecdhPriv, req.EncryptionInfo, testOrigin)
	require.NoError(t, err)
	require.Len(t, decrypted.Documents, 1)

	doc := decrypted.Documents[0]
	assert.Equal(t, mdoc.DocTypeMDL, doc.DocType)
	elements, err := mdoc.ElementsToJSON(&doc)
	require.NoError(t, err)
	assert.Equal(t, "Jane", elements["org.iso.18013.5.1"]["given_name"])
	assert.Equal(t, "Doe", elements["org.iso.18013.5.1"]["family_name"])
}

func TestDCAPIResponseBoundToOrigin(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	require.NoError(t, err)
	issuerSigned, deviceSigner, err := issuer.IssueMDL()
	require.NoError(t, err)

	requestJSON, verifierKey := buildRequest(t)
	session, err := dcapi.NewSession(requestJSON, testOrigin)
	require.NoError(t, err)

	response, err := session.Respond(context.Background(), issuerSigned, deviceSigner, mdoc.ElementSelection{
		mdoc.NameSpaceMDL: {"given_name"},
	})
	require.NoError(t, err)
	responseJSON, err := json.Marshal(response)
	require.NoError(t, err)

	var req dcapi.Request
	require.NoError(t, json.Unmarshal(requestJSON, &req))
	ecdhPriv, err := verifierKey.ECDH()
	require.NoError(t, err)

	_, err = dcapi.DecryptResponse(responseJSON, ecdhPriv, req.EncryptionInfo, "https://attacker.example")
	assert.Error(t, err)
}

func TestNewSessionValidation(t *testing.T) {
	requestJSON, _ := buildRequest(t)

	_, err := dcapi.NewSession(requestJSON, "")
	assert.ErrorContains(t, err, "origin")

	_, err = dcapi.NewSession([]byte(`{"deviceRequest": ""}`), testOrigin)
	assert.Error(t, err)

	_, err = dcapi.NewSession([]byte(`not json`), testOrigin)
	assert.Error(t, err)
}
