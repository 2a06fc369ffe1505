package iso18013_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/internal/mdoctest"
	"github.com/spruceid/mobile-sdk-go/iso18013"
	"github.com/spruceid/mobile-sdk-go/mdoc"
)

func TestOID4VPSessionTranscript(t *testing.T) {
	clientID := "x509_san_dns:verifier.example.com"
	nonce := "n-0S6_WzA2Mj"
	responseURI := "https://verifier.example.com/response"

	transcript, err := iso18013.OID4VPSessionTranscript(clientID, nonce, nil, responseURI)
	if err != nil {
		t.Fatalf("OID4VPSessionTranscript: %v", err)
	}

	var decoded []interface{}
	if err := cbor.Unmarshal(transcript, &decoded); err != nil {
		t.Fatalf("failed to decode transcript: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(decoded))
	}
	if decoded[0] != nil || decoded[1] != nil {
		t.Errorf("expected null engagement and reader key, got %v, %v", decoded[0], decoded[1])
	}

	handover, ok := decoded[2].([]interface{})
	if !ok || len(handover) != 2 {
		t.Fatalf("unexpected handover shape: %v", decoded[2])
	}
	if handover[0] != "OpenID4VPHandover" {
		t.Errorf("expected OpenID4VPHandover identifier, got %v", handover[0])
	}

	handoverInfo, err := cbor.Marshal([]interface{}{clientID, nonce, nil, responseURI})
	if err != nil {
		t.Fatal(err)
	}
	want := sha256.Sum256(handoverInfo)
	got, ok := handover[1].([]byte)
	if !ok || !reflect.DeepEqual(got, want[:]) {
		t.Errorf("handover hash mismatch")
	}
}

func TestOID4VPSessionTranscriptValidation(t *testing.T) {
	tests := []struct {
		name                         string
		clientID, nonce, responseURI string
	}{
		{"empty client id", "", "nonce", "https://example.com"},
		{"empty nonce", "client", "", "https://example.com"},
		{"empty response uri", "client", "nonce", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := iso18013.OID4VPSessionTranscript(tt.clientID, tt.nonce, nil, tt.responseURI); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDCAPISessionTranscript(t *testing.T) {
	encryptionInfo := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})
	origin := "https://verifier.example.com"

	transcript, err := iso18013.DCAPISessionTranscript(encryptionInfo, origin)
	if err != nil {
		t.Fatalf("DCAPISessionTranscript: %v", err)
	}

	var decoded []interface{}
	if err := cbor.Unmarshal(transcript, &decoded); err != nil {
		t.Fatalf("failed to decode transcript: %v", err)
	}
	handover, ok := decoded[2].([]interface{})
	if !ok || len(handover) != 2 {
		t.Fatalf("unexpected handover shape: %v", decoded[2])
	}
	if handover[0] != "dcapi" {
		t.Errorf("expected dcapi identifier, got %v", handover[0])
	}
	want := sha256.Sum256([]byte(encryptionInfo + origin))
	if got, ok := handover[1].([]byte); !ok || !reflect.DeepEqual(got, want[:]) {
		t.Errorf("handover hash mismatch")
	}
}

// RFC 7638 section 3.1 example key and thumbprint.
func TestJWKThumbprint(t *testing.T) {
	jwk := `{"kty":"RSA","n":"0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw","e":"AQAB","alg":"RS256","kid":"2011-04-29"}`

	thumbprint, err := iso18013.JWKThumbprint([]byte(jwk))
	if err != nil {
		t.Fatalf("JWKThumbprint: %v", err)
	}
	want := "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs"
	if got := base64.RawURLEncoding.EncodeToString(thumbprint); got != want {
		t.Errorf("thumbprint mismatch: got %s, want %s", got, want)
	}
}

func TestJWKThumbprintUnsupportedKeyType(t *testing.T) {
	if _, err := iso18013.JWKThumbprint([]byte(`{"kty":"XYZ"}`)); err == nil {
		t.Error("expected error for unsupported key type")
	}
}

func TestSessionCryptoRoundTrip(t *testing.T) {
	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	readerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	transcript, err := iso18013.OID4VPSessionTranscript("client", "nonce", nil, "https://example.com")
	if err != nil {
		t.Fatal(err)
	}

	device, err := iso18013.NewSessionCrypto(iso18013.RoleDevice, deviceKey, &readerKey.PublicKey, transcript)
	if err != nil {
		t.Fatalf("device session crypto: %v", err)
	}
	reader, err := iso18013.NewSessionCrypto(iso18013.RoleReader, readerKey, &deviceKey.PublicKey, transcript)
	if err != nil {
		t.Fatalf("reader session crypto: %v", err)
	}

	request := []byte("device request")
	sealed, err := reader.Encrypt(request)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := device.Decrypt(sealed)
	if err != nil {
		t.Fatalf("device decrypt: %v", err)
	}
	if string(opened) != string(request) {
		t.Errorf("decrypted request mismatch: %q", opened)
	}

	response := []byte("device response")
	sealed, err = device.Encrypt(response)
	if err != nil {
		t.Fatal(err)
	}
	opened, err = reader.Decrypt(sealed)
	if err != nil {
		t.Fatalf("reader decrypt: %v", err)
	}
	if string(opened) != string(response) {
		t.Errorf("decrypted response mismatch: %q", opened)
	}
}

func TestSessionCryptoRejectsWrongTranscript(t *testing.T) {
	deviceKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	readerKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	t1, _ := iso18013.OID4VPSessionTranscript("client", "nonce", nil, "https://example.com")
	t2, _ := iso18013.OID4VPSessionTranscript("client", "other-nonce", nil, "https://example.com")

	reader, err := iso18013.NewSessionCrypto(iso18013.RoleReader, readerKey, &deviceKey.PublicKey, t1)
	if err != nil {
		t.Fatal(err)
	}
	device, err := iso18013.NewSessionCrypto(iso18013.RoleDevice, deviceKey, &readerKey.PublicKey, t2)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := reader.Encrypt([]byte("request"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := device.Decrypt(sealed); err == nil {
		t.Error("expected decryption failure across mismatched transcripts")
	}
}

func TestQRCodeEngagementRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serviceUUID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	engagement, err := iso18013.NewBLEDeviceEngagement(&key.PublicKey, serviceUUID)
	if err != nil {
		t.Fatalf("NewBLEDeviceEngagement: %v", err)
	}
	encoded, err := engagement.Encode()
	if err != nil {
		t.Fatal(err)
	}

	parsed, raw, err := iso18013.ParseQRCodeURI(iso18013.QRCodeURI(encoded))
	if err != nil {
		t.Fatalf("ParseQRCodeURI: %v", err)
	}
	if !reflect.DeepEqual(raw, encoded) {
		t.Error("round-tripped engagement bytes differ")
	}

	gotUUID, err := parsed.BLEServiceUUID()
	if err != nil {
		t.Fatalf("BLEServiceUUID: %v", err)
	}
	if gotUUID != serviceUUID {
		t.Errorf("service UUID mismatch: got %s", gotUUID)
	}

	pub, err := parsed.EDeviceKey()
	if err != nil {
		t.Fatalf("EDeviceKey: %v", err)
	}
	if !pub.Equal(&key.PublicKey) {
		t.Error("eDeviceKey does not round trip")
	}
}

func TestParseQRCodeURIRejectsBadPrefix(t *testing.T) {
	if _, _, err := iso18013.ParseQRCodeURI("https://example.com"); err == nil {
		t.Error("expected error for missing mdoc: prefix")
	}
}

func TestHolderReaderExchange(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, deviceSigner, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}

	serviceUUID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	holder, engagement, err := iso18013.NewQRHolderSession(issuerSigned, mdoc.DocTypeMDL, serviceUUID)
	if err != nil {
		t.Fatalf("NewQRHolderSession: %v", err)
	}
	if holder.State() != iso18013.StateEngaged {
		t.Fatalf("expected Engaged state, got %s", holder.State())
	}
	if len(engagement.BLEIdent) != 16 {
		t.Errorf("unexpected BLE ident length %d", len(engagement.BLEIdent))
	}

	items := iso18013.RequestedItems{
		mdoc.DocTypeMDL: {
			mdoc.NameSpaceMDL: {
				"given_name":  true,
				"family_name": false,
			},
		},
	}
	reader, request, err := iso18013.EstablishSession(engagement.URI, items, issuer.Roots())
	if err != nil {
		t.Fatalf("EstablishSession: %v", err)
	}
	if request.ServiceUUID != serviceUUID {
		t.Errorf("service UUID mismatch: %s", request.ServiceUUID)
	}
	if !reflect.DeepEqual(request.BLEIdent, engagement.BLEIdent) {
		t.Error("reader and holder disagree on BLE ident")
	}

	itemsRequest, err := holder.HandleRequest(request.Request)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if itemsRequest.DocType != mdoc.DocTypeMDL {
		t.Errorf("unexpected doctype %s", itemsRequest.DocType)
	}
	if holder.State() != iso18013.StateInProcess {
		t.Fatalf("expected InProcess state, got %s", holder.State())
	}

	// Holder permits only given_name.
	permitted := mdoc.ElementSelection{
		mdoc.NameSpaceMDL: {"given_name"},
	}
	payload, err := holder.GenerateResponse(permitted)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	signature, err := deviceSigner.Sign(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	responseBytes, err := holder.SubmitResponse(signature)
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	if holder.State() != iso18013.StateTerminated {
		t.Fatalf("expected Terminated state, got %s", holder.State())
	}

	result, err := reader.HandleResponse(responseBytes)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if result.IssuerAuthentication != iso18013.AuthValid {
		t.Errorf("issuer authentication: got %s, want Valid", result.IssuerAuthentication)
	}
	if result.DeviceAuthentication != iso18013.AuthValid {
		t.Errorf("device authentication: got %s, want Valid", result.DeviceAuthentication)
	}
	if result.Errors != "" {
		t.Errorf("expected no errors, got %s", result.Errors)
	}

	elements := result.VerifiedResponse[string(mdoc.NameSpaceMDL)]
	if elements["given_name"] != "Jane" {
		t.Errorf("unexpected given_name: %v", elements["given_name"])
	}
	if _, present := elements["family_name"]; present {
		t.Error("family_name should not be revealed")
	}
}

func TestHolderSessionStateViolations(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, _, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}
	holder, _, err := iso18013.NewQRHolderSession(issuerSigned, mdoc.DocTypeMDL, uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	// No request handled yet.
	if _, err := holder.GenerateResponse(nil); err != iso18013.ErrInvalidSessionState {
		t.Errorf("GenerateResponse: got %v, want ErrInvalidSessionState", err)
	}
	if _, err := holder.SubmitResponse([]byte{1}); err != iso18013.ErrInvalidSessionState {
		t.Errorf("SubmitResponse: got %v, want ErrInvalidSessionState", err)
	}

	if _, err := holder.TerminateSession(); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if holder.State() != iso18013.StateTerminated {
		t.Fatalf("expected Terminated state, got %s", holder.State())
	}
	if _, err := holder.TerminateSession(); err != iso18013.ErrInvalidSessionState {
		t.Errorf("second TerminateSession: got %v, want ErrInvalidSessionState", err)
	}
}

func TestReaderHandlesTermination(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, _, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}
	holder, engagement, err := iso18013.NewQRHolderSession(issuerSigned, mdoc.DocTypeMDL, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	items := iso18013.RequestedItems{
		mdoc.DocTypeMDL: {mdoc.NameSpaceMDL: {"given_name": true}},
	}
	reader, request, err := iso18013.EstablishSession(engagement.URI, items, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := holder.HandleRequest(request.Request); err != nil {
		t.Fatal(err)
	}

	termination, err := holder.TerminateSession()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.HandleResponse(termination); err != iso18013.ErrSessionTerminated {
		t.Errorf("got %v, want ErrSessionTerminated", err)
	}
}
