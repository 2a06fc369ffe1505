package iso18013

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/mdoc"
)

// ErrSessionTerminated is returned by HandleResponse when the holder ended
// the session without sending a response.
var ErrSessionTerminated = errors.New("iso18013: session terminated by holder")

// AuthenticationOutcome is the tri-state result of issuer or device
// authentication. Unchecked means verification could not run, which is
// distinct from a signature that ran and failed.
type AuthenticationOutcome int

const (
	AuthUnchecked AuthenticationOutcome = iota
	AuthValid
	AuthInvalid
)

func (a AuthenticationOutcome) String() string {
	switch a {
	case AuthValid:
		return "Valid"
	case AuthInvalid:
		return "Invalid"
	}
	return "Unchecked"
}

// RequestedItems names what the reader wants, per doctype then namespace,
// with intent-to-retain per element.
type RequestedItems map[mdoc.DocType]mdoc.RequestNameSpaces

// SessionRequest is handed to the transport layer to open the exchange.
type SessionRequest struct {
	// Request is the encrypted SessionEstablishment CBOR.
	Request []byte
	// BLEIdent identifies the holder's BLE service.
	BLEIdent []byte
	// ServiceUUID is the BLE central-client service to connect on.
	ServiceUUID uuid.UUID
}

// ReaderSession drives one proximity exchange from the reader side.
type ReaderSession struct {
	crypto     *SessionCrypto
	transcript []byte
	roots      *x509.CertPool
}

// EstablishSession parses a scanned QR engagement, derives the session
// keys, and produces the encrypted device request.
func EstablishSession(qr string, items RequestedItems, roots *x509.CertPool) (*ReaderSession, *SessionRequest, error) {
	engagement, engagementBytes, err := ParseQRCodeURI(qr)
	if err != nil {
		return nil, nil, err
	}
	return establishSession(engagement, engagementBytes, nil, items, roots)
}

// EstablishSessionNFC is the NFC variant: the device engagement arrived in
// the negotiated handover, whose messages enter the session transcript.
func EstablishSessionNFC(deviceEngagementBytes []byte, handover *NFCHandover, items RequestedItems, roots *x509.CertPool) (*ReaderSession, *SessionRequest, error) {
	if handover == nil {
		return nil, nil, fmt.Errorf("NFC handover cannot be nil")
	}
	var engagement DeviceEngagement
	if err := cbor.Unmarshal(deviceEngagementBytes, &engagement); err != nil {
		return nil, nil, fmt.Errorf("failed to decode device engagement: %w", err)
	}
	return establishSession(&engagement, deviceEngagementBytes, handover, items, roots)
}

func establishSession(engagement *DeviceEngagement, engagementBytes []byte, handover interface{}, items RequestedItems, roots *x509.CertPool) (*ReaderSession, *SessionRequest, error) {
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("no items requested")
	}

	deviceKey, err := engagement.EDeviceKey()
	if err != nil {
		return nil, nil, err
	}
	serviceUUID, err := engagement.BLEServiceUUID()
	if err != nil {
		return nil, nil, err
	}
	bleIdent, err := BLEIdent(engagement.Security.EDeviceKeyBytes)
	if err != nil {
		return nil, nil, err
	}

	eReaderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate eReaderKey: %w", err)
	}
	coseKey, err := mdoc.NewCOSEKeyP256(&eReaderKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	eReaderKeyBytes, err := cbor.Marshal(coseKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode eReaderKey: %w", err)
	}

	transcript, err := DeviceSessionTranscript(engagementBytes, eReaderKeyBytes, handover)
	if err != nil {
		return nil, nil, err
	}
	crypto, err := NewSessionCrypto(RoleReader, eReaderKey, deviceKey, transcript)
	if err != nil {
		return nil, nil, err
	}

	var itemsRequests []mdoc.ItemsRequest
	for docType, namespaces := range items {
		itemsRequests = append(itemsRequests, mdoc.ItemsRequest{
			DocType:    docType,
			NameSpaces: namespaces,
		})
	}
	request, err := mdoc.NewDeviceRequest(itemsRequests...)
	if err != nil {
		return nil, nil, err
	}
	requestBytes, err := mdoc.EncodeDeviceRequest(request)
	if err != nil {
		return nil, nil, err
	}
	encrypted, err := crypto.Encrypt(requestBytes)
	if err != nil {
		return nil, nil, err
	}

	taggedKey, err := cbor.Marshal(cbor.Tag{Number: 24, Content: eReaderKeyBytes})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode eReaderKey: %w", err)
	}
	establishment, err := cbor.Marshal(SessionEstablishment{
		EReaderKey: taggedKey,
		Data:       encrypted,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode session establishment: %w", err)
	}

	session := &ReaderSession{
		crypto:     crypto,
		transcript: transcript,
		roots:      roots,
	}
	return session, &SessionRequest{
		Request:     establishment,
		BLEIdent:    bleIdent,
		ServiceUUID: serviceUUID,
	}, nil
}

// ReaderResponse is the outcome of one holder response.
type ReaderResponse struct {
	// VerifiedResponse is the display-ready claim tree, namespace then
	// element.
	VerifiedResponse     map[string]map[string]interface{}
	IssuerAuthentication AuthenticationOutcome
	DeviceAuthentication AuthenticationOutcome
	// Errors is the JSON-serialised per-element error map, empty when the
	// holder reported none.
	Errors string
}

// HandleResponse decrypts and verifies the holder's SessionData message.
func (r *ReaderSession) HandleResponse(data []byte) (*ReaderResponse, error) {
	var message SessionData
	if err := cbor.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("failed to parse session data: %w", err)
	}
	if len(message.Data) == 0 {
		if message.Status == StatusSessionTermination {
			return nil, ErrSessionTerminated
		}
		return nil, fmt.Errorf("session data carries no payload, status %d", message.Status)
	}

	plaintext, err := r.crypto.Decrypt(message.Data)
	if err != nil {
		return nil, err
	}
	response, err := mdoc.ParseDeviceResponse(plaintext)
	if err != nil {
		return nil, err
	}
	if len(response.Documents) == 0 {
		return nil, fmt.Errorf("device response contains no documents")
	}
	doc := response.Documents[0]

	out := &ReaderResponse{
		IssuerAuthentication: r.verifyIssuerAuth(&doc),
		DeviceAuthentication: r.verifyDeviceAuth(&doc),
	}

	if len(doc.Errors) > 0 {
		encoded, err := json.Marshal(doc.Errors)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document errors: %w", err)
		}
		out.Errors = string(encoded)
	}

	tree, err := mdoc.ElementsToJSON(&doc)
	if err != nil {
		return nil, err
	}
	out.VerifiedResponse = tree
	return out, nil
}

func (r *ReaderSession) verifyIssuerAuth(doc *mdoc.Document) AuthenticationOutcome {
	if r.roots == nil {
		return AuthUnchecked
	}
	verifier := mdoc.NewVerifier(r.roots, mdoc.SkipVerifyDeviceSigned())
	if err := verifier.Verify(doc, r.transcript); err != nil {
		return AuthInvalid
	}
	return AuthValid
}

func (r *ReaderSession) verifyDeviceAuth(doc *mdoc.Document) AuthenticationOutcome {
	if doc.DeviceSigned == nil {
		return AuthUnchecked
	}
	verifier := mdoc.NewVerifier(r.roots,
		mdoc.SkipVerifyIssuerAuth(),
		mdoc.SkipVerifyCertificate(),
		mdoc.SkipValidityCheck(),
	)
	if err := verifier.Verify(doc, r.transcript); err != nil {
		return AuthInvalid
	}
	return AuthValid
}
