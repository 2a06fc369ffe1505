package iso18013

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/mdoc"
)

var (
	ErrInvalidSessionState = errors.New("iso18013: operation not valid in current session state")
	ErrTooManyDocuments    = errors.New("iso18013: only one document may be signed per session")
)

// SessionState is the holder session's visible state.
type SessionState int

const (
	StateEngaged SessionState = iota
	StateInProcess
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateEngaged:
		return "Engaged"
	case StateInProcess:
		return "InProcess"
	case StateTerminated:
		return "Terminated"
	}
	return "Unknown"
}

// HolderSession drives one 18013-5 proximity presentation from the holder
// side. Transitions are one way: Engaged, InProcess once a request arrived,
// Terminated after the response is submitted or the session torn down.
// Operations are individually atomic; the zero value is not usable.
type HolderSession struct {
	mu    sync.Mutex
	state SessionState

	docType      mdoc.DocType
	issuerSigned *mdoc.IssuerSigned

	eDeviceKey      *ecdsa.PrivateKey
	engagementBytes []byte
	handover        interface{}

	crypto     *SessionCrypto
	transcript []byte

	itemsRequest *mdoc.ItemsRequest
	readerName   string
	prepared     *mdoc.PreparedDocument
}

// QREngagement holds everything the transport layer needs to present a QR
// engagement: the URI to render and the BLE Ident characteristic value the
// reader will probe for.
type QREngagement struct {
	URI      string
	BLEIdent []byte
}

// NewQRHolderSession engages via QR, advertising BLE central-client mode on
// the given service UUID.
func NewQRHolderSession(issuerSigned *mdoc.IssuerSigned, docType mdoc.DocType, serviceUUID uuid.UUID) (*HolderSession, *QREngagement, error) {
	session, engagement, err := newHolderSession(issuerSigned, docType, serviceUUID, nil)
	if err != nil {
		return nil, nil, err
	}
	ident, err := BLEIdent(engagement.Security.EDeviceKeyBytes)
	if err != nil {
		return nil, nil, err
	}
	return session, &QREngagement{
		URI:      QRCodeURI(session.engagementBytes),
		BLEIdent: ident,
	}, nil
}

// NewNFCHolderSession engages via a completed NFC negotiated handover. The
// handover messages enter the session transcript; the carrier UUID was
// agreed during negotiation.
func NewNFCHolderSession(issuerSigned *mdoc.IssuerSigned, docType mdoc.DocType, serviceUUID uuid.UUID, handover *NFCHandover) (*HolderSession, []byte, error) {
	if handover == nil {
		return nil, nil, fmt.Errorf("NFC handover cannot be nil")
	}
	session, engagement, err := newHolderSession(issuerSigned, docType, serviceUUID, handover)
	if err != nil {
		return nil, nil, err
	}
	ident, err := BLEIdent(engagement.Security.EDeviceKeyBytes)
	if err != nil {
		return nil, nil, err
	}
	return session, ident, nil
}

func newHolderSession(issuerSigned *mdoc.IssuerSigned, docType mdoc.DocType, serviceUUID uuid.UUID, handover interface{}) (*HolderSession, *DeviceEngagement, error) {
	if issuerSigned == nil {
		return nil, nil, fmt.Errorf("issuer signed cannot be nil")
	}
	eDeviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate eDeviceKey: %w", err)
	}
	engagement, err := NewBLEDeviceEngagement(&eDeviceKey.PublicKey, serviceUUID)
	if err != nil {
		return nil, nil, err
	}
	engagementBytes, err := engagement.Encode()
	if err != nil {
		return nil, nil, err
	}
	return &HolderSession{
		state:           StateEngaged,
		docType:         docType,
		issuerSigned:    issuerSigned,
		eDeviceKey:      eDeviceKey,
		engagementBytes: engagementBytes,
		handover:        handover,
	}, engagement, nil
}

// State reports the session's current state.
func (h *HolderSession) State() SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ReaderCommonName returns the reader certificate's subject common name
// when the request carried reader authentication.
func (h *HolderSession) ReaderCommonName() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readerName, h.readerName != ""
}

// HandleRequest processes the reader's SessionEstablishment: derives the
// session keys, decrypts the device request, and surfaces the requested
// items for user consent. The session moves to InProcess.
func (h *HolderSession) HandleRequest(data []byte) (*mdoc.ItemsRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateEngaged {
		return nil, ErrInvalidSessionState
	}

	var establishment SessionEstablishment
	if err := cbor.Unmarshal(data, &establishment); err != nil {
		return nil, fmt.Errorf("failed to parse session establishment: %w", err)
	}
	eReaderKeyBytes, err := establishment.EReaderKeyBytes()
	if err != nil {
		return nil, err
	}
	readerKey, err := establishment.EReaderPublicKey()
	if err != nil {
		return nil, err
	}

	transcript, err := DeviceSessionTranscript(h.engagementBytes, eReaderKeyBytes, h.handover)
	if err != nil {
		return nil, err
	}
	crypto, err := NewSessionCrypto(RoleDevice, h.eDeviceKey, readerKey, transcript)
	if err != nil {
		return nil, err
	}

	plaintext, err := crypto.Decrypt(establishment.Data)
	if err != nil {
		return nil, err
	}
	request, err := mdoc.ParseDeviceRequest(plaintext)
	if err != nil {
		return nil, err
	}
	if len(request.DocRequests) > 1 {
		return nil, ErrTooManyDocuments
	}
	if len(request.DocRequests) == 0 {
		return nil, fmt.Errorf("device request contains no doc requests")
	}

	docRequest := request.DocRequests[0]
	itemsRequest, err := docRequest.ItemsRequestBytes.ItemsRequest()
	if err != nil {
		return nil, err
	}
	if name, ok := docRequest.ReaderCommonName(); ok {
		h.readerName = name
	}

	h.transcript = transcript
	h.crypto = crypto
	h.itemsRequest = itemsRequest
	h.state = StateInProcess
	return itemsRequest, nil
}

// GenerateResponse prepares the response document revealing only the
// permitted items and returns the payload the device key must sign.
func (h *HolderSession) GenerateResponse(permitted mdoc.ElementSelection) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateInProcess {
		return nil, ErrInvalidSessionState
	}
	prepared, err := mdoc.PrepareDocument(h.issuerSigned, h.docType, permitted, h.transcript)
	if err != nil {
		return nil, err
	}
	h.prepared = prepared
	return prepared.SigningPayload(), nil
}

// SubmitResponse feeds back the device signature over the payload from
// GenerateResponse and returns the encrypted SessionData bytes to transmit.
// The session terminates.
func (h *HolderSession) SubmitResponse(signature []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateInProcess || h.prepared == nil {
		return nil, ErrInvalidSessionState
	}

	doc, err := h.prepared.Complete(signature)
	if err != nil {
		return nil, err
	}
	responseBytes, err := mdoc.EncodeDeviceResponse(mdoc.NewDeviceResponse(*doc))
	if err != nil {
		return nil, err
	}
	encrypted, err := h.crypto.Encrypt(responseBytes)
	if err != nil {
		return nil, err
	}
	message, err := cbor.Marshal(SessionData{Data: encrypted, Status: StatusSessionTermination})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session data: %w", err)
	}
	h.state = StateTerminated
	return message, nil
}

// TerminateSession emits the termination SessionData for the transport to
// send and ends the session without responding.
func (h *HolderSession) TerminateSession() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateTerminated {
		return nil, ErrInvalidSessionState
	}
	message, err := cbor.Marshal(SessionData{Status: StatusSessionTermination})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session data: %w", err)
	}
	h.state = StateTerminated
	return message, nil
}
