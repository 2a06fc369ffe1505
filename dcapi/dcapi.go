// Package dcapi bridges the W3C Digital Credentials API to the mdoc
// presentation engine. The browser hands the wallet an origin-bound device
// request plus the verifier's HPKE recipient key; the wallet answers with an
// HPKE-sealed DeviceResponse the browser forwards verbatim.
package dcapi

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/spruceid/mobile-sdk-go/iso18013"
	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/mdoc"
	"github.com/spruceid/mobile-sdk-go/pkg/hpke"
)

// dcapiIdentifier labels both the encryption info and the encrypted
// response structures.
const dcapiIdentifier = "dcapi"

// Request is the JSON payload a DC API invocation delivers. Both fields are
// base64url; the browser supplies the origin out of band.
type Request struct {
	DeviceRequest  string `json:"deviceRequest"`
	EncryptionInfo string `json:"encryptionInfo"`
}

// encryptionInfo is the CBOR structure the verifier encodes its recipient
// key into: ["dcapi", {nonce, recipientPublicKey}].
type encryptionInfo struct {
	_          struct{} `cbor:",toarray"`
	Identifier string
	Parameters encryptionParameters
}

type encryptionParameters struct {
	Nonce              []byte          `cbor:"nonce"`
	RecipientPublicKey cbor.RawMessage `cbor:"recipientPublicKey"`
}

// encryptedResponse is ["dcapi", {enc, cipherText}].
type encryptedResponse struct {
	_          struct{} `cbor:",toarray"`
	Identifier string
	Parameters encryptedResponseParameters
}

type encryptedResponseParameters struct {
	Enc        []byte `cbor:"enc"`
	CipherText []byte `cbor:"cipherText"`
}

// Response is the JSON payload handed back to the browser.
type Response struct {
	Response string `json:"response"`
}

// Session is a single DC API presentation exchange. It is single-use.
type Session struct {
	transcript   []byte
	itemsRequest *mdoc.ItemsRequest
	recipientKey *ecdsa.PublicKey
}

// NewSession parses a DC API request. origin is the calling web origin as
// reported by the browser; it is bound into the session transcript so the
// device signature cannot be replayed from another site.
func NewSession(requestJSON []byte, origin string) (*Session, error) {
	if origin == "" {
		return nil, fmt.Errorf("origin cannot be empty")
	}

	var req Request
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return nil, fmt.Errorf("failed to parse DC API request: %w", err)
	}
	if req.DeviceRequest == "" || req.EncryptionInfo == "" {
		return nil, fmt.Errorf("DC API request missing deviceRequest or encryptionInfo")
	}

	deviceRequestBytes, err := decodeB64(req.DeviceRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to decode deviceRequest: %w", err)
	}
	encryptionInfoBytes, err := decodeB64(req.EncryptionInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryptionInfo: %w", err)
	}

	var info encryptionInfo
	if err := cbor.Unmarshal(encryptionInfoBytes, &info); err != nil {
		return nil, fmt.Errorf("failed to parse encryptionInfo: %w", err)
	}
	if info.Identifier != dcapiIdentifier {
		return nil, fmt.Errorf("unexpected encryptionInfo identifier %q", info.Identifier)
	}
	var coseKey mdoc.COSEKey
	if err := cbor.Unmarshal(info.Parameters.RecipientPublicKey, &coseKey); err != nil {
		return nil, fmt.Errorf("failed to parse recipient key: %w", err)
	}
	recipientKey, err := coseKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipient key: %w", err)
	}

	deviceRequest, err := mdoc.ParseDeviceRequest(deviceRequestBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device request: %w", err)
	}
	if len(deviceRequest.DocRequests) == 0 {
		return nil, fmt.Errorf("device request carries no doc requests")
	}
	itemsRequest, err := deviceRequest.DocRequests[0].ItemsRequestBytes.ItemsRequest()
	if err != nil {
		return nil, err
	}

	transcript, err := iso18013.DCAPISessionTranscript(req.EncryptionInfo, origin)
	if err != nil {
		return nil, err
	}

	return &Session{
		transcript:   transcript,
		itemsRequest: itemsRequest,
		recipientKey: recipientKey,
	}, nil
}

// ItemsRequest returns the verifier's requested elements for consent UI.
func (s *Session) ItemsRequest() *mdoc.ItemsRequest { return s.itemsRequest }

// Respond builds the device response over the permitted elements, signs the
// device authentication with the holder key, and seals the result to the
// verifier. The session transcript is the AAD, binding the ciphertext to
// this exchange.
func (s *Session) Respond(ctx context.Context, issuerSigned *mdoc.IssuerSigned, signer keystore.Signer, permitted mdoc.ElementSelection) (*Response, error) {
	doc, err := mdoc.BuildDocument(ctx, issuerSigned, s.itemsRequest.DocType, permitted, signer, s.transcript)
	if err != nil {
		return nil, err
	}
	payload, err := mdoc.EncodeDeviceResponse(mdoc.NewDeviceResponse(*doc))
	if err != nil {
		return nil, err
	}

	recipient, err := ecdhPublicKey(s.recipientKey)
	if err != nil {
		return nil, err
	}
	enc, cipherText, err := hpke.Seal(recipient, nil, s.transcript, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt device response: %w", err)
	}

	encoded, err := cbor.Marshal(encryptedResponse{
		Identifier: dcapiIdentifier,
		Parameters: encryptedResponseParameters{Enc: enc, CipherText: cipherText},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode encrypted response: %w", err)
	}
	return &Response{Response: base64.RawURLEncoding.EncodeToString(encoded)}, nil
}

// BuildRequest assembles the verifier-side request JSON. nonce freshens the
// encryption info; the recipient key is the verifier's HPKE private key
// counterpart.
func BuildRequest(items mdoc.ItemsRequest, recipient *ecdsa.PublicKey, nonce []byte) ([]byte, error) {
	deviceRequest, err := mdoc.NewDeviceRequest(items)
	if err != nil {
		return nil, err
	}
	deviceRequestBytes, err := mdoc.EncodeDeviceRequest(deviceRequest)
	if err != nil {
		return nil, err
	}

	coseKey, err := mdoc.NewCOSEKeyP256(recipient)
	if err != nil {
		return nil, err
	}
	keyBytes, err := cbor.Marshal(coseKey)
	if err != nil {
		return nil, err
	}
	infoBytes, err := cbor.Marshal(encryptionInfo{
		Identifier: dcapiIdentifier,
		Parameters: encryptionParameters{Nonce: nonce, RecipientPublicKey: keyBytes},
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(Request{
		DeviceRequest:  base64.RawURLEncoding.EncodeToString(deviceRequestBytes),
		EncryptionInfo: base64.RawURLEncoding.EncodeToString(infoBytes),
	})
}

// DecryptResponse is the verifier-side counterpart of Respond: it unseals
// the response and returns the decoded DeviceResponse. encryptionInfoB64
// and origin must match what the wallet saw.
func DecryptResponse(responseJSON []byte, priv *ecdh.PrivateKey, encryptionInfoB64, origin string) (*mdoc.DeviceResponse, error) {
	var resp Response
	if err := json.Unmarshal(responseJSON, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse DC API response: %w", err)
	}
	raw, err := decodeB64(resp.Response)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var sealed encryptedResponse
	if err := cbor.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("failed to parse encrypted response: %w", err)
	}
	if sealed.Identifier != dcapiIdentifier {
		return nil, fmt.Errorf("unexpected response identifier %q", sealed.Identifier)
	}

	transcript, err := iso18013.DCAPISessionTranscript(encryptionInfoB64, origin)
	if err != nil {
		return nil, err
	}
	payload, err := hpke.Open(priv, sealed.Parameters.Enc, nil, transcript, sealed.Parameters.CipherText)
	if err != nil {
		return nil, err
	}
	return mdoc.ParseDeviceResponse(payload)
}

func ecdhPublicKey(pub *ecdsa.PublicKey) (*ecdh.PublicKey, error) {
	key, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert recipient key: %w", err)
	}
	return key, nil
}

func decodeB64(s string) ([]byte, error) {
	if raw, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
