package mdoc

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/ecsig"
)

// ResponseVersion is the DeviceResponse version this package emits.
const ResponseVersion = "1.0"

// ElementSelection names the issuer-signed elements to return, per
// namespace. Requested elements missing from the credential are reported in
// the document's errors map rather than failing the response.
type ElementSelection map[NameSpace][]ElementIdentifier

// encoded protected header {1: -7}, ES256
var protectedHeaderES256 = []byte{0xa1, 0x01, 0x26}

// PreparedDocument is a response document awaiting its device signature.
// The signing payload is handed to the caller so the signature can come
// from a platform keystore that never releases the key.
type PreparedDocument struct {
	doc         Document
	signPayload []byte
}

// PrepareDocument assembles a holder Document that discloses only the
// selected issuer-signed items, and computes the COSE Sig_structure the
// device key must sign. Requested elements missing from the credential are
// recorded in the document's errors map.
func PrepareDocument(issuerSigned *IssuerSigned, docType DocType, selection ElementSelection, sessionTranscript []byte) (*PreparedDocument, error) {
	if issuerSigned == nil {
		return nil, fmt.Errorf("issuer signed is nil")
	}
	if len(sessionTranscript) == 0 {
		return nil, fmt.Errorf("session transcript is empty")
	}

	filtered := IssuerNameSpaces{}
	docErrors := Errors{}
	for ns, ids := range selection {
		items := issuerSigned.NameSpaces[ns]
		present := make(map[ElementIdentifier]IssuerSignedItemBytes, len(items))
		for _, ib := range items {
			item, err := ib.IssuerSignedItem()
			if err != nil {
				return nil, fmt.Errorf("failed to parse issuer signed item in %s: %w", ns, err)
			}
			present[item.ElementIdentifier] = ib
		}
		for _, id := range ids {
			if ib, ok := present[id]; ok {
				filtered[ns] = append(filtered[ns], ib)
				continue
			}
			if docErrors[ns] == nil {
				docErrors[ns] = ErrorItems{}
			}
			docErrors[ns][id] = ErrorCodeDataNotReturned
		}
	}

	// DeviceNameSpaces stays empty; all returned elements are issuer signed.
	// 0xa0 is the canonical encoding of the empty map.
	nsBytes := cbor.RawMessage{0xa0}

	authBytes, err := deviceAuthenticationBytes(docType, sessionTranscript, DeviceNameSpacesBytes(nsBytes))
	if err != nil {
		return nil, err
	}

	// Sig_structure for a Signature1 with no external AAD; the
	// DeviceAuthentication bytes are the detached payload.
	signPayload, err := cbor.Marshal([]interface{}{
		"Signature1",
		protectedHeaderES256,
		[]byte{},
		authBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature structure: %w", err)
	}

	doc := Document{
		DocType: docType,
		IssuerSigned: IssuerSigned{
			NameSpaces: filtered,
			IssuerAuth: issuerSigned.IssuerAuth,
		},
		DeviceSigned: &DeviceSigned{
			NameSpaces: DeviceNameSpacesBytes(nsBytes),
		},
	}
	if len(docErrors) > 0 {
		doc.Errors = docErrors
	}
	return &PreparedDocument{doc: doc, signPayload: signPayload}, nil
}

// SigningPayload returns the bytes the device key must sign.
func (p *PreparedDocument) SigningPayload() []byte {
	return p.signPayload
}

// Complete attaches the device signature, accepted in raw or DER form, and
// returns the finished document. The signature travels detached; the
// verifier reconstructs the DeviceAuthentication payload from the session
// transcript.
func (p *PreparedDocument) Complete(signature []byte) (*Document, error) {
	raw, err := ecsig.EnsureRawFixedWidth(signature)
	if err != nil {
		return nil, fmt.Errorf("failed to normalise device signature: %w", err)
	}
	msg := &UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
		},
		Signature: raw,
	}
	doc := p.doc
	doc.DeviceSigned.DeviceAuth = DeviceAuth{DeviceSignature: msg}
	return &doc, nil
}

// BuildDocument prepares and signs a response document in one step using an
// in-process signer.
func BuildDocument(ctx context.Context, issuerSigned *IssuerSigned, docType DocType, selection ElementSelection, signer keystore.Signer, sessionTranscript []byte) (*Document, error) {
	prepared, err := PrepareDocument(issuerSigned, docType, selection, sessionTranscript)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(ctx, prepared.SigningPayload())
	if err != nil {
		return nil, fmt.Errorf("failed to sign device authentication: %w", err)
	}
	return prepared.Complete(sig)
}

// NewDeviceResponse wraps documents in a success DeviceResponse.
func NewDeviceResponse(docs ...Document) *DeviceResponse {
	return &DeviceResponse{
		Version:   ResponseVersion,
		Documents: docs,
		Status:    0,
	}
}

// EncodeDeviceResponse CBOR-encodes the response for transport.
func EncodeDeviceResponse(resp *DeviceResponse) ([]byte, error) {
	data, err := cbor.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DeviceResponse: %w", err)
	}
	return data, nil
}
