package mdoc

import (
	"crypto/x509"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

const RequestVersion = "1.0"

// DeviceRequest is the reader's request structure, 18013-5 clause 8.3.2.1.2.1.
type DeviceRequest struct {
	Version     string       `json:"version"`
	DocRequests []DocRequest `json:"docRequests"`
}

func NewDeviceRequest(items ...ItemsRequest) (*DeviceRequest, error) {
	req := &DeviceRequest{Version: RequestVersion}
	for _, ir := range items {
		raw, err := cbor.Marshal(ir)
		if err != nil {
			return nil, fmt.Errorf("failed to encode items request: %w", err)
		}
		req.DocRequests = append(req.DocRequests, DocRequest{
			ItemsRequestBytes: ItemsRequestBytes(raw),
		})
	}
	return req, nil
}

func ParseDeviceRequest(data []byte) (*DeviceRequest, error) {
	var req DeviceRequest
	if err := cbor.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse device request: %w", err)
	}
	return &req, nil
}

func EncodeDeviceRequest(req *DeviceRequest) ([]byte, error) {
	data, err := cbor.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode device request: %w", err)
	}
	return data, nil
}

type DocRequest struct {
	ItemsRequestBytes ItemsRequestBytes     `json:"itemsRequest"`
	ReaderAuth        *UntaggedSign1Message `json:"readerAuth,omitempty"`
}

// ReaderCommonName extracts the subject common name from the reader
// authentication certificate, when the request carries one. Exposed so the
// holder UI can show who is asking.
func (d *DocRequest) ReaderCommonName() (string, bool) {
	if d.ReaderAuth == nil || d.ReaderAuth.Headers.Unprotected == nil {
		return "", false
	}
	rawX5Chain, ok := d.ReaderAuth.Headers.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		return "", false
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
		return "", false
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return "", false
	}
	return cert.Subject.CommonName, cert.Subject.CommonName != ""
}

type ItemsRequestBytes cbor.RawMessage

func (b ItemsRequestBytes) ItemsRequest() (*ItemsRequest, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty items request bytes")
	}
	var ir ItemsRequest
	if err := cbor.Unmarshal(b, &ir); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items request: %w", err)
	}
	return &ir, nil
}

// ItemsRequest names the elements a reader wants from one document.
type ItemsRequest struct {
	DocType    DocType           `json:"docType"`
	NameSpaces RequestNameSpaces `json:"nameSpaces"`
}

// RequestNameSpaces maps namespace to requested elements with their
// intent-to-retain flag.
type RequestNameSpaces map[NameSpace]RequestDataElements

type RequestDataElements map[ElementIdentifier]bool

// Selection flattens the request into the element sets BuildDocument
// consumes, ignoring intent-to-retain.
func (i ItemsRequest) Selection() ElementSelection {
	selection := make(ElementSelection, len(i.NameSpaces))
	for ns, elements := range i.NameSpaces {
		for id := range elements {
			selection[ns] = append(selection[ns], id)
		}
	}
	return selection
}
