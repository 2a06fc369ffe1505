// Package mdoc implements the ISO/IEC 18013-5 mobile document data model:
// parsing issued credentials, building holder DeviceResponses with selective
// disclosure, and verifying responses on the reader side.
package mdoc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/spruceid/mobile-sdk-go/pkg/hash"
)

type DocType string

type NameSpace string

type ElementIdentifier string

type ElementValue interface{}

// DocTypeMDL is the document type for mobile driving licences.
const DocTypeMDL DocType = "org.iso.18013.5.1.mDL"

// NameSpaceMDL is the primary mDL data element namespace.
const NameSpaceMDL NameSpace = "org.iso.18013.5.1"

// DeviceResponse is the top-level structure returned by the holder device.
type DeviceResponse struct {
	Version        string          `json:"version"`
	Documents      []Document      `json:"documents,omitempty"`
	DocumentErrors []DocumentError `json:"documentErrors,omitempty"`
	Status         uint            `json:"status"`
}

// ParseDeviceResponse decodes a CBOR-encoded DeviceResponse.
func ParseDeviceResponse(data []byte) (*DeviceResponse, error) {
	var resp DeviceResponse
	if err := cbor.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DeviceResponse: %w", err)
	}
	return &resp, nil
}

// ParseDeviceResponseB64 decodes a base64url DeviceResponse, the encoding
// used by the W3C Digital Credentials API.
func ParseDeviceResponseB64(encoded string) (*DeviceResponse, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode DeviceResponse base64: %w", err)
		}
	}
	return ParseDeviceResponse(data)
}

func (d DeviceResponse) GetDocument(docType DocType) (*Document, error) {
	for _, doc := range d.Documents {
		if doc.DocType == docType {
			return &doc, nil
		}
	}
	return nil, fmt.Errorf("%w: doctype=%s", ErrDocumentNotFound, docType)
}

type Document struct {
	DocType      DocType       `json:"docType"`
	IssuerSigned IssuerSigned  `json:"issuerSigned"`
	DeviceSigned *DeviceSigned `json:"deviceSigned,omitempty"`
	Errors       Errors        `json:"errors,omitempty"`
}

func (d *Document) GetElementValue(namespace NameSpace, elementIdentifier ElementIdentifier) (ElementValue, error) {
	if d.DocType == "" {
		return nil, fmt.Errorf("invalid document type")
	}
	if d.IssuerSigned.NameSpaces == nil {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}

	itemBytes, exists := d.IssuerSigned.NameSpaces[namespace]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}

	for _, ib := range itemBytes {
		item, err := ib.IssuerSignedItem()
		if err != nil {
			return nil, fmt.Errorf("failed to get issuer signed item: %w", err)
		}
		if item.ElementIdentifier == elementIdentifier {
			if tag, ok := item.ElementValue.(cbor.Tag); ok {
				return tag.Content, nil
			}
			return item.ElementValue, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in namespace %s", ErrElementNotFound, elementIdentifier, namespace)
}

// IssuerSigned carries the issuer-signed data elements and the MSO. An issued
// mdoc credential is exactly this structure paired with the holder key alias.
type IssuerSigned struct {
	NameSpaces IssuerNameSpaces          `json:"nameSpaces,omitempty"`
	IssuerAuth cose.UntaggedSign1Message `json:"issuerAuth"`
}

// ParseIssuerSigned decodes a CBOR-encoded IssuerSigned structure.
func ParseIssuerSigned(data []byte) (*IssuerSigned, error) {
	var is IssuerSigned
	if err := cbor.Unmarshal(data, &is); err != nil {
		return nil, fmt.Errorf("failed to unmarshal IssuerSigned: %w", err)
	}
	return &is, nil
}

func (i *IssuerSigned) GetNameSpaces() []NameSpace {
	nss := []NameSpace{}
	for ns := range i.NameSpaces {
		nss = append(nss, ns)
	}
	return nss
}

func (i *IssuerSigned) GetIssuerSignedItems(ns NameSpace) ([]IssuerSignedItem, error) {
	if len(i.NameSpaces[ns]) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}
	isis := make([]IssuerSignedItem, 0, len(i.NameSpaces[ns]))
	for _, b := range i.NameSpaces[ns] {
		isi, err := b.IssuerSignedItem()
		if err != nil {
			return nil, fmt.Errorf("failed to parse issuerSignedItem: %w", err)
		}
		isis = append(isis, *isi)
	}
	return isis, nil
}

func (i *IssuerSigned) Alg() (cose.Algorithm, error) {
	if i.IssuerAuth.Headers.Protected == nil {
		return 0, fmt.Errorf("protected header is nil")
	}
	return i.IssuerAuth.Headers.Protected.Algorithm()
}

func (i *IssuerSigned) DocumentSigningKey() (*ecdsa.PublicKey, error) {
	certificate, err := i.DocumentSigningCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to get signing certificate: %w", err)
	}

	documentSigningKey, ok := certificate.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type: %T, expected *ecdsa.PublicKey", certificate.PublicKey)
	}
	return documentSigningKey, nil
}

func (i *IssuerSigned) DocumentSigningCertificate() (*x509.Certificate, error) {
	certificates, err := i.DocumentSigningCertificateChain()
	if err != nil {
		return nil, err
	}
	if len(certificates) == 0 {
		return nil, fmt.Errorf("no certificates in x5chain")
	}
	return certificates[0], nil
}

func (i *IssuerSigned) DocumentSigningCertificateChain() ([]*x509.Certificate, error) {
	if i.IssuerAuth.Headers.Unprotected == nil {
		return nil, fmt.Errorf("missing unprotected headers")
	}

	rawX5Chain, ok := i.IssuerAuth.Headers.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		return nil, fmt.Errorf("x5chain not found in unprotected headers")
	}

	var rawX5ChainBytes [][]byte
	switch v := rawX5Chain.(type) {
	case [][]byte:
		rawX5ChainBytes = v
	case []interface{}:
		for _, e := range v {
			b, ok := e.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected x5chain entry type: %T", e)
			}
			rawX5ChainBytes = append(rawX5ChainBytes, b)
		}
	case []byte:
		rawX5ChainBytes = [][]byte{v}
	default:
		return nil, fmt.Errorf("unexpected x5chain type: %T", rawX5Chain)
	}

	if len(rawX5ChainBytes) == 0 {
		return nil, fmt.Errorf("empty x5chain")
	}

	certs := make([]*x509.Certificate, 0, len(rawX5ChainBytes))
	for _, certData := range rawX5ChainBytes {
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			return nil, fmt.Errorf("error parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	return certs, nil
}

func (i *IssuerSigned) MobileSecurityObject() (*MobileSecurityObject, error) {
	if i.IssuerAuth.Payload == nil {
		return nil, fmt.Errorf("missing payload")
	}

	var taggedData cbor.Tag
	err := cbor.Unmarshal(i.IssuerAuth.Payload, &taggedData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal tagged data: %w", err)
	}

	content, ok := taggedData.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected content type: %T", taggedData.Content)
	}

	var mso MobileSecurityObject
	if err := cbor.Unmarshal(content, &mso); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MSO: %w", err)
	}

	return &mso, nil
}

type IssuerNameSpaces map[NameSpace][]IssuerSignedItemBytes

type IssuerSignedItemBytes cbor.RawMessage

func (i IssuerSignedItemBytes) IssuerSignedItem() (*IssuerSignedItem, error) {
	if len(i) == 0 {
		return nil, fmt.Errorf("empty issuer signed item bytes")
	}
	var item IssuerSignedItem
	if err := cbor.Unmarshal(i, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal issuer signed item: %w", err)
	}
	item.rawBytes = i
	return &item, nil
}

type IssuerSignedItem struct {
	DigestID          DigestID          `json:"digestID"`
	Random            []byte            `json:"random"`
	ElementIdentifier ElementIdentifier `json:"elementIdentifier"`
	ElementValue      ElementValue      `json:"elementValue"`
	rawBytes          IssuerSignedItemBytes
}

// Digest computes the Tag 24 wrapped digest that the MSO records for this
// item. The item must have been obtained from IssuerSignedItemBytes so the
// digest covers the issuer's exact encoding.
func (i *IssuerSignedItem) Digest(alg string) ([]byte, error) {
	if i == nil || len(i.rawBytes) == 0 {
		return nil, fmt.Errorf("issuer signed item bytes is nil")
	}

	// Tag 24 over the issuer's exact item encoding as a byte string.
	v, err := cbor.Marshal(cbor.Tag{
		Number:  24,
		Content: []byte(i.rawBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tagged CBOR: %w", err)
	}

	return hash.Digest(v, alg)
}

type MobileSecurityObject struct {
	Version         string        `json:"version"`
	DigestAlgorithm string        `json:"digestAlgorithm"`
	ValueDigests    ValueDigests  `json:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo `json:"deviceKeyInfo"`
	DocType         DocType       `json:"docType"`
	ValidityInfo    ValidityInfo  `json:"validityInfo"`
}

func (m *MobileSecurityObject) DeviceKey() (*ecdsa.PublicKey, error) {
	if m == nil || m.DeviceKeyInfo.DeviceKey == nil {
		return nil, fmt.Errorf("device key not available")
	}
	return parseECDSA(m.DeviceKeyInfo.DeviceKey)
}

func (m *MobileSecurityObject) GetDigest(ns NameSpace, digestID DigestID) (Digest, error) {
	digests, ok := m.ValueDigests[ns]
	if !ok {
		return nil, fmt.Errorf("value digests not found: %s", ns)
	}
	digest, ok := digests[digestID]
	if !ok {
		return nil, fmt.Errorf("digest not found: %s, %d", ns, digestID)
	}
	return digest, nil
}

func (m *MobileSecurityObject) KeyAuthorizations() (*KeyAuthorizations, error) {
	if m == nil || m.DeviceKeyInfo.KeyAuthorizations == nil {
		return nil, fmt.Errorf("device key authorizations not available")
	}
	return m.DeviceKeyInfo.KeyAuthorizations, nil
}

type DeviceKeyInfo struct {
	DeviceKey         *COSEKey           `json:"deviceKey"`
	KeyAuthorizations *KeyAuthorizations `json:"keyAuthorizations,omitempty"`
	KeyInfo           *KeyInfo           `json:"keyInfo,omitempty"`
}

type COSEKey struct {
	Kty       int             `cbor:"1,keyasint,omitempty"`
	Kid       []byte          `cbor:"2,keyasint,omitempty"`
	Alg       int             `cbor:"3,keyasint,omitempty"`
	KeyOpts   int             `cbor:"4,keyasint,omitempty"`
	IV        []byte          `cbor:"5,keyasint,omitempty"`
	CrvOrNOrK cbor.RawMessage `cbor:"-1,keyasint,omitempty"` // K for symmetric keys, Crv for elliptic curve keys, N for RSA modulus
	XOrE      cbor.RawMessage `cbor:"-2,keyasint,omitempty"` // X for curve x-coordinate, E for RSA public exponent
	Y         cbor.RawMessage `cbor:"-3,keyasint,omitempty"` // Y for curve y-coordinate
	D         []byte          `cbor:"-4,keyasint,omitempty"`
}

// NewCOSEKeyP256 builds an EC2 COSE_Key from a P-256 public key.
func NewCOSEKeyP256(pub *ecdsa.PublicKey) (*COSEKey, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("expected P-256 public key")
	}
	crv, err := cbor.Marshal(P256)
	if err != nil {
		return nil, err
	}
	xb := make([]byte, 32)
	yb := make([]byte, 32)
	pub.X.FillBytes(xb)
	pub.Y.FillBytes(yb)
	x, err := cbor.Marshal(xb)
	if err != nil {
		return nil, err
	}
	y, err := cbor.Marshal(yb)
	if err != nil {
		return nil, err
	}
	// kty 2 = EC2, RFC 8152 Table 21
	return &COSEKey{Kty: 2, CrvOrNOrK: crv, XOrE: x, Y: y}, nil
}

// PublicKey decodes the COSE_Key into an ECDSA public key.
func (k *COSEKey) PublicKey() (*ecdsa.PublicKey, error) {
	return parseECDSA(k)
}

type KeyAuthorizations struct {
	NameSpaces   []NameSpace                       `cbor:"nameSpaces,omitempty"`
	DataElements map[NameSpace][]ElementIdentifier `cbor:"dataElements,omitempty"`
}

type KeyInfo map[int]interface{}

type ValueDigests map[NameSpace]DigestIDs

type DigestIDs map[DigestID]Digest

type ValidityInfo struct {
	Signed         time.Time `json:"signed"`
	ValidFrom      time.Time `json:"validFrom"`
	ValidUntil     time.Time `json:"validUntil"`
	ExpectedUpdate time.Time `json:"expectedUpdate,omitempty"`
}

type DigestID uint32

type Digest []byte

type DeviceSigned struct {
	NameSpaces DeviceNameSpacesBytes `json:"nameSpaces"`
	DeviceAuth DeviceAuth            `json:"deviceAuth"`
}

type DeviceNameSpacesBytes cbor.RawMessage

type DeviceNameSpaces map[NameSpace]DeviceSignedItems

type DeviceSignedItems map[ElementIdentifier]ElementValue

func (d *DeviceSigned) Alg() (cose.Algorithm, error) {
	if d == nil || d.DeviceAuth.DeviceSignature == nil {
		return 0, fmt.Errorf("device signature not available")
	}
	if d.DeviceAuth.DeviceSignature.Headers.Protected == nil {
		return 0, fmt.Errorf("protected headers not available")
	}
	return d.DeviceAuth.DeviceSignature.Headers.Protected.Algorithm()
}

// DeviceAuthenticationBytes builds the Tag 24 wrapped DeviceAuthentication
// structure the device signature covers.
func (d *DeviceSigned) DeviceAuthenticationBytes(docType DocType, sessionTranscript []byte) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("device signed is nil")
	}
	return deviceAuthenticationBytes(docType, sessionTranscript, d.NameSpaces)
}

func deviceAuthenticationBytes(docType DocType, sessionTranscript []byte, nameSpaces DeviceNameSpacesBytes) ([]byte, error) {
	if len(sessionTranscript) == 0 {
		return nil, fmt.Errorf("session transcript is empty")
	}

	deviceAuthentication := []interface{}{
		"DeviceAuthentication",
		cbor.RawMessage(sessionTranscript),
		docType,
		cbor.Tag{Number: 24, Content: []byte(nameSpaces)},
	}

	da, err := cbor.Marshal(deviceAuthentication)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device authentication: %w", err)
	}

	deviceAuthenticationByte, err := cbor.Marshal(cbor.Tag{Number: 24, Content: da})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tagged device authentication: %w", err)
	}
	return deviceAuthenticationByte, nil
}

func (d *DeviceSigned) DeviceNameSpaces() (DeviceNameSpaces, error) {
	if d.NameSpaces == nil {
		return nil, fmt.Errorf("device name spaces bytes is nil")
	}

	var nameSpaces DeviceNameSpaces
	if err := cbor.Unmarshal(d.NameSpaces, &nameSpaces); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device name spaces: %w", err)
	}

	return nameSpaces, nil
}

type DeviceAuth struct {
	DeviceSignature *UntaggedSign1Message `json:"deviceSignature,omitempty"`
	DeviceMac       *UntaggedSign1Message `json:"deviceMac,omitempty"`
}

type DocumentError map[DocType]ErrorCode

type Errors map[NameSpace]ErrorItems

type ErrorItems map[ElementIdentifier]ErrorCode

type ErrorCode int

// ErrorCodeDataNotReturned signals a requested element the holder declined
// or could not return, ISO 18013-5 Table 9.
const ErrorCodeDataNotReturned ErrorCode = 0

// RFC 8152 Table 22 curve identifiers.
const (
	P256          = 1
	P384          = 2
	P521          = 3
	BrainpoolP256 = 8
	BrainpoolP384 = 9
	BrainpoolP512 = 10
)

func parseECDSA(coseKey *COSEKey) (*ecdsa.PublicKey, error) {
	if coseKey == nil {
		return nil, fmt.Errorf("cose key is nil")
	}

	var crv int
	if err := cbor.Unmarshal(coseKey.CrvOrNOrK, &crv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal curve: %w", err)
	}

	var xBytes []byte
	if err := cbor.Unmarshal(coseKey.XOrE, &xBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal X coordinate: %w", err)
	}

	var yBytes []byte
	if err := cbor.Unmarshal(coseKey.Y, &yBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Y coordinate: %w", err)
	}

	if len(xBytes) == 0 || len(yBytes) == 0 {
		return nil, fmt.Errorf("invalid coordinates")
	}

	var curve elliptic.Curve
	switch crv {
	case P256:
		curve = elliptic.P256()
	case P384:
		curve = elliptic.P384()
	case P521:
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %d", crv)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// UntaggedSign1Message tolerates the malformed deviceSignature some wallet
// simulators emit: unmarshal failures yield an empty message instead of
// failing the whole DeviceResponse parse.
type UntaggedSign1Message cose.UntaggedSign1Message

func (m *UntaggedSign1Message) Sign(rand io.Reader, external []byte, signer cose.Signer) error {
	return (*cose.UntaggedSign1Message)(m).Sign(rand, external, signer)
}

func (m *UntaggedSign1Message) Verify(external []byte, verifier cose.Verifier) error {
	return (*cose.UntaggedSign1Message)(m).Verify(external, verifier)
}

func (m *UntaggedSign1Message) MarshalCBOR() ([]byte, error) {
	return (*cose.UntaggedSign1Message)(m).MarshalCBOR()
}

func (m *UntaggedSign1Message) UnmarshalCBOR(data []byte) error {
	var msg cose.UntaggedSign1Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		*m = UntaggedSign1Message{}
		return nil
	}
	*m = UntaggedSign1Message(msg)
	return nil
}
