package credential

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/iso18013"
	"github.com/spruceid/mobile-sdk-go/mdoc"
)

// Mdoc is an ISO 18013-5 mobile document credential. The payload is the
// CBOR-encoded IssuerSigned structure; presentations carry a DeviceResponse
// signed with the device key named by the key alias.
type Mdoc struct {
	id           string
	keyAlias     string
	docType      mdoc.DocType
	issuerSigned *mdoc.IssuerSigned
	raw          []byte
}

// NewMdoc parses an IssuerSigned CBOR payload. keyAlias names the holder
// device key bound into the credential's MSO.
func NewMdoc(payload []byte, keyAlias string) (*Mdoc, error) {
	issuerSigned, err := mdoc.ParseIssuerSigned(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mdoc payload: %w", err)
	}
	mso, err := issuerSigned.MobileSecurityObject()
	if err != nil {
		return nil, fmt.Errorf("failed to read MSO: %w", err)
	}
	return &Mdoc{
		id:           uuid.NewString(),
		keyAlias:     keyAlias,
		docType:      mso.DocType,
		issuerSigned: issuerSigned,
		raw:          payload,
	}, nil
}

// NewMdocFromIssuerSigned wraps an already parsed IssuerSigned, re-encoding
// it as the stored payload.
func NewMdocFromIssuerSigned(issuerSigned *mdoc.IssuerSigned, keyAlias string) (*Mdoc, error) {
	raw, err := cbor.Marshal(issuerSigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode issuer signed: %w", err)
	}
	return NewMdoc(raw, keyAlias)
}

func (m *Mdoc) ID() string                      { return m.id }
func (m *Mdoc) KeyAlias() string                { return m.keyAlias }
func (m *Mdoc) Format() ClaimFormat             { return FormatMsoMdoc }
func (m *Mdoc) Type() string                    { return string(m.docType) }
func (m *Mdoc) PresentationFormat() ClaimFormat { return FormatMsoMdoc }
func (m *Mdoc) Payload() []byte                 { return m.raw }

// DocType returns the document type from the MSO.
func (m *Mdoc) DocType() mdoc.DocType { return m.docType }

// IssuerSigned exposes the parsed credential for direct ISO 18013-5 use.
func (m *Mdoc) IssuerSigned() *mdoc.IssuerSigned { return m.issuerSigned }

func (m *Mdoc) claimTree() map[string]any {
	tree := make(map[string]any)
	for _, ns := range m.issuerSigned.GetNameSpaces() {
		items, err := m.issuerSigned.GetIssuerSignedItems(ns)
		if err != nil {
			continue
		}
		elements := make(map[string]any, len(items))
		for _, item := range items {
			elements[string(item.ElementIdentifier)] = item.ElementValue
		}
		tree[string(ns)] = elements
	}
	return tree
}

func (m *Mdoc) Candidate() dcql.Candidate {
	return dcql.Candidate{
		ID:      m.id,
		Formats: []string{string(FormatMsoMdoc)},
		DocType: string(m.docType),
		Claims:  m.claimTree(),
	}
}

func (m *Mdoc) RequestedFields(query dcql.CredentialQuery) []RequestedField {
	return requestedFieldsFromClaims(query, m.claimTree())
}

// DisplayClaims renders the issuer-signed elements keyed by namespace, with
// byte strings as data URIs so portraits can be displayed directly.
func (m *Mdoc) DisplayClaims() map[string]any {
	tree, err := m.issuerSigned.ElementsToJSON()
	if err != nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(tree))
	for ns, elements := range tree {
		out[ns] = elements
	}
	return out
}

// VPTokenItem builds the base64url DeviceResponse for a vp_token entry. The
// session transcript binds client_id, nonce, response_uri, and the
// verifier's encryption key thumbprint from opts. selectedFields carries
// encoded [namespace, element] paths; nil discloses every element.
func (m *Mdoc) VPTokenItem(ctx context.Context, opts PresentationOptions, selectedFields []string) (string, error) {
	transcript, err := iso18013.OID4VPSessionTranscript(opts.ClientID, opts.Nonce, opts.EncryptionJWKThumbprint, opts.ResponseURI)
	if err != nil {
		return "", err
	}

	selection, err := m.elementSelection(selectedFields)
	if err != nil {
		return "", err
	}

	signer, err := opts.deviceSigner(m.keyAlias)
	if err != nil {
		return "", err
	}

	doc, err := mdoc.BuildDocument(ctx, m.issuerSigned, m.docType, selection, signer, transcript)
	if err != nil {
		return "", err
	}
	responseBytes, err := mdoc.EncodeDeviceResponse(mdoc.NewDeviceResponse(*doc))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(responseBytes), nil
}

func (m *Mdoc) elementSelection(selectedFields []string) (mdoc.ElementSelection, error) {
	selection := mdoc.ElementSelection{}
	if selectedFields == nil {
		for _, ns := range m.issuerSigned.GetNameSpaces() {
			items, err := m.issuerSigned.GetIssuerSignedItems(ns)
			if err != nil {
				return nil, fmt.Errorf("failed to read namespace %s: %w", ns, err)
			}
			for _, item := range items {
				selection[ns] = append(selection[ns], item.ElementIdentifier)
			}
		}
		return selection, nil
	}
	for _, encoded := range selectedFields {
		path, err := DecodePath(encoded)
		if err != nil {
			return nil, err
		}
		if len(path) != 2 {
			return nil, fmt.Errorf("%w: mdoc paths are [namespace, element], got %d segments", ErrInvalidSelection, len(path))
		}
		ns, okNS := path[0].(string)
		element, okEl := path[1].(string)
		if !okNS || !okEl {
			return nil, fmt.Errorf("%w: mdoc path segments must be strings", ErrInvalidSelection)
		}
		selection[mdoc.NameSpace(ns)] = append(selection[mdoc.NameSpace(ns)], mdoc.ElementIdentifier(element))
	}
	return selection, nil
}
