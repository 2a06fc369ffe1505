// Package credential implements the polymorphic credential model: one
// interface over JWT-VC, JSON-LD VC, SD-JWT (VCDM2 and IETF), mdoc, and CWT
// credentials, with DCQL satisfaction, requested-field extraction, and
// per-format verifiable-presentation assembly.
package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/keystore"
)

// ClaimFormat identifies a credential or presentation format, using the
// OID4VP format identifiers.
type ClaimFormat string

const (
	FormatJwtVc       ClaimFormat = "jwt_vc"
	FormatJwtVcJsonLd ClaimFormat = "jwt_vc_json-ld"
	FormatJwtVp       ClaimFormat = "jwt_vp"
	FormatLdpVc       ClaimFormat = "ldp_vc"
	FormatLdpVp       ClaimFormat = "ldp_vp"
	FormatMsoMdoc     ClaimFormat = "mso_mdoc"
	FormatSdJwt       ClaimFormat = "dc+sd-jwt"
	FormatVcdm2SdJwt  ClaimFormat = "vcdm2_sd_jwt"
	FormatCwt         ClaimFormat = "cwt"
)

var (
	// ErrUnsupportedPresentation is returned when a credential format has no
	// presentation path (receive-only formats like CWT).
	ErrUnsupportedPresentation = errors.New("credential: format does not support presentation")
	// ErrMissingSigner is returned when presentation assembly lacks the
	// signer it needs.
	ErrMissingSigner = errors.New("credential: no signer available for presentation")
	// ErrInvalidSelection is returned when a selected field does not exist
	// in the credential.
	ErrInvalidSelection = errors.New("credential: selected field not present")
)

// Credential is the common surface of every stored credential variant.
// Implementations are immutable after construction and own their parsed
// form; storage holds only the raw payload plus metadata.
type Credential interface {
	// ID is a process-wide unique identifier, assigned at construction.
	ID() string
	// KeyAlias names the holder key bound to this credential, or "".
	KeyAlias() string
	Format() ClaimFormat
	// Type is the semantic content type; multi-type credentials join
	// their types with "+".
	Type() string
	// PresentationFormat is the format of the VP this credential produces.
	PresentationFormat() ClaimFormat
	// Payload is the credential's canonical raw encoding.
	Payload() []byte
	// Candidate projects the credential into the DCQL matcher's view.
	Candidate() dcql.Candidate
	// RequestedFields resolves a credential query's claim paths against the
	// credential. Missing paths still yield entries, with empty RawFields,
	// so consent UIs can render the full ask.
	RequestedFields(query dcql.CredentialQuery) []RequestedField
	// DisplayClaims projects the credential's claims as a JSON-friendly
	// tree for wallet UIs. Byte strings render as data URIs; values with
	// no JSON form are dropped.
	DisplayClaims() map[string]any
	// VPTokenItem assembles this credential's entry for a vp_token array.
	// selectedFields uses the encoded-path form; nil means "disclose per
	// the query defaults".
	VPTokenItem(ctx context.Context, opts PresentationOptions, selectedFields []string) (string, error)
}

// SatisfiesDCQL reports whether the credential can answer the query.
func SatisfiesDCQL(c Credential, query dcql.CredentialQuery) bool {
	_, ok := dcql.MatchCredentialQuery(query, c.Candidate())
	return ok
}

// RequestedField describes one claim a verifier asked for, resolved against
// a concrete credential.
type RequestedField struct {
	ID                string   `json:"id"`
	CredentialQueryID string   `json:"credentialQueryId,omitempty"`
	Path              string   `json:"path"`
	DisplayName       string   `json:"displayName"`
	Purpose           string   `json:"purpose,omitempty"`
	Required          bool     `json:"required"`
	Retained          bool     `json:"retained"`
	// RawFields holds the values currently present at the path; empty when
	// the credential lacks the claim.
	RawFields []any `json:"rawFields,omitempty"`
}

func newRequestedField(queryID string, path []interface{}, values []any) RequestedField {
	return RequestedField{
		ID:                uuid.NewString(),
		CredentialQueryID: queryID,
		Path:              EncodePath(path),
		DisplayName:       pathDisplayName(path),
		Required:          true,
		RawFields:         values,
	}
}

// requestedFieldsFromClaims is the shared RequestedFields implementation for
// formats whose claims form a JSON-like tree.
func requestedFieldsFromClaims(query dcql.CredentialQuery, claims map[string]any) []RequestedField {
	fields := make([]RequestedField, 0, len(query.Claims))
	for _, claim := range query.Claims {
		values, ok := dcql.ResolvePath(claims, claim.Path)
		if !ok {
			values = nil
		}
		field := newRequestedField(query.ID, claim.Path, values)
		field.Retained = claim.IntentToRetain
		fields = append(fields, field)
	}
	return fields
}

// PresentationOptions bundles everything VP assembly needs. Fields unused by
// a given format are ignored.
type PresentationOptions struct {
	// ClientID is the verifier identifier; it becomes the JWT audience and
	// the data-integrity proof domain.
	ClientID string
	// Nonce is the authorization request nonce; it becomes the KB-JWT nonce
	// and the data-integrity proof challenge.
	Nonce string
	// ResponseURI is the verifier's response endpoint, raw as received.
	ResponseURI string
	// EncryptionJWKThumbprint is the RFC 7638 thumbprint of the verifier's
	// response-encryption key, or nil for unencrypted responses. mdoc
	// presentations bind it into the OID4VP handover.
	EncryptionJWKThumbprint []byte
	// Signer is the holder presentation signer for JWT/JSON-LD/SD-JWT VPs.
	Signer keystore.Signer
	// Keystore resolves credential key aliases; mdoc presentations need it
	// for the device key.
	Keystore keystore.Keystore
	// ContextMap supplies pre-fetched JSON-LD context documents, keyed by
	// URL.
	ContextMap map[string]any
	// Holder is the holder identifier placed into JSON presentations.
	Holder string
}

func (o PresentationOptions) deviceSigner(keyAlias string) (keystore.Signer, error) {
	if keyAlias != "" && o.Keystore != nil {
		return o.Keystore.SigningKey(keyAlias)
	}
	if o.Signer != nil {
		return o.Signer, nil
	}
	return nil, ErrMissingSigner
}

// EncodePath encodes a claim path as base64url segments joined by ",", so
// selections can cross process boundaries as opaque strings. Integer
// segments encode their decimal form; nil wildcards encode as empty
// segments.
func EncodePath(path []interface{}) string {
	segments := make([]string, len(path))
	for i, seg := range path {
		var text string
		switch s := seg.(type) {
		case string:
			text = s
		case float64:
			text = strconv.Itoa(int(s))
		case int:
			text = strconv.Itoa(s)
		case nil:
			text = ""
		default:
			text = fmt.Sprint(s)
		}
		segments[i] = base64.RawURLEncoding.EncodeToString([]byte(text))
	}
	return strings.Join(segments, ",")
}

// DecodePath reverses EncodePath. Segments that parse as integers come back
// as int; empty segments come back as nil wildcards.
func DecodePath(encoded string) ([]interface{}, error) {
	parts := strings.Split(encoded, ",")
	path := make([]interface{}, len(parts))
	for i, part := range parts {
		raw, err := base64.RawURLEncoding.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %d: %w", i, err)
		}
		text := string(raw)
		if text == "" {
			path[i] = nil
			continue
		}
		if n, err := strconv.Atoi(text); err == nil {
			path[i] = n
			continue
		}
		path[i] = text
	}
	return path, nil
}

// pathDisplayName renders the last named path segment as a label, splitting
// snake_case and camelCase.
func pathDisplayName(path []interface{}) string {
	for i := len(path) - 1; i >= 0; i-- {
		if s, ok := path[i].(string); ok && s != "" {
			return humanize(s)
		}
	}
	return ""
}

// HumanizeIdentifier turns a snake_case or camelCase identifier into a
// display label ("proofOfAge" and "proof_of_age" both become "Proof Of Age").
func HumanizeIdentifier(s string) string {
	return humanize(s)
}

func humanize(s string) string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			word := string(current)
			words = append(words, strings.ToUpper(word[:1])+word[1:])
			current = nil
		}
	}
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r) && len(current) > 0 && unicode.IsLower(current[len(current)-1]):
			flush()
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()
	return strings.Join(words, " ")
}
