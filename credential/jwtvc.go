package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/pkg/jws"
)

// JwtVc is a W3C Verifiable Credential secured as a compact JWS, either
// plain (jwt_vc) or with JSON-LD payload semantics (jwt_vc_json-ld).
type JwtVc struct {
	id       string
	keyAlias string
	raw      string
	format   ClaimFormat
	header   map[string]any
	claims   map[string]any
	vc       map[string]any
	types    []string
}

// NewJwtVc parses a compact JWS credential. The signature is not verified
// here; trust decisions happen at presentation-request time.
func NewJwtVc(raw, keyAlias string) (*JwtVc, error) {
	return newJwtVc(raw, keyAlias, FormatJwtVc)
}

// NewJwtVcJsonLd parses a jwt_vc_json-ld credential.
func NewJwtVcJsonLd(raw, keyAlias string) (*JwtVc, error) {
	return newJwtVc(raw, keyAlias, FormatJwtVcJsonLd)
}

func newJwtVc(raw, keyAlias string, format ClaimFormat) (*JwtVc, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 JWT segments, got %d", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT header: %w", err)
	}
	claimBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var header, claims map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse JWT header: %w", err)
	}
	if err := json.Unmarshal(claimBytes, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT payload: %w", err)
	}

	vc, _ := claims["vc"].(map[string]any)
	if vc == nil {
		return nil, fmt.Errorf("JWT credential missing vc claim")
	}

	return &JwtVc{
		id:       uuid.NewString(),
		keyAlias: keyAlias,
		raw:      raw,
		format:   format,
		header:   header,
		claims:   claims,
		vc:       vc,
		types:    typeStrings(vc["type"]),
	}, nil
}

func typeStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (c *JwtVc) ID() string                      { return c.id }
func (c *JwtVc) KeyAlias() string                { return c.keyAlias }
func (c *JwtVc) Format() ClaimFormat             { return c.format }
func (c *JwtVc) Type() string                    { return strings.Join(c.types, "+") }
func (c *JwtVc) PresentationFormat() ClaimFormat { return FormatJwtVp }
func (c *JwtVc) Payload() []byte                 { return []byte(c.raw) }

// CredentialSubject returns the decoded credentialSubject claim.
func (c *JwtVc) CredentialSubject() map[string]any {
	subject, _ := c.vc["credentialSubject"].(map[string]any)
	return subject
}

func (c *JwtVc) Candidate() dcql.Candidate {
	formats := []string{string(c.format)}
	if c.format == FormatJwtVc {
		// Verifiers commonly query the JSON-LD alias too.
		formats = append(formats, string(FormatJwtVcJsonLd))
	}
	return dcql.Candidate{
		ID:      c.id,
		Formats: formats,
		Claims:  c.claimTree(),
	}
}

func (c *JwtVc) claimTree() map[string]any {
	tree := make(map[string]any, len(c.vc)+1)
	for k, v := range c.vc {
		tree[k] = v
	}
	if subject := c.CredentialSubject(); subject != nil {
		// Claim queries usually address subject fields directly.
		for k, v := range subject {
			if _, shadowed := tree[k]; !shadowed {
				tree[k] = v
			}
		}
	}
	return tree
}

func (c *JwtVc) RequestedFields(query dcql.CredentialQuery) []RequestedField {
	return requestedFieldsFromClaims(query, c.claimTree())
}

// DisplayClaims returns the decoded vc claim. JWT payloads are already JSON.
func (c *JwtVc) DisplayClaims() map[string]any { return c.vc }

// VPTokenItem wraps the credential in a holder-signed JWT verifiable
// presentation. JWT VCs disclose whole; selectedFields is ignored.
func (c *JwtVc) VPTokenItem(ctx context.Context, opts PresentationOptions, _ []string) (string, error) {
	if opts.Signer == nil {
		return "", ErrMissingSigner
	}

	vp := map[string]any{
		"@context":             []string{"https://www.w3.org/2018/credentials/v1"},
		"type":                 []string{"VerifiablePresentation"},
		"verifiableCredential": []string{c.raw},
	}
	claims := map[string]any{
		"vp":    vp,
		"aud":   opts.ClientID,
		"nonce": opts.Nonce,
		"iat":   time.Now().Unix(),
		"jti":   uuid.NewString(),
	}
	if opts.Holder != "" {
		claims["iss"] = opts.Holder
	}

	token, err := jws.SignCompact(ctx, opts.Signer, jws.Header(opts.Signer, "JWT"), claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT presentation: %w", err)
	}
	return token, nil
}
