package credential

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/sdjwt"
)

// SdJwtVc is a selectively disclosable credential in SD-JWT form. The IETF
// profile (dc+sd-jwt, carrying a vct claim) appends a Key Binding JWT on
// presentation; the VCDM2 profile presents without key binding.
type SdJwtVc struct {
	id       string
	keyAlias string
	format   ClaimFormat
	token    *sdjwt.Token
}

// NewSdJwtVc parses an encoded SD-JWT and picks the profile: a vct claim
// selects the IETF SD-JWT-VC path, otherwise VCDM2.
func NewSdJwtVc(raw, keyAlias string) (*SdJwtVc, error) {
	token, err := sdjwt.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SD-JWT: %w", err)
	}
	format := FormatVcdm2SdJwt
	if _, hasVCT := token.Payload["vct"]; hasVCT {
		format = FormatSdJwt
	}
	return &SdJwtVc{
		id:       uuid.NewString(),
		keyAlias: keyAlias,
		format:   format,
		token:    token,
	}, nil
}

func (c *SdJwtVc) ID() string                      { return c.id }
func (c *SdJwtVc) KeyAlias() string                { return c.keyAlias }
func (c *SdJwtVc) Format() ClaimFormat             { return c.format }
func (c *SdJwtVc) PresentationFormat() ClaimFormat { return c.format }
func (c *SdJwtVc) Payload() []byte                 { return []byte(c.token.Raw) }

// Token exposes the parsed SD-JWT.
func (c *SdJwtVc) Token() *sdjwt.Token { return c.token }

// VCT returns the vct claim, or "" for VCDM2 credentials.
func (c *SdJwtVc) VCT() string {
	vct, _ := c.token.Payload["vct"].(string)
	return vct
}

func (c *SdJwtVc) Type() string {
	if vct := c.VCT(); vct != "" {
		return vct
	}
	if vc, ok := c.token.ResolvedClaims["vc"].(map[string]any); ok {
		if types := typeStrings(vc["type"]); len(types) > 0 {
			return strings.Join(types, "+")
		}
	}
	if types := typeStrings(c.token.ResolvedClaims["type"]); len(types) > 0 {
		return strings.Join(types, "+")
	}
	return string(c.format)
}

func (c *SdJwtVc) Candidate() dcql.Candidate {
	return dcql.Candidate{
		ID:      c.id,
		Formats: []string{string(c.format)},
		VCT:     c.VCT(),
		Claims:  c.token.ResolvedClaims,
	}
}

func (c *SdJwtVc) RequestedFields(query dcql.CredentialQuery) []RequestedField {
	return requestedFieldsFromClaims(query, c.token.ResolvedClaims)
}

// DisplayClaims returns the claims with every disclosure resolved in place.
func (c *SdJwtVc) DisplayClaims() map[string]any { return c.token.ResolvedClaims }

// DisclosablePointers lists the encoded paths the holder may selectively
// disclose.
func (c *SdJwtVc) DisclosablePointers() []string {
	return c.token.DisclosablePointers()
}

// VPTokenItem re-encodes the SD-JWT retaining only the selected disclosures.
// For the IETF profile a KB-JWT with aud = client_id, nonce = request nonce,
// and sd_hash over the retained form is appended, signed by the credential's
// key. A selection outside the disclosable set is an error.
func (c *SdJwtVc) VPTokenItem(ctx context.Context, opts PresentationOptions, selectedFields []string) (string, error) {
	pointers := selectedFields
	if pointers == nil {
		pointers = c.token.DisclosablePointers()
	}

	if c.format != FormatSdJwt {
		presentation, err := c.token.Retain(pointers)
		if err != nil {
			return "", err
		}
		return presentation, nil
	}

	signer, err := opts.deviceSigner(c.keyAlias)
	if err != nil {
		return "", err
	}
	return c.token.RetainWithKeyBinding(ctx, signer, pointers, sdjwt.KeyBindingParams{
		Audience: opts.ClientID,
		Nonce:    opts.Nonce,
	})
}
