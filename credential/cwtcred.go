package credential

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/cwt"
	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/mdoc"
)

// CwtCredential wraps a CBOR Web Token. CWTs are receive-and-verify only;
// they have no presentation path in this SDK.
type CwtCredential struct {
	id    string
	token *cwt.Cwt
	raw   []byte
}

func NewCwtCredential(payload []byte) (*CwtCredential, error) {
	token, err := cwt.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CWT credential: %w", err)
	}
	return &CwtCredential{
		id:    uuid.NewString(),
		token: token,
		raw:   payload,
	}, nil
}

func (c *CwtCredential) ID() string          { return c.id }
func (c *CwtCredential) KeyAlias() string    { return "" }
func (c *CwtCredential) Format() ClaimFormat { return FormatCwt }

func (c *CwtCredential) Type() string {
	if sub, ok := c.token.Claim(cwt.ClaimSubject); ok {
		if s, ok := sub.(string); ok && s != "" {
			return s
		}
	}
	return string(FormatCwt)
}

func (c *CwtCredential) PresentationFormat() ClaimFormat { return FormatCwt }
func (c *CwtCredential) Payload() []byte                 { return c.raw }

// Token exposes the parsed CWT for verification and status lookup.
func (c *CwtCredential) Token() *cwt.Cwt { return c.token }

func (c *CwtCredential) claimTree() map[string]any {
	tree := make(map[string]any)
	for _, key := range []int64{
		cwt.ClaimIssuer, cwt.ClaimSubject, cwt.ClaimAudience,
		cwt.ClaimExpiration, cwt.ClaimNotBefore, cwt.ClaimIssuedAt,
		cwt.ClaimCWTID,
	} {
		if v, ok := c.token.Claim(key); ok {
			tree[strconv.FormatInt(key, 10)] = v
		}
	}
	return tree
}

func (c *CwtCredential) Candidate() dcql.Candidate {
	return dcql.Candidate{
		ID:      c.id,
		Formats: []string{string(FormatCwt)},
		Claims:  c.claimTree(),
	}
}

func (c *CwtCredential) RequestedFields(query dcql.CredentialQuery) []RequestedField {
	return requestedFieldsFromClaims(query, c.claimTree())
}

var cwtClaimNames = map[int64]string{
	cwt.ClaimIssuer:     "iss",
	cwt.ClaimSubject:    "sub",
	cwt.ClaimAudience:   "aud",
	cwt.ClaimExpiration: "exp",
	cwt.ClaimNotBefore:  "nbf",
	cwt.ClaimIssuedAt:   "iat",
	cwt.ClaimCWTID:      "cti",
}

// DisplayClaims renders the registered claims under their JWT names, with
// CBOR values converted to their JSON form.
func (c *CwtCredential) DisplayClaims() map[string]any {
	out := make(map[string]any, len(cwtClaimNames))
	for key, name := range cwtClaimNames {
		v, ok := c.token.Claim(key)
		if !ok {
			continue
		}
		if converted, ok := mdoc.JSONValue(v); ok {
			out[name] = converted
		}
	}
	return out
}

func (c *CwtCredential) VPTokenItem(context.Context, PresentationOptions, []string) (string, error) {
	return "", ErrUnsupportedPresentation
}
