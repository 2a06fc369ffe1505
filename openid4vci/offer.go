package openid4vci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const grantPreAuthorizedCode = "urn:ietf:params:oauth:grant-type:pre-authorized_code"

// offerSchema is the structural contract every credential offer must meet
// before any flow starts.
const offerSchema = `{
	"type": "object",
	"required": ["credential_issuer", "credential_configuration_ids"],
	"properties": {
		"credential_issuer": {"type": "string", "format": "uri"},
		"credential_configuration_ids": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1
		},
		"grants": {"type": "object"}
	}
}`

// CredentialOffer is a resolved credential offer.
type CredentialOffer struct {
	CredentialIssuer           string   `json:"credential_issuer"`
	CredentialConfigurationIDs []string `json:"credential_configuration_ids"`
	Grants                     Grants   `json:"grants,omitempty"`
}

// Grants carries the offer's grant parameters.
type Grants struct {
	PreAuthorizedCode *PreAuthorizedCodeGrant `json:"urn:ietf:params:oauth:grant-type:pre-authorized_code,omitempty"`
	AuthorizationCode *AuthorizationCodeGrant `json:"authorization_code,omitempty"`
}

// PreAuthorizedCodeGrant is the pre-authorized_code grant.
type PreAuthorizedCodeGrant struct {
	PreAuthorizedCode string      `json:"pre-authorized_code"`
	TxCode            *TxCodeSpec `json:"tx_code,omitempty"`
}

// TxCodeSpec describes the transaction code the user must supply out of
// band.
type TxCodeSpec struct {
	InputMode   string `json:"input_mode,omitempty"`
	Length      int    `json:"length,omitempty"`
	Description string `json:"description,omitempty"`
}

// AuthorizationCodeGrant is the authorization_code grant.
type AuthorizationCodeGrant struct {
	IssuerState string `json:"issuer_state,omitempty"`
}

// ResolveOfferURL resolves a credential-offer invocation URL into the offer
// it carries: either an inline credential_offer parameter or a
// credential_offer_uri to fetch.
func (c *Client) ResolveOfferURL(ctx context.Context, offerURL string) (*CredentialOffer, error) {
	if strings.TrimSpace(offerURL) == "" {
		return nil, fmt.Errorf("offer URL cannot be empty")
	}
	parsed, err := url.Parse(offerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse offer URL: %w", err)
	}
	values := parsed.Query()

	if inline := values.Get("credential_offer"); inline != "" {
		return parseOffer([]byte(inline))
	}
	if uri := values.Get("credential_offer_uri"); uri != "" {
		raw, err := c.fetchOffer(ctx, uri)
		if err != nil {
			return nil, err
		}
		return parseOffer(raw)
	}
	return nil, fmt.Errorf("offer URL carries no credential_offer or credential_offer_uri")
}

func (c *Client) fetchOffer(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credential offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential offer: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential_offer_uri returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// parseOffer validates the offer JSON against the offer schema before
// decoding it.
func parseOffer(raw []byte) (*CredentialOffer, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(offerSchema),
		gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, strings.Join(details, "; "))
	}

	var offer CredentialOffer
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	return &offer, nil
}
