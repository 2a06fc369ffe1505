package openid4vci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// StateKind names a token flow state.
type StateKind string

const (
	// StateReady holds a usable credential token.
	StateReady StateKind = "ready"
	// StateRequiresTxCode awaits the transaction code the user received out
	// of band.
	StateRequiresTxCode StateKind = "requires_tx_code"
	// StateRequiresAuthorizationCode awaits the wallet's redirect URI to
	// build the authorization URL.
	StateRequiresAuthorizationCode StateKind = "requires_authorization_code"
	// StateWaitingForAuthorizationCode awaits the code returned to the
	// redirect URI.
	StateWaitingForAuthorizationCode StateKind = "waiting_for_authorization_code"
)

// CredentialToken is the access token the credential endpoint accepts.
type CredentialToken struct {
	AccessToken           string   `json:"access_token"`
	TokenType             string   `json:"token_type,omitempty"`
	ExpiresIn             int64    `json:"expires_in,omitempty"`
	CNonce                string   `json:"c_nonce,omitempty"`
	CredentialIdentifiers []string `json:"-"`
}

// CredentialTokenState is one step of the token flow. Each state is
// one-shot: a second Proceed returns ErrAlreadyProceeded.
type CredentialTokenState struct {
	Kind StateKind
	// Token is set in the Ready state.
	Token *CredentialToken
	// TxCode describes the expected transaction code in the RequiresTxCode
	// state.
	TxCode *TxCodeSpec
	// AuthorizationURL is the browser destination in the
	// WaitingForAuthorizationCode state.
	AuthorizationURL string

	client      *Client
	offer       *CredentialOffer
	redirectURI string
	oauthState  string

	mu        sync.Mutex
	proceeded bool
}

// AcceptOffer starts the token flow for an offer. Pre-authorized offers
// without a tx_code resolve to Ready immediately.
func (c *Client) AcceptOffer(ctx context.Context, offer *CredentialOffer) (*CredentialTokenState, error) {
	if offer == nil {
		return nil, fmt.Errorf("offer cannot be nil")
	}

	switch {
	case offer.Grants.PreAuthorizedCode != nil:
		if offer.Grants.PreAuthorizedCode.TxCode != nil {
			return &CredentialTokenState{
				Kind:   StateRequiresTxCode,
				TxCode: offer.Grants.PreAuthorizedCode.TxCode,
				client: c,
				offer:  offer,
			}, nil
		}
		token, err := c.preAuthorizedToken(ctx, offer, "")
		if err != nil {
			return nil, err
		}
		return &CredentialTokenState{Kind: StateReady, Token: token, client: c, offer: offer}, nil

	case offer.Grants.AuthorizationCode != nil:
		return &CredentialTokenState{
			Kind:   StateRequiresAuthorizationCode,
			client: c,
			offer:  offer,
		}, nil

	default:
		return nil, ErrUnsupportedGrant
	}
}

// Proceed advances the flow with the caller's input: a tx_code, the
// wallet's redirect URI, or the returned authorization code, depending on
// the current state.
func (s *CredentialTokenState) Proceed(ctx context.Context, input string) (*CredentialTokenState, error) {
	if err := s.consume(); err != nil {
		return nil, err
	}

	switch s.Kind {
	case StateRequiresTxCode:
		token, err := s.client.preAuthorizedToken(ctx, s.offer, input)
		if err != nil {
			return nil, err
		}
		return &CredentialTokenState{Kind: StateReady, Token: token, client: s.client, offer: s.offer}, nil

	case StateRequiresAuthorizationCode:
		next, err := s.client.beginAuthorizationCode(ctx, s.offer, input)
		if err != nil {
			return nil, err
		}
		return next, nil

	case StateWaitingForAuthorizationCode:
		token, err := s.client.authorizationCodeToken(ctx, s.offer, input, s.redirectURI)
		if err != nil {
			return nil, err
		}
		return &CredentialTokenState{Kind: StateReady, Token: token, client: s.client, offer: s.offer}, nil

	default:
		return nil, fmt.Errorf("state %s has nothing to proceed to", s.Kind)
	}
}

func (s *CredentialTokenState) consume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proceeded {
		return ErrAlreadyProceeded
	}
	s.proceeded = true
	return nil
}

// preAuthorizedToken runs the pre-authorized_code grant.
func (c *Client) preAuthorizedToken(ctx context.Context, offer *CredentialOffer, txCode string) (*CredentialToken, error) {
	metadata, err := c.IssuerMetadata(ctx, offer.CredentialIssuer)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", grantPreAuthorizedCode)
	form.Set("pre-authorized_code", offer.Grants.PreAuthorizedCode.PreAuthorizedCode)
	if txCode != "" {
		form.Set("tx_code", txCode)
	}
	return c.requestToken(ctx, c.tokenEndpoint(ctx, offer.CredentialIssuer, metadata), form)
}

// beginAuthorizationCode builds the authorization URL the wallet opens and
// the state awaiting the returned code.
func (c *Client) beginAuthorizationCode(ctx context.Context, offer *CredentialOffer, redirectURI string) (*CredentialTokenState, error) {
	if redirectURI == "" {
		return nil, fmt.Errorf("redirect URI cannot be empty")
	}
	metadata, err := c.IssuerMetadata(ctx, offer.CredentialIssuer)
	if err != nil {
		return nil, err
	}

	oauthState := uuid.NewString()
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("redirect_uri", redirectURI)
	values.Set("state", oauthState)
	values.Set("scope", scopeForOffer(metadata, offer))
	if offer.Grants.AuthorizationCode.IssuerState != "" {
		values.Set("issuer_state", offer.Grants.AuthorizationCode.IssuerState)
	}

	return &CredentialTokenState{
		Kind:             StateWaitingForAuthorizationCode,
		AuthorizationURL: c.authorizationEndpoint(ctx, offer.CredentialIssuer, metadata) + "?" + values.Encode(),
		client:           c,
		offer:            offer,
		redirectURI:      redirectURI,
		oauthState:       oauthState,
	}, nil
}

// authorizationCodeToken exchanges the returned code.
func (c *Client) authorizationCodeToken(ctx context.Context, offer *CredentialOffer, code, redirectURI string) (*CredentialToken, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code cannot be empty")
	}
	metadata, err := c.IssuerMetadata(ctx, offer.CredentialIssuer)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return c.requestToken(ctx, c.tokenEndpoint(ctx, offer.CredentialIssuer, metadata), form)
}

func scopeForOffer(metadata *IssuerMetadata, offer *CredentialOffer) string {
	var scopes []string
	for _, id := range offer.CredentialConfigurationIDs {
		if config, ok := metadata.CredentialConfigurationsSupported[id]; ok && config.Scope != "" {
			scopes = append(scopes, config.Scope)
		}
	}
	return strings.Join(scopes, " ")
}

func (c *Client) requestToken(ctx context.Context, endpoint string, form url.Values) (*CredentialToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}
	if errCode, ok := raw["error"].(string); ok {
		desc, _ := raw["error_description"].(string)
		return nil, fmt.Errorf("token endpoint rejected the request: %s: %s", errCode, desc)
	}

	var token CredentialToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response carries no access_token")
	}
	token.CredentialIdentifiers = credentialIdentifiers(raw)
	return &token, nil
}

// credentialIdentifiers extracts credential_identifiers from the token
// response's authorization_details; they take precedence over the offer's
// configuration ids at the credential endpoint.
func credentialIdentifiers(tokenResp map[string]any) []string {
	details, ok := tokenResp["authorization_details"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, entry := range details {
		detail, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		ids, ok := detail["credential_identifiers"].([]any)
		if !ok {
			continue
		}
		for _, id := range ids {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
