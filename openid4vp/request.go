package openid4vp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/spruceid/mobile-sdk-go/dcql"
)

// AuthorizationRequest is the validated OID4VP request object.
type AuthorizationRequest struct {
	ClientID     string      `json:"client_id" mapstructure:"client_id"`
	ResponseType string      `json:"response_type" mapstructure:"response_type"`
	ResponseMode string      `json:"response_mode" mapstructure:"response_mode"`
	ResponseURI  string      `json:"response_uri" mapstructure:"response_uri"`
	Nonce        string      `json:"nonce" mapstructure:"nonce"`
	State        string      `json:"state,omitempty" mapstructure:"state"`
	DCQLQuery    *dcql.Query `json:"dcql_query" mapstructure:"dcql_query"`

	ClientMetadata *ClientMetadata `json:"client_metadata,omitempty" mapstructure:"client_metadata"`
}

// ClientMetadata carries the verifier's keys and response-encryption
// preferences.
type ClientMetadata struct {
	JWKS                              json.RawMessage `json:"jwks,omitempty" mapstructure:"-"`
	AuthorizationEncryptedResponseAlg string          `json:"authorization_encrypted_response_alg,omitempty" mapstructure:"authorization_encrypted_response_alg"`
	AuthorizationEncryptedResponseEnc string          `json:"authorization_encrypted_response_enc,omitempty" mapstructure:"authorization_encrypted_response_enc"`
	VPFormats                         map[string]any  `json:"vp_formats,omitempty" mapstructure:"vp_formats"`
}

// EncryptionKey picks the verifier JWK the response should be encrypted to:
// the first key marked for encryption use, else the first key present.
func (m *ClientMetadata) EncryptionKey() (*jose.JSONWebKey, error) {
	if m == nil || len(m.JWKS) == 0 {
		return nil, ErrMissingEncryptionKey
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(m.JWKS, &set); err != nil {
		return nil, fmt.Errorf("failed to parse verifier jwks: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, ErrMissingEncryptionKey
	}
	for i := range set.Keys {
		if set.Keys[i].Use == "enc" {
			return &set.Keys[i], nil
		}
	}
	return &set.Keys[0], nil
}

// ClientIDPrefix splits the client_id into its prefix and original value.
// An unprefixed client_id has no supported validation path.
func (r *AuthorizationRequest) ClientIDPrefix() (prefix, value string, err error) {
	prefix, value, found := strings.Cut(r.ClientID, ":")
	if !found {
		return "", "", fmt.Errorf("%w: client_id %q carries no prefix", ErrUnsupportedClientIDPrefix, r.ClientID)
	}
	switch prefix {
	case PrefixDecentralizedIdentifier, PrefixRedirectURI, PrefixX509SanDNS, PrefixX509Hash:
		return prefix, value, nil
	case "did":
		// A bare DID client_id is the decentralized_identifier prefix in
		// its pre-1.0 spelling.
		return PrefixDecentralizedIdentifier, r.ClientID, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedClientIDPrefix, prefix)
	}
}

// validate enforces the structural requirements every request must meet
// before any credential matching happens.
func (r *AuthorizationRequest) validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("request missing client_id")
	}
	if r.Nonce == "" {
		return fmt.Errorf("request missing nonce")
	}
	if r.ResponseURI == "" {
		return fmt.Errorf("request missing response_uri")
	}
	switch r.ResponseMode {
	case ResponseModeDirectPost, ResponseModeDirectPostJWT:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedResponseMode, r.ResponseMode)
	}
	if r.DCQLQuery == nil || len(r.DCQLQuery.Credentials) == 0 {
		return fmt.Errorf("request missing dcql_query")
	}
	return nil
}

// requestFromClaims decodes a request-object claim set. The claims arrive
// as generic JSON values; mapstructure reshapes them into the typed request.
func requestFromClaims(claims map[string]any) (*AuthorizationRequest, error) {
	var request AuthorizationRequest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &request,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(claims); err != nil {
		return nil, fmt.Errorf("failed to decode request object: %w", err)
	}

	// dcql_query and client_metadata survive better through JSON than
	// through generic map decoding.
	if raw, ok := claims["dcql_query"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		var query dcql.Query
		if err := json.Unmarshal(encoded, &query); err != nil {
			return nil, fmt.Errorf("failed to parse dcql_query: %w", err)
		}
		request.DCQLQuery = &query
	}
	if raw, ok := claims["client_metadata"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		var metadata ClientMetadata
		if err := json.Unmarshal(encoded, &metadata); err != nil {
			return nil, fmt.Errorf("failed to parse client_metadata: %w", err)
		}
		request.ClientMetadata = &metadata
	}
	return &request, nil
}

// requestFromQuery builds a request from bare URL query parameters. Only
// redirect_uri clients may send unsigned requests.
func requestFromQuery(values url.Values) (*AuthorizationRequest, error) {
	request := &AuthorizationRequest{
		ClientID:     values.Get("client_id"),
		ResponseType: values.Get("response_type"),
		ResponseMode: values.Get("response_mode"),
		ResponseURI:  values.Get("response_uri"),
		Nonce:        values.Get("nonce"),
		State:        values.Get("state"),
	}
	if raw := values.Get("dcql_query"); raw != "" {
		var query dcql.Query
		if err := json.Unmarshal([]byte(raw), &query); err != nil {
			return nil, fmt.Errorf("failed to parse dcql_query: %w", err)
		}
		request.DCQLQuery = &query
	}
	if raw := values.Get("client_metadata"); raw != "" {
		var metadata ClientMetadata
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("failed to parse client_metadata: %w", err)
		}
		request.ClientMetadata = &metadata
	}
	return request, nil
}

// fetchRequestObject resolves a request_uri to the serialised request
// object it references.
func fetchRequestObject(ctx context.Context, client HTTPClient, requestURI string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURI, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/oauth-authz-req+jwt")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch request object: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read request object: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request_uri returned %d: %s", resp.StatusCode, body)
	}
	return strings.TrimSpace(string(body)), nil
}
