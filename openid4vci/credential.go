package openid4vci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RawCredential is one issued credential, normalised from the issuer's
// response. String payloads (compact JWT/SD-JWT, base64url mdoc) carry
// their text bytes; structured W3C credentials carry their JSON encoding.
type RawCredential struct {
	Format  string `json:"format,omitempty"`
	Payload []byte `json:"payload"`
}

// CredentialResponse is the credential endpoint's answer.
type CredentialResponse struct {
	// Credentials is set on immediate issuance.
	Credentials []RawCredential
	// TransactionID and Interval are set on deferred issuance.
	TransactionID string
	Interval      time.Duration
}

// Deferred reports whether the issuer deferred issuance.
func (r *CredentialResponse) Deferred() bool { return r.TransactionID != "" }

// ExchangeCredential redeems a credential token at the credential endpoint.
// proofs carries the proof-of-possession JWTs the issuer requires; nil
// sends none.
func (c *Client) ExchangeCredential(ctx context.Context, token *CredentialToken, issuer, configurationID string, proofs []string) (*CredentialResponse, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("credential token cannot be empty")
	}
	metadata, err := c.IssuerMetadata(ctx, issuer)
	if err != nil {
		return nil, err
	}

	body := map[string]any{}
	// Identifiers granted in the token response win over the offer's
	// configuration id.
	if len(token.CredentialIdentifiers) > 0 {
		body["credential_identifier"] = token.CredentialIdentifiers[0]
	} else {
		body["credential_configuration_id"] = configurationID
	}
	switch len(proofs) {
	case 0:
	case 1:
		body["proof"] = map[string]any{"proof_type": "jwt", "jwt": proofs[0]}
	default:
		body["proofs"] = map[string]any{"jwt": proofs}
	}

	raw, err := c.postJSON(ctx, metadata.CredentialEndpoint, token.AccessToken, body)
	if err != nil {
		return nil, err
	}
	return parseCredentialResponse(raw, metadata, configurationID)
}

// GetNonce fetches a proof-of-possession challenge from the issuer's nonce
// endpoint.
func (c *Client) GetNonce(ctx context.Context, issuer string) (string, error) {
	metadata, err := c.IssuerMetadata(ctx, issuer)
	if err != nil {
		return "", err
	}
	if metadata.NonceEndpoint == "" {
		return "", fmt.Errorf("issuer advertises no nonce endpoint")
	}

	raw, err := c.postJSON(ctx, metadata.NonceEndpoint, "", nil)
	if err != nil {
		return "", err
	}
	var response struct {
		CNonce string `json:"c_nonce"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", fmt.Errorf("failed to parse nonce response: %w", err)
	}
	if response.CNonce == "" {
		return "", fmt.Errorf("nonce response carries no c_nonce")
	}
	return response.CNonce, nil
}

func parseCredentialResponse(raw []byte, metadata *IssuerMetadata, configurationID string) (*CredentialResponse, error) {
	var response struct {
		Credential    any    `json:"credential"`
		Credentials   []any  `json:"credentials"`
		TransactionID string `json:"transaction_id"`
		Interval      int64  `json:"interval"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("failed to parse credential response: %w", err)
	}

	if response.TransactionID != "" {
		return &CredentialResponse{
			TransactionID: response.TransactionID,
			Interval:      time.Duration(response.Interval) * time.Second,
		}, nil
	}

	format := ""
	if config, ok := metadata.CredentialConfigurationsSupported[configurationID]; ok {
		format = config.Format
	}

	entries := response.Credentials
	if len(entries) == 0 && response.Credential != nil {
		entries = []any{response.Credential}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("credential response carries no credential")
	}

	out := &CredentialResponse{Credentials: make([]RawCredential, 0, len(entries))}
	for _, entry := range entries {
		cred, err := normalizeCredential(entry, format)
		if err != nil {
			return nil, err
		}
		out.Credentials = append(out.Credentials, cred)
	}
	return out, nil
}

// normalizeCredential flattens the issuer's credential value into bytes.
// Entry objects may wrap the value in a "credential" field per OID4VCI 1.0.
func normalizeCredential(entry any, format string) (RawCredential, error) {
	switch v := entry.(type) {
	case string:
		return RawCredential{Format: format, Payload: []byte(v)}, nil
	case map[string]any:
		if inner, ok := v["credential"]; ok {
			return normalizeCredential(inner, format)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return RawCredential{}, fmt.Errorf("failed to encode credential: %w", err)
		}
		return RawCredential{Format: format, Payload: encoded}, nil
	default:
		return RawCredential{}, fmt.Errorf("unsupported credential value type %T", entry)
	}
}

func (c *Client) postJSON(ctx context.Context, endpoint, bearer string, body map[string]any) ([]byte, error) {
	var payload io.Reader = strings.NewReader("{}")
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, raw)
	}
	return raw, nil
}
