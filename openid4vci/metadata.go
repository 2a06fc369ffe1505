package openid4vci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// IssuerMetadata is the credential issuer's well-known document, with the
// fields the client navigates by decoded and the rest preserved.
type IssuerMetadata struct {
	CredentialIssuer     string   `json:"credential_issuer"`
	AuthorizationServers []string `json:"authorization_servers,omitempty"`
	CredentialEndpoint   string   `json:"credential_endpoint"`
	NonceEndpoint        string   `json:"nonce_endpoint,omitempty"`
	DeferredEndpoint     string   `json:"deferred_credential_endpoint,omitempty"`

	CredentialConfigurationsSupported map[string]CredentialConfiguration `json:"credential_configurations_supported,omitempty"`
}

// CredentialConfiguration describes one issuable credential.
type CredentialConfiguration struct {
	Format string `json:"format"`
	Scope  string `json:"scope,omitempty"`
	VCT    string `json:"vct,omitempty"`
	// DocType is set for mso_mdoc configurations.
	DocType string `json:"doctype,omitempty"`
}

// IssuerMetadata fetches and caches the issuer's well-known metadata.
func (c *Client) IssuerMetadata(ctx context.Context, issuer string) (*IssuerMetadata, error) {
	issuer = strings.TrimRight(issuer, "/")

	c.mu.Lock()
	cached, ok := c.issuerMeta[issuer]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	body, err := c.getJSON(ctx, issuer+"/.well-known/openid-credential-issuer")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issuer metadata: %w", err)
	}
	var metadata IssuerMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse issuer metadata: %w", err)
	}
	if metadata.CredentialEndpoint == "" {
		metadata.CredentialEndpoint = issuer + "/credential"
	}

	c.mu.Lock()
	c.issuerMeta[issuer] = &metadata
	c.mu.Unlock()
	return &metadata, nil
}

// authorizationServerMetadata resolves the OAuth authorization server
// metadata for an issuer: the first advertised authorization server, or the
// issuer itself. Both well-known spellings are tried.
func (c *Client) authorizationServerMetadata(ctx context.Context, issuer string, metadata *IssuerMetadata) (map[string]any, error) {
	authServer := strings.TrimRight(issuer, "/")
	if len(metadata.AuthorizationServers) > 0 {
		authServer = strings.TrimRight(metadata.AuthorizationServers[0], "/")
	}

	c.mu.Lock()
	cached, ok := c.authMeta[authServer]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var lastErr error
	for _, wellKnown := range []string{
		authServer + "/.well-known/openid-configuration",
		authServer + "/.well-known/oauth-authorization-server",
	} {
		body, err := c.getJSON(ctx, wellKnown)
		if err != nil {
			lastErr = err
			continue
		}
		var meta map[string]any
		if err := json.Unmarshal(body, &meta); err != nil {
			lastErr = err
			continue
		}
		c.mu.Lock()
		c.authMeta[authServer] = meta
		c.mu.Unlock()
		return meta, nil
	}
	return nil, fmt.Errorf("failed to fetch authorization server metadata: %w", lastErr)
}

// tokenEndpoint resolves the token endpoint for an issuer, falling back to
// the conventional path when no metadata names one.
func (c *Client) tokenEndpoint(ctx context.Context, issuer string, metadata *IssuerMetadata) string {
	if meta, err := c.authorizationServerMetadata(ctx, issuer, metadata); err == nil {
		if endpoint, ok := meta["token_endpoint"].(string); ok && endpoint != "" {
			return endpoint
		}
	}
	return strings.TrimRight(issuer, "/") + "/token"
}

// authorizationEndpoint resolves the authorization endpoint.
func (c *Client) authorizationEndpoint(ctx context.Context, issuer string, metadata *IssuerMetadata) string {
	if meta, err := c.authorizationServerMetadata(ctx, issuer, metadata); err == nil {
		if endpoint, ok := meta["authorization_endpoint"].(string); ok && endpoint != "" {
			return endpoint
		}
	}
	return strings.TrimRight(issuer, "/") + "/authorize"
}

func (c *Client) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, body)
	}
	return body, nil
}
