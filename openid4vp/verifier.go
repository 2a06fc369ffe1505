package openid4vp

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	jose "gopkg.in/square/go-jose.v2"
)

// AuthorizationResponse is the holder's answer as seen by a verifier's
// response endpoint.
type AuthorizationResponse struct {
	VpToken VpToken
	State   string
}

// ParseDirectPost reads a plain direct_post authorization response from the
// request body.
func ParseDirectPost(r *http.Request) (*AuthorizationResponse, error) {
	values, err := parseFormBody(r)
	if err != nil {
		return nil, err
	}
	raw := values.Get("vp_token")
	if raw == "" {
		return nil, fmt.Errorf("vp_token parameter is missing")
	}

	var token VpToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("failed to parse vp_token: %w", err)
	}
	return &AuthorizationResponse{VpToken: token, State: values.Get("state")}, nil
}

// ParseDirectPostJWT reads a direct_post.jwt response, decrypting the JWE
// with the verifier's encryption key. The state inside the JWE must match
// the form's state parameter when both are present.
func ParseDirectPostJWT(r *http.Request, encKey *ecdsa.PrivateKey) (*AuthorizationResponse, error) {
	values, err := parseFormBody(r)
	if err != nil {
		return nil, err
	}
	raw := values.Get("response")
	if raw == "" {
		return nil, fmt.Errorf("response parameter is missing")
	}

	jwe, err := jose.ParseEncrypted(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response JWE: %w", err)
	}
	decrypted, err := jwe.Decrypt(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt response: %w", err)
	}

	var payload struct {
		VpToken VpToken `json:"vp_token"`
		State   string  `json:"state"`
	}
	if err := json.Unmarshal(decrypted, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted response: %w", err)
	}
	if formState := values.Get("state"); formState != "" && payload.State != formState {
		return nil, fmt.Errorf("state mismatch between form and response")
	}
	return &AuthorizationResponse{VpToken: payload.VpToken, State: payload.State}, nil
}

func parseFormBody(r *http.Request) (url.Values, error) {
	if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		return nil, fmt.Errorf("unexpected Content-Type: %s", ct)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	defer r.Body.Close()

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse form body: %w", err)
	}
	return values, nil
}
