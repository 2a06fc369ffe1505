package openid4vp

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/spruceid/mobile-sdk-go/credential"
)

// VpToken maps credential query ids to their presentation items. Values are
// arrays so one query can be answered by several credentials.
type VpToken map[string][]string

// SubmitResult is what the verifier's response endpoint hands back.
type SubmitResult struct {
	// RedirectURI is where the verifier wants the user sent next, when it
	// supplied one.
	RedirectURI string
}

// Respond assembles the vp_token from the user's selections, encodes the
// authorization response per the request's response mode, and posts it to
// the response_uri.
func (p *PermissionRequest) Respond(ctx context.Context, response *PermissionResponse) (*SubmitResult, error) {
	vpToken, err := p.assembleVpToken(ctx, response)
	if err != nil {
		return nil, err
	}
	form, err := p.encodeResponse(vpToken)
	if err != nil {
		return nil, err
	}
	return p.holder.postResponse(ctx, p.Request.ResponseURI, form)
}

// AssembleVpToken builds the vp_token without submitting, for callers that
// transport the response themselves.
func (p *PermissionRequest) AssembleVpToken(ctx context.Context, response *PermissionResponse) (VpToken, error) {
	return p.assembleVpToken(ctx, response)
}

func (p *PermissionRequest) assembleVpToken(ctx context.Context, response *PermissionResponse) (VpToken, error) {
	if response == nil || len(response.Selections) == 0 {
		return nil, fmt.Errorf("permission response carries no selections")
	}

	opts, err := p.presentationOptions()
	if err != nil {
		return nil, err
	}

	vpToken := make(VpToken, len(response.Selections))
	for _, sel := range response.Selections {
		cred, err := p.credentialFor(sel)
		if err != nil {
			return nil, err
		}
		if sel.SelectedFields != nil && len(sel.SelectedFields) == 0 {
			return nil, fmt.Errorf("%w: query %s", ErrEmptySelection, sel.QueryID)
		}
		item, err := cred.VPTokenItem(ctx, opts, sel.SelectedFields)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble presentation for query %s: %w", sel.QueryID, err)
		}
		vpToken[sel.QueryID] = append(vpToken[sel.QueryID], item)
	}
	return vpToken, nil
}

// presentationOptions derives the per-format assembly inputs from the
// request. Encrypted responses bind the verifier's key thumbprint into mdoc
// handovers.
func (p *PermissionRequest) presentationOptions() (credential.PresentationOptions, error) {
	opts := credential.PresentationOptions{
		ClientID:    p.Request.ClientID,
		Nonce:       p.Request.Nonce,
		ResponseURI: p.Request.ResponseURI,
		Signer:      p.holder.signer,
		Keystore:    p.holder.keystore,
		ContextMap:  p.holder.contextMap,
		Holder:      p.holder.holderDID,
	}
	if p.Request.ResponseMode == ResponseModeDirectPostJWT {
		key, err := p.Request.ClientMetadata.EncryptionKey()
		if err != nil {
			return opts, err
		}
		thumbprint, err := key.Thumbprint(crypto.SHA256)
		if err != nil {
			return opts, fmt.Errorf("failed to compute encryption key thumbprint: %w", err)
		}
		opts.EncryptionJWKThumbprint = thumbprint
	}
	return opts, nil
}

// encodeResponse renders the authorization response form body: plain
// vp_token for direct_post, a JWE for direct_post.jwt.
func (p *PermissionRequest) encodeResponse(vpToken VpToken) (url.Values, error) {
	tokenJSON, err := json.Marshal(vpToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vp_token: %w", err)
	}

	form := url.Values{}
	switch p.Request.ResponseMode {
	case ResponseModeDirectPost:
		form.Set("vp_token", string(tokenJSON))
		if p.Request.State != "" {
			form.Set("state", p.Request.State)
		}
		return form, nil

	case ResponseModeDirectPostJWT:
		payload := map[string]any{"vp_token": json.RawMessage(tokenJSON)}
		if p.Request.State != "" {
			payload["state"] = p.Request.State
		}
		jwe, err := p.encryptResponse(payload)
		if err != nil {
			return nil, err
		}
		form.Set("response", jwe)
		if p.Request.State != "" {
			form.Set("state", p.Request.State)
		}
		return form, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResponseMode, p.Request.ResponseMode)
	}
}

// encryptResponse builds the direct_post.jwt JWE: ECDH-ES with A128GCM
// unless the verifier's metadata names another enc, keyed to the verifier's
// encryption JWK.
func (p *PermissionRequest) encryptResponse(payload map[string]any) (string, error) {
	key, err := p.Request.ClientMetadata.EncryptionKey()
	if err != nil {
		return "", err
	}

	enc := jose.A128GCM
	if p.Request.ClientMetadata != nil && p.Request.ClientMetadata.AuthorizationEncryptedResponseEnc != "" {
		enc = jose.ContentEncryption(p.Request.ClientMetadata.AuthorizationEncryptedResponseEnc)
	}

	recipient := jose.Recipient{Algorithm: jose.ECDH_ES, Key: key.Key}
	if key.KeyID != "" {
		recipient.KeyID = key.KeyID
	}
	encrypter, err := jose.NewEncrypter(enc, recipient, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create response encrypter: %w", err)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	jwe, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt response: %w", err)
	}
	return jwe.CompactSerialize()
}

// postResponse submits the form and surfaces the verifier's redirect, if
// any.
func (h *Holder) postResponse(ctx context.Context, responseURI string, form url.Values) (*SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to post authorization response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("response endpoint returned %d: %s", resp.StatusCode, body)
	}

	var outcome struct {
		RedirectURI string `json:"redirect_uri"`
	}
	if len(body) > 0 {
		// A non-JSON body just means no redirect.
		_ = json.Unmarshal(body, &outcome)
	}
	return &SubmitResult{RedirectURI: outcome.RedirectURI}, nil
}
