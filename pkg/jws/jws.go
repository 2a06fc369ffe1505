// Package jws assembles compact JWS strings with signatures produced by an
// injected keystore signer. Platform keystores may hand back DER-encoded
// ECDSA signatures; JWS wants raw r||s, so every signature is normalised
// before encoding.
package jws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/ecsig"
)

// SignCompact builds header.payload.signature from JSON-marshalable header
// and claims maps.
func SignCompact(ctx context.Context, signer keystore.Signer, header, claims map[string]any) (string, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JWS header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JWS claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	sig, err := signer.Sign(ctx, []byte(signingInput))
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	raw, err := ecsig.EnsureRawFixedWidth(sig)
	if err != nil {
		return "", fmt.Errorf("failed to normalise signature: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Header builds the usual {alg, typ} header for a signer.
func Header(signer keystore.Signer, typ string) map[string]any {
	h := map[string]any{"alg": string(signer.Algorithm())}
	if typ != "" {
		h["typ"] = typ
	}
	return h
}
