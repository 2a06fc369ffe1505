package openid4vci

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/jws"
)

// CreateJWTProof builds the openid4vci-proof+jwt proof of possession,
// embedding the signer's public JWK in the header.
func CreateJWTProof(ctx context.Context, signer keystore.Signer, issuer, audience string, expiry *time.Time, nonce string) (string, error) {
	if audience == "" {
		return "", fmt.Errorf("audience cannot be empty")
	}
	jwkJSON, err := signer.JWK()
	if err != nil {
		return "", fmt.Errorf("failed to export signer JWK: %w", err)
	}
	var jwk map[string]any
	if err := json.Unmarshal([]byte(jwkJSON), &jwk); err != nil {
		return "", fmt.Errorf("failed to parse signer JWK: %w", err)
	}

	header := jws.Header(signer, "openid4vci-proof+jwt")
	header["jwk"] = jwk

	claims := map[string]any{
		"aud": audience,
		"iat": time.Now().Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if expiry != nil {
		claims["exp"] = expiry.Unix()
	}

	token, err := jws.SignCompact(ctx, signer, header, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign proof JWT: %w", err)
	}
	return token, nil
}
