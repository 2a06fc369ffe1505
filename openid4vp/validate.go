package openid4vp

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// verifyRequestObject authenticates a serialised request object and returns
// the validated request. The verification path depends on the client_id
// prefix; unsigned request objects are only acceptable for redirect_uri
// clients.
func (h *Holder) verifyRequestObject(raw string) (*AuthorizationRequest, error) {
	header, err := peekJWTHeader(raw)
	if err != nil {
		return nil, err
	}

	if alg, _ := header["alg"].(string); alg == "none" || alg == "" {
		return h.acceptUnsignedRequest(raw)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"ES256"}))
	var chain []*x509.Certificate
	_, err = parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		key, certs, err := h.requestObjectKey(token)
		chain = certs
		return key, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify request object: %w", err)
	}

	request, err := requestFromClaims(claims)
	if err != nil {
		return nil, err
	}
	if err := h.checkClientIdentity(request, chain); err != nil {
		return nil, err
	}
	return request, nil
}

// acceptUnsignedRequest handles the alg=none path: permitted only for
// redirect_uri clients, whose identity is their response endpoint.
func (h *Holder) acceptUnsignedRequest(raw string) (*AuthorizationRequest, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed request object")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode request object payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse request object payload: %w", err)
	}
	request, err := requestFromClaims(claims)
	if err != nil {
		return nil, err
	}

	prefix, value, err := request.ClientIDPrefix()
	if err != nil {
		return nil, err
	}
	if prefix != PrefixRedirectURI {
		return nil, fmt.Errorf("%w: unsigned request from %s client", ErrUntrustedVerifier, prefix)
	}
	if request.ResponseURI != value {
		return nil, fmt.Errorf("%w: response_uri does not match redirect_uri client_id", ErrUntrustedVerifier)
	}
	return request, nil
}

// requestObjectKey resolves the verification key for a signed request
// object from the unverified header and claims.
func (h *Holder) requestObjectKey(token *jwt.Token) (*ecdsa.PublicKey, []*x509.Certificate, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected claims type")
	}
	clientID, _ := claims["client_id"].(string)
	request := AuthorizationRequest{ClientID: clientID}
	prefix, _, err := request.ClientIDPrefix()
	if err != nil {
		return nil, nil, err
	}

	switch prefix {
	case PrefixX509SanDNS, PrefixX509Hash:
		chain, err := parseX5CHeader(token.Header)
		if err != nil {
			return nil, nil, err
		}
		key, ok := chain[0].PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, nil, fmt.Errorf("request signer certificate is not ECDSA")
		}
		return key, chain, nil

	case PrefixDecentralizedIdentifier, PrefixRedirectURI:
		did, _ := token.Header["kid"].(string)
		if did == "" {
			did, _ = claims["iss"].(string)
		}
		if did == "" {
			return nil, nil, fmt.Errorf("signed request carries no kid or iss to resolve")
		}
		key, err := resolveDID(did)
		if err != nil {
			return nil, nil, err
		}
		return key, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedClientIDPrefix, prefix)
	}
}

// checkClientIdentity binds the verified signature back to the client_id.
func (h *Holder) checkClientIdentity(request *AuthorizationRequest, chain []*x509.Certificate) error {
	prefix, value, err := request.ClientIDPrefix()
	if err != nil {
		return err
	}

	switch prefix {
	case PrefixX509SanDNS:
		if len(chain) == 0 {
			return fmt.Errorf("%w: no certificate chain", ErrUntrustedVerifier)
		}
		if err := chain[0].VerifyHostname(value); err != nil {
			return fmt.Errorf("%w: certificate does not cover %q", ErrUntrustedVerifier, value)
		}
		return h.verifyChain(chain)

	case PrefixX509Hash:
		if len(chain) == 0 {
			return fmt.Errorf("%w: no certificate chain", ErrUntrustedVerifier)
		}
		digest := sha256.Sum256(chain[0].Raw)
		if base64.RawURLEncoding.EncodeToString(digest[:]) != value {
			return fmt.Errorf("%w: certificate hash does not match client_id", ErrUntrustedVerifier)
		}
		return h.verifyChain(chain)

	case PrefixDecentralizedIdentifier:
		if len(h.trustedDIDs) == 0 {
			return nil
		}
		for _, did := range h.trustedDIDs {
			if did == value {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrUntrustedVerifier, value)

	case PrefixRedirectURI:
		if request.ResponseURI != value {
			return fmt.Errorf("%w: response_uri does not match redirect_uri client_id", ErrUntrustedVerifier)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedClientIDPrefix, prefix)
	}
}

// verifyChain validates the request signer chain against the injected trust
// anchors. Without anchors the chain is accepted as presented.
func (h *Holder) verifyChain(chain []*x509.Certificate) error {
	if h.roots == nil {
		return nil
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	if _, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         h.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedVerifier, err)
	}
	return nil
}

func parseX5CHeader(header map[string]interface{}) ([]*x509.Certificate, error) {
	rawChain, ok := header["x5c"].([]interface{})
	if !ok || len(rawChain) == 0 {
		return nil, fmt.Errorf("request object carries no x5c header")
	}
	chain := make([]*x509.Certificate, 0, len(rawChain))
	for i, entry := range rawChain {
		encoded, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("invalid x5c entry %d", i)
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode x5c entry %d: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse x5c entry %d: %w", i, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

func peekJWTHeader(raw string) (map[string]any, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed request object")
	}
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode request object header: %w", err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse request object header: %w", err)
	}
	return header, nil
}
