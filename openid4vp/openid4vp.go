// Package openid4vp implements the OID4VP 1.0 holder: authorization-request
// validation, DCQL matching against held credentials, consent-gated
// verifiable-presentation assembly, and response submission. A small
// verifier-side surface decodes the responses for the demo server and tests.
package openid4vp

import (
	"errors"
	"net/http"
)

var (
	// ErrUnsupportedResponseMode is returned for response modes other than
	// direct_post and direct_post.jwt.
	ErrUnsupportedResponseMode = errors.New("openid4vp: unsupported response mode")
	// ErrUnsupportedClientIDPrefix is returned when the client_id prefix is
	// not one the wallet advertises.
	ErrUnsupportedClientIDPrefix = errors.New("openid4vp: unsupported client_id prefix")
	// ErrUntrustedVerifier is returned when a DID client is not in the
	// trusted set, or an x509 client fails chain validation.
	ErrUntrustedVerifier = errors.New("openid4vp: verifier not trusted")
	// ErrNoCredentialsFound is returned when no held credential satisfies
	// any credential query.
	ErrNoCredentialsFound = errors.New("openid4vp: no matching credentials")
	// ErrEmptySelection is returned when a requirement demanding selective
	// disclosure receives an explicitly empty selection.
	ErrEmptySelection = errors.New("openid4vp: empty selective disclosure selection")
	// ErrInvalidSelectedCredential is returned when a response selection
	// names a credential that did not match the query.
	ErrInvalidSelectedCredential = errors.New("openid4vp: selected credential does not match query")
	// ErrMissingEncryptionKey is returned for direct_post.jwt requests whose
	// client metadata carries no usable encryption JWK.
	ErrMissingEncryptionKey = errors.New("openid4vp: verifier supplied no encryption key")
)

// Response modes the holder accepts.
const (
	ResponseModeDirectPost    = "direct_post"
	ResponseModeDirectPostJWT = "direct_post.jwt"
)

// client_id prefixes per OID4VP 1.0 section 5.9.
const (
	PrefixDecentralizedIdentifier = "decentralized_identifier"
	PrefixRedirectURI             = "redirect_uri"
	PrefixX509SanDNS              = "x509_san_dns"
	PrefixX509Hash                = "x509_hash"
)

// HTTPClient is the transport capability the host injects.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WalletMetadata is the fixed capability set the wallet advertises.
type WalletMetadata struct {
	VPFormatsSupported                     map[string]any `json:"vp_formats_supported"`
	ClientIDPrefixesSupported              []string       `json:"client_id_prefixes_supported"`
	RequestObjectSigningAlgValuesSupported []string       `json:"request_object_signing_alg_values_supported"`
	ResponseModesSupported                 []string       `json:"response_modes_supported"`
}

// DefaultWalletMetadata describes this implementation.
func DefaultWalletMetadata() WalletMetadata {
	return WalletMetadata{
		VPFormatsSupported: map[string]any{
			"jwt_vc_json": map[string]any{"alg_values_supported": []string{"ES256"}},
			"ldp_vc":      map[string]any{"proof_type_values_supported": []string{"DataIntegrityProof"}},
			"mso_mdoc":    map[string]any{},
			"dc+sd-jwt": map[string]any{
				"sd-jwt_alg_values": []string{"ES256"},
				"kb-jwt_alg_values": []string{"ES256"},
			},
		},
		ClientIDPrefixesSupported: []string{
			PrefixDecentralizedIdentifier,
			PrefixRedirectURI,
			PrefixX509SanDNS,
			PrefixX509Hash,
		},
		RequestObjectSigningAlgValuesSupported: []string{"ES256"},
		ResponseModesSupported:                 []string{ResponseModeDirectPost, ResponseModeDirectPostJWT},
	}
}
