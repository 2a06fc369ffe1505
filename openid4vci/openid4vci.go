// Package openid4vci implements the OID4VCI issuance client: credential
// offer resolution, the pre-authorized and authorization-code token flows,
// credential exchange, and proof-of-possession JWTs. Flow states are
// one-shot; a state that has been proceeded from cannot be replayed.
package openid4vci

import (
	"errors"
	"net/http"
	"sync"
)

var (
	// ErrAlreadyProceeded is returned when a flow state is proceeded from
	// twice.
	ErrAlreadyProceeded = errors.New("openid4vci: state already proceeded")
	// ErrUnsupportedGrant is returned for offers carrying none of the
	// supported grant types.
	ErrUnsupportedGrant = errors.New("openid4vci: offer carries no supported grant")
	// ErrInvalidOffer is returned when the offer JSON fails schema
	// validation.
	ErrInvalidOffer = errors.New("openid4vci: invalid credential offer")
)

// HTTPClient is the transport capability the host injects.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client drives issuance flows against one or more credential issuers.
// Well-known metadata is cached per issuer; the cache is safe for
// concurrent use.
type Client struct {
	http HTTPClient

	mu         sync.Mutex
	issuerMeta map[string]*IssuerMetadata
	authMeta   map[string]map[string]any
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport used for all issuer traffic.
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) { c.http = client }
}

// NewClient builds an issuance client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:       http.DefaultClient,
		issuerMeta: make(map[string]*IssuerMetadata),
		authMeta:   make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
