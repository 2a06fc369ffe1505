package openid4vp

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spruceid/mobile-sdk-go/credential"
	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/keystore"
)

// Holder drives OID4VP presentations from the wallet side. It is safe for
// concurrent use; each ProcessRequest produces an independent
// PermissionRequest.
type Holder struct {
	credentials []credential.Credential
	collection  *credential.VdcCollection
	trustedDIDs []string
	signer      keystore.Signer
	keystore    keystore.Keystore
	contextMap  map[string]any
	holderDID   string
	roots       *x509.CertPool
	http        HTTPClient
	metadata    WalletMetadata
}

// HolderOption configures optional holder capabilities.
type HolderOption func(*Holder)

// WithTrustedDIDs restricts decentralized_identifier clients to the given
// set. An empty set trusts any resolvable DID.
func WithTrustedDIDs(dids []string) HolderOption {
	return func(h *Holder) { h.trustedDIDs = dids }
}

// WithKeystore supplies the key resolver mdoc presentations need.
func WithKeystore(ks keystore.Keystore) HolderOption {
	return func(h *Holder) { h.keystore = ks }
}

// WithContextMap supplies pre-fetched JSON-LD contexts for ldp_vc
// presentations.
func WithContextMap(contexts map[string]any) HolderOption {
	return func(h *Holder) { h.contextMap = contexts }
}

// WithHolderDID sets the holder identifier placed into presentations.
func WithHolderDID(did string) HolderOption {
	return func(h *Holder) { h.holderDID = did }
}

// WithTrustRoots enables chain validation for x509-prefixed clients.
func WithTrustRoots(roots *x509.CertPool) HolderOption {
	return func(h *Holder) { h.roots = roots }
}

// WithHTTPClient replaces the transport used for request_uri resolution and
// response submission.
func WithHTTPClient(client HTTPClient) HolderOption {
	return func(h *Holder) { h.http = client }
}

// NewHolder builds a holder over an explicit credential list.
func NewHolder(signer keystore.Signer, credentials []credential.Credential, opts ...HolderOption) *Holder {
	h := &Holder{
		credentials: credentials,
		signer:      signer,
		http:        http.DefaultClient,
		metadata:    DefaultWalletMetadata(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewHolderFromCollection builds a holder whose credentials come from the
// VDC collection at request time.
func NewHolderFromCollection(signer keystore.Signer, collection *credential.VdcCollection, opts ...HolderOption) *Holder {
	h := NewHolder(signer, nil, opts...)
	h.collection = collection
	return h
}

// Metadata returns the wallet's advertised capability set.
func (h *Holder) Metadata() WalletMetadata { return h.metadata }

func (h *Holder) heldCredentials(ctx context.Context) ([]credential.Credential, error) {
	if h.collection != nil {
		return h.collection.All(ctx)
	}
	return h.credentials, nil
}

// ProcessRequest validates an incoming authorization request, matches its
// DCQL query against held credentials, and produces the permission request
// the UI presents for consent. input is either an invocation URL or a
// serialised request object.
func (h *Holder) ProcessRequest(ctx context.Context, input string) (*PermissionRequest, error) {
	request, err := h.resolveRequest(ctx, strings.TrimSpace(input))
	if err != nil {
		return nil, err
	}
	if err := request.validate(); err != nil {
		return nil, err
	}

	held, err := h.heldCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return h.newPermissionRequest(request, held)
}

// resolveRequest turns the raw input into an authenticated request object.
func (h *Holder) resolveRequest(ctx context.Context, input string) (*AuthorizationRequest, error) {
	if !strings.Contains(input, "://") {
		return h.verifyRequestObject(input)
	}

	parsed, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request URL: %w", err)
	}
	values := parsed.Query()

	if requestURI := values.Get("request_uri"); requestURI != "" {
		raw, err := fetchRequestObject(ctx, h.http, requestURI)
		if err != nil {
			return nil, err
		}
		return h.verifyRequestObject(raw)
	}
	if raw := values.Get("request"); raw != "" {
		return h.verifyRequestObject(raw)
	}

	// Bare query parameters carry no signature; treat like an unsigned
	// request object.
	request, err := requestFromQuery(values)
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

// newPermissionRequest matches the query and groups the results into
// consent requirements.
func (h *Holder) newPermissionRequest(request *AuthorizationRequest, held []credential.Credential) (*PermissionRequest, error) {
	matches := make(map[string][]MatchedCredential)
	anyMatch := false
	for _, query := range request.DCQLQuery.Credentials {
		for _, cred := range held {
			if !credential.SatisfiesDCQL(cred, query) {
				continue
			}
			matches[query.ID] = append(matches[query.ID], MatchedCredential{
				QueryID:         query.ID,
				Credential:      cred,
				RequestedFields: cred.RequestedFields(query),
			})
			anyMatch = true
		}
	}
	if !anyMatch {
		return nil, ErrNoCredentialsFound
	}

	return &PermissionRequest{
		Request:      request,
		Query:        request.DCQLQuery,
		Requirements: buildRequirements(request.DCQLQuery, matches),
		matches:      matches,
		holder:       h,
	}, nil
}

// buildRequirements groups matched queries for consent. credential_sets
// become OR-requirements over their options; queries outside any set stand
// alone.
func buildRequirements(query *dcql.Query, matches map[string][]MatchedCredential) []Requirement {
	inSet := make(map[string]bool)
	var requirements []Requirement

	for _, set := range query.CredentialSets {
		required := set.Required == nil || *set.Required
		req := Requirement{Required: required}
		for _, option := range set.Options {
			for _, id := range option {
				inSet[id] = true
				req.Alternatives = append(req.Alternatives, QueryAlternative{
					QueryID:     id,
					DisplayName: credential.HumanizeIdentifier(id),
					Credentials: matches[id],
				})
			}
		}
		if len(req.Alternatives) > 0 {
			req.DisplayName = req.Alternatives[0].DisplayName
			requirements = append(requirements, req)
		}
	}

	for _, cq := range query.Credentials {
		if inSet[cq.ID] {
			continue
		}
		requirements = append(requirements, Requirement{
			DisplayName: credential.HumanizeIdentifier(cq.ID),
			Required:    true,
			Alternatives: []QueryAlternative{{
				QueryID:     cq.ID,
				DisplayName: credential.HumanizeIdentifier(cq.ID),
				Credentials: matches[cq.ID],
			}},
		})
	}
	return requirements
}
