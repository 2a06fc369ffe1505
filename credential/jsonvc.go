package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/spruceid/mobile-sdk-go/dcql"
	"github.com/spruceid/mobile-sdk-go/pkg/ldproof"
)

const (
	contextCredentialsV1 = "https://www.w3.org/2018/credentials/v1"
	contextCredentialsV2 = "https://www.w3.org/ns/credentials/v2"
)

// JsonVc is a JSON-LD Verifiable Credential secured with an embedded
// data-integrity proof (ldp_vc), VCDM 1.1 or 2.0.
type JsonVc struct {
	id             string
	keyAlias       string
	raw            []byte
	doc            map[string]any
	types          []string
	schemaWarnings []string
}

// NewJsonVc parses an ldp_vc credential. Proof verification happens against
// issuer trust anchors at receipt time, not here.
func NewJsonVc(payload []byte, keyAlias string) (*JsonVc, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON credential: %w", err)
	}
	if _, ok := doc["@context"]; !ok {
		return nil, fmt.Errorf("JSON credential missing @context")
	}
	types := typeStrings(doc["type"])
	if len(types) == 0 {
		return nil, fmt.Errorf("JSON credential missing type")
	}
	return &JsonVc{
		id:             uuid.NewString(),
		keyAlias:       keyAlias,
		raw:            payload,
		doc:            doc,
		types:          types,
		schemaWarnings: validateCredentialSchema(doc, payload),
	}, nil
}

// SchemaWarnings reports credentialSchema validation failures recorded at
// parse time. Schema failures never reject a credential; they are surfaced
// for the wallet to log or display.
func (c *JsonVc) SchemaWarnings() []string { return c.schemaWarnings }

// validateCredentialSchema checks the document against each credentialSchema
// entry of type JsonSchema. Schemas are fetched by their id; fetch failures
// become warnings too.
func validateCredentialSchema(doc map[string]any, raw []byte) []string {
	var warnings []string
	for _, entry := range schemaEntries(doc["credentialSchema"]) {
		id, _ := entry["id"].(string)
		kind, _ := entry["type"].(string)
		if id == "" || kind != "JsonSchema" {
			continue
		}
		result, err := gojsonschema.Validate(gojsonschema.NewReferenceLoader(id), gojsonschema.NewBytesLoader(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("schema %s: %v", id, err))
			continue
		}
		for _, desc := range result.Errors() {
			warnings = append(warnings, fmt.Sprintf("schema %s: %s", id, desc))
		}
	}
	return warnings
}

func schemaEntries(v any) []map[string]any {
	switch s := v.(type) {
	case map[string]any:
		return []map[string]any{s}
	case []any:
		var out []map[string]any
		for _, e := range s {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func (c *JsonVc) ID() string                      { return c.id }
func (c *JsonVc) KeyAlias() string                { return c.keyAlias }
func (c *JsonVc) Format() ClaimFormat             { return FormatLdpVc }
func (c *JsonVc) Type() string                    { return strings.Join(c.types, "+") }
func (c *JsonVc) PresentationFormat() ClaimFormat { return FormatLdpVp }
func (c *JsonVc) Payload() []byte                 { return c.raw }

// Document returns the parsed JSON-LD document.
func (c *JsonVc) Document() map[string]any { return c.doc }

// contextURI returns the credential's base context, deciding whether the
// presentation is assembled against VCDM 1.1 or 2.0.
func (c *JsonVc) contextURI() string {
	switch ctx := c.doc["@context"].(type) {
	case string:
		return ctx
	case []any:
		if len(ctx) > 0 {
			if s, ok := ctx[0].(string); ok {
				return s
			}
		}
	}
	return contextCredentialsV1
}

func (c *JsonVc) claimTree() map[string]any {
	tree := make(map[string]any, len(c.doc))
	for k, v := range c.doc {
		tree[k] = v
	}
	if subject, ok := c.doc["credentialSubject"].(map[string]any); ok {
		for k, v := range subject {
			if _, shadowed := tree[k]; !shadowed {
				tree[k] = v
			}
		}
	}
	return tree
}

func (c *JsonVc) Candidate() dcql.Candidate {
	return dcql.Candidate{
		ID:      c.id,
		Formats: []string{string(FormatLdpVc)},
		Claims:  c.claimTree(),
	}
}

func (c *JsonVc) RequestedFields(query dcql.CredentialQuery) []RequestedField {
	return requestedFieldsFromClaims(query, c.claimTree())
}

// DisplayClaims returns the parsed document. JSON-LD credentials are already
// JSON.
func (c *JsonVc) DisplayClaims() map[string]any { return c.doc }

// CryptosuiteSigner is the optional signer extension naming the proof
// cryptosuite the holder key supports. Signers without it get
// ecdsa-rdfc-2019.
type CryptosuiteSigner interface {
	Cryptosuite() string
}

// VPTokenItem wraps the credential in a data-integrity-signed JSON
// presentation with challenge = nonce and domain = client_id. JSON-LD VCs
// disclose whole; selectedFields is ignored.
func (c *JsonVc) VPTokenItem(ctx context.Context, opts PresentationOptions, _ []string) (string, error) {
	if opts.Signer == nil {
		return "", ErrMissingSigner
	}

	baseContext := c.contextURI()
	vp := map[string]any{
		"@context":             []any{baseContext},
		"type":                 []any{"VerifiablePresentation"},
		"id":                   "urn:uuid:" + uuid.NewString(),
		"verifiableCredential": []any{c.doc},
	}
	if opts.Holder != "" {
		vp["holder"] = opts.Holder
	}

	method, err := verificationMethod(opts)
	if err != nil {
		return "", err
	}
	suite := ldproof.SuiteEcdsaRdfc2019
	if cs, ok := opts.Signer.(CryptosuiteSigner); ok {
		if cs.Cryptosuite() == string(ldproof.SuiteJSONWebSignature2020) {
			suite = ldproof.SuiteJSONWebSignature2020
		}
	}

	signed, err := ldproof.Sign(ctx, opts.Signer, vp, ldproof.Options{
		Suite:              suite,
		VerificationMethod: method,
		ProofPurpose:       "authentication",
		Challenge:          opts.Nonce,
		Domain:             opts.ClientID,
		Contexts:           opts.ContextMap,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign JSON presentation: %w", err)
	}

	out, err := json.Marshal(signed)
	if err != nil {
		return "", fmt.Errorf("failed to encode presentation: %w", err)
	}
	return string(out), nil
}

// verificationMethod names the holder key in the proof: the holder DID's
// first key when a holder is set, otherwise a did:jwk derived from the
// signer's public key.
func verificationMethod(opts PresentationOptions) (string, error) {
	if opts.Holder != "" {
		return opts.Holder + "#key-1", nil
	}
	jwk, err := opts.Signer.JWK()
	if err != nil {
		return "", fmt.Errorf("failed to resolve signer key: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString([]byte(jwk))
	return "did:jwk:" + encoded + "#0", nil
}
