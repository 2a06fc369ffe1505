// Package ldproof creates and verifies W3C Data Integrity proofs over
// JSON-LD documents. Canonicalization uses the URDNA2015 RDF dataset
// algorithm; context documents come from an injected map so the wallet
// never fetches contexts over the network mid-presentation.
package ldproof

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/piprate/json-gold/ld"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/ecsig"
)

// Suite names a supported proof cryptosuite.
type Suite string

const (
	// SuiteEcdsaRdfc2019 is the ecdsa-rdfc-2019 Data Integrity cryptosuite.
	SuiteEcdsaRdfc2019 Suite = "ecdsa-rdfc-2019"
	// SuiteJSONWebSignature2020 secures the document with a detached JWS.
	SuiteJSONWebSignature2020 Suite = "JsonWebSignature2020"
)

// Proof is the proof block attached to a signed document.
type Proof struct {
	Type               string `json:"type"`
	Cryptosuite        string `json:"cryptosuite,omitempty"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	Challenge          string `json:"challenge,omitempty"`
	Domain             string `json:"domain,omitempty"`
	ProofValue         string `json:"proofValue,omitempty"`
	JWS                string `json:"jws,omitempty"`
}

// Options configures proof creation.
type Options struct {
	Suite              Suite
	VerificationMethod string
	// ProofPurpose defaults to "authentication", the purpose presentation
	// proofs carry.
	ProofPurpose string
	Challenge    string
	Domain       string
	// Created defaults to the current time.
	Created time.Time
	// Contexts maps context URLs to pre-fetched context documents.
	Contexts map[string]any
}

// contextLoader serves JSON-LD contexts from the injected map only. A
// context absent from the map is an error rather than a network fetch.
type contextLoader struct {
	docs map[string]any
}

func (l contextLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	doc, ok := l.docs[u]
	if !ok {
		return nil, fmt.Errorf("JSON-LD context not available: %s", u)
	}
	return &ld.RemoteDocument{DocumentURL: u, Document: doc}, nil
}

func canonicalize(doc map[string]any, contexts map[string]any) ([]byte, error) {
	opts := ld.NewJsonLdOptions("")
	opts.ProcessingMode = ld.JsonLd_1_1
	opts.Algorithm = "URDNA2015"
	opts.Format = "application/n-quads"
	opts.ProduceGeneralizedRdf = true
	opts.DocumentLoader = contextLoader{docs: contexts}

	view, err := ld.NewJsonLdProcessor().Normalize(doc, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize JSON-LD document: %w", err)
	}
	result, ok := view.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected normalization result type %T", view)
	}
	return []byte(result), nil
}

// signingInput computes the composite digest the cryptosuites sign: the
// canonical proof options hash followed by the canonical document hash.
func signingInput(doc map[string]any, proof Proof, contexts map[string]any) ([]byte, error) {
	unsigned := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "proof" {
			unsigned[k] = v
		}
	}
	docCanon, err := canonicalize(unsigned, contexts)
	if err != nil {
		return nil, err
	}

	proof.ProofValue = ""
	proof.JWS = ""
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof options: %w", err)
	}
	var proofDoc map[string]any
	if err := json.Unmarshal(proofJSON, &proofDoc); err != nil {
		return nil, fmt.Errorf("failed to rebuild proof options: %w", err)
	}
	// Proof options canonicalize in the document's context.
	if ctx, ok := unsigned["@context"]; ok {
		proofDoc["@context"] = ctx
	}
	proofCanon, err := canonicalize(proofDoc, contexts)
	if err != nil {
		return nil, err
	}

	proofHash := sha256.Sum256(proofCanon)
	docHash := sha256.Sum256(docCanon)
	return append(proofHash[:], docHash[:]...), nil
}

// jwsHeader is the fixed detached-JWS protected header JsonWebSignature2020
// uses: unencoded payload, ES256.
const jwsHeader = `{"alg":"ES256","b64":false,"crit":["b64"]}`

// Sign attaches a proof to the document and returns a copy; the input
// document is not modified.
func Sign(ctx context.Context, signer keystore.Signer, doc map[string]any, opts Options) (map[string]any, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if opts.VerificationMethod == "" {
		return nil, fmt.Errorf("verification method cannot be empty")
	}
	if opts.ProofPurpose == "" {
		opts.ProofPurpose = "authentication"
	}
	if opts.Created.IsZero() {
		opts.Created = time.Now()
	}

	proof := Proof{
		Created:            opts.Created.UTC().Format(time.RFC3339),
		VerificationMethod: opts.VerificationMethod,
		ProofPurpose:       opts.ProofPurpose,
		Challenge:          opts.Challenge,
		Domain:             opts.Domain,
	}
	switch opts.Suite {
	case SuiteEcdsaRdfc2019, "":
		proof.Type = "DataIntegrityProof"
		proof.Cryptosuite = string(SuiteEcdsaRdfc2019)
	case SuiteJSONWebSignature2020:
		proof.Type = string(SuiteJSONWebSignature2020)
	default:
		return nil, fmt.Errorf("unsupported cryptosuite %q", opts.Suite)
	}

	input, err := signingInput(doc, proof, opts.Contexts)
	if err != nil {
		return nil, err
	}

	switch opts.Suite {
	case SuiteJSONWebSignature2020:
		headerB64 := base64.RawURLEncoding.EncodeToString([]byte(jwsHeader))
		sig, err := signer.Sign(ctx, []byte(headerB64+"."+string(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to sign presentation: %w", err)
		}
		raw, err := ecsig.EnsureRawFixedWidth(sig)
		if err != nil {
			return nil, fmt.Errorf("failed to normalise signature: %w", err)
		}
		proof.JWS = headerB64 + ".." + base64.RawURLEncoding.EncodeToString(raw)
	default:
		sig, err := signer.Sign(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to sign presentation: %w", err)
		}
		raw, err := ecsig.EnsureRawFixedWidth(sig)
		if err != nil {
			return nil, fmt.Errorf("failed to normalise signature: %w", err)
		}
		// Multibase base64url, no padding.
		proof.ProofValue = "u" + base64.RawURLEncoding.EncodeToString(raw)
	}

	signed := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		signed[k] = v
	}
	var proofMap map[string]any
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof: %w", err)
	}
	if err := json.Unmarshal(proofJSON, &proofMap); err != nil {
		return nil, fmt.Errorf("failed to rebuild proof: %w", err)
	}
	signed["proof"] = proofMap
	return signed, nil
}

// Verify checks the document's proof against the holder public key. Both
// cryptosuites are accepted; documents with multiple proofs verify each.
func Verify(doc map[string]any, pub *ecdsa.PublicKey, contexts map[string]any) error {
	if pub == nil {
		return fmt.Errorf("public key cannot be nil")
	}
	proofs, err := extractProofs(doc)
	if err != nil {
		return err
	}

	for i, proof := range proofs {
		input, err := signingInput(doc, proof, contexts)
		if err != nil {
			return err
		}
		switch {
		case proof.JWS != "":
			parts := strings.Split(proof.JWS, ".")
			if len(parts) != 3 {
				return fmt.Errorf("proof %d: malformed detached JWS", i)
			}
			sig, err := base64.RawURLEncoding.DecodeString(parts[2])
			if err != nil {
				return fmt.Errorf("proof %d: failed to decode JWS signature: %w", i, err)
			}
			digest := sha256.Sum256([]byte(parts[0] + "." + string(input)))
			if !ecsig.Verify(pub, digest[:], sig) {
				return fmt.Errorf("proof %d: signature verification failed", i)
			}
		case proof.ProofValue != "":
			encoded := strings.TrimPrefix(proof.ProofValue, "u")
			sig, err := base64.RawURLEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("proof %d: failed to decode proofValue: %w", i, err)
			}
			digest := sha256.Sum256(input)
			if !ecsig.Verify(pub, digest[:], sig) {
				return fmt.Errorf("proof %d: signature verification failed", i)
			}
		default:
			return fmt.Errorf("proof %d has neither proofValue nor jws", i)
		}
	}
	return nil
}

func extractProofs(doc map[string]any) ([]Proof, error) {
	raw, ok := doc["proof"]
	if !ok {
		return nil, fmt.Errorf("document has no proof")
	}
	var entries []any
	switch p := raw.(type) {
	case []any:
		entries = p
	default:
		entries = []any{p}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("document has no proof")
	}

	proofs := make([]Proof, 0, len(entries))
	for i, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("proof %d has unexpected type %T", i, entry)
		}
		encoded, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("proof %d: %w", i, err)
		}
		var proof Proof
		if err := json.Unmarshal(encoded, &proof); err != nil {
			return nil, fmt.Errorf("proof %d: %w", i, err)
		}
		proofs = append(proofs, proof)
	}
	return proofs, nil
}
