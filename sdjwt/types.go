// Package sdjwt parses SD-JWT credentials, resolves selective-disclosure
// digests, and re-encodes presentations that retain a subset of disclosures
// while preserving the issuer signature.
package sdjwt

// Token is a parsed SD-JWT.
type Token struct {
	Raw         string
	IssuerJWT   string
	Header      map[string]any
	Payload     map[string]any
	Signature   []byte
	Disclosures []Disclosure
	KeyBinding  *JWT
	// ResolvedClaims is the claim set after resolving every _sd digest.
	ResolvedClaims map[string]any
}

// JWT is a decoded compact JWT.
type JWT struct {
	Raw       string
	Header    map[string]any
	Payload   map[string]any
	Signature []byte
}

// Disclosure is one salt-name-value (or salt-value for array entries)
// disclosure.
type Disclosure struct {
	Raw          string // base64url-encoded
	Salt         string
	Name         string // empty for array entry disclosures
	Value        any
	Digest       string // base64url digest under _sd_alg
	IsArrayEntry bool
}
