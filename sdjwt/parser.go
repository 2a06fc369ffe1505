package sdjwt

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
)

// Parse splits and decodes a compact SD-JWT
// (issuer-jwt~disclosure~...~[kb-jwt]).
func Parse(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, "~")
	if len(parts) < 1 || parts[0] == "" {
		return nil, fmt.Errorf("invalid SD-JWT: missing issuer JWT")
	}

	jwt, err := parseJWT(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer JWT: %w", err)
	}

	token := &Token{
		Raw:       raw,
		IssuerJWT: parts[0],
		Header:    jwt.Header,
		Payload:   jwt.Payload,
		Signature: jwt.Signature,
	}

	sdAlg := "sha-256"
	if alg, ok := token.Payload["_sd_alg"].(string); ok {
		sdAlg = strings.ToLower(alg)
	}

	for i := 1; i < len(parts); i++ {
		part := strings.TrimSpace(parts[i])
		if part == "" {
			continue
		}

		// The trailing part can be a key-binding JWT.
		if i == len(parts)-1 && strings.Count(part, ".") == 2 {
			kb, kbErr := parseJWT(part)
			if kbErr == nil {
				if typ, ok := kb.Header["typ"].(string); ok && typ == "kb+jwt" {
					token.KeyBinding = kb
					continue
				}
			}
		}

		disclosure, err := parseDisclosure(part, sdAlg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse disclosure %d: %w", i, err)
		}
		token.Disclosures = append(token.Disclosures, *disclosure)
	}

	token.ResolvedClaims = resolveClaims(token.Payload, token.Disclosures)
	return token, nil
}

func parseJWT(raw string) (*JWT, error) {
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("expected 3 JWT segments, got %d", len(segments))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT header: %w", err)
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT signature: %w", err)
	}

	var header, payload map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse JWT header: %w", err)
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse JWT payload: %w", err)
	}

	return &JWT{Raw: raw, Header: header, Payload: payload, Signature: signature}, nil
}

func parseDisclosure(raw, sdAlg string) (*Disclosure, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode disclosure: %w", err)
	}

	var arr []any
	if err := json.Unmarshal(decoded, &arr); err != nil {
		return nil, fmt.Errorf("failed to parse disclosure JSON: %w", err)
	}

	digest, err := computeDigest(raw, sdAlg)
	if err != nil {
		return nil, err
	}

	disclosure := &Disclosure{Raw: raw, Digest: digest}
	switch len(arr) {
	case 3:
		disclosure.Salt, _ = arr[0].(string)
		disclosure.Name, _ = arr[1].(string)
		disclosure.Value = arr[2]
	case 2:
		disclosure.Salt, _ = arr[0].(string)
		disclosure.Value = arr[1]
		disclosure.IsArrayEntry = true
	default:
		return nil, fmt.Errorf("unexpected disclosure array length: %d", len(arr))
	}
	return disclosure, nil
}

func computeDigest(raw, sdAlg string) (string, error) {
	var h hash.Hash
	switch sdAlg {
	case "sha-256":
		h = sha256.New()
	case "sha-384":
		h = sha512.New384()
	case "sha-512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported _sd_alg: %q", sdAlg)
	}
	h.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// resolveClaims merges disclosures into the payload by matching _sd digests.
func resolveClaims(payload map[string]any, disclosures []Disclosure) map[string]any {
	digestMap := make(map[string]*Disclosure)
	for i := range disclosures {
		digestMap[disclosures[i].Digest] = &disclosures[i]
	}
	resolved := resolveObject(payload, digestMap)
	delete(resolved, "_sd_alg")
	return resolved
}

func resolveObject(obj map[string]any, digestMap map[string]*Disclosure) map[string]any {
	result := make(map[string]any)
	for k, v := range obj {
		if k == "_sd" || k == "_sd_alg" {
			continue
		}
		result[k] = resolveValue(v, digestMap)
	}
	if sdArr, ok := obj["_sd"].([]any); ok {
		for _, d := range sdArr {
			digest, ok := d.(string)
			if !ok {
				continue
			}
			if disclosure, found := digestMap[digest]; found && !disclosure.IsArrayEntry {
				result[disclosure.Name] = resolveValue(disclosure.Value, digestMap)
			}
		}
	}
	return result
}

func resolveArray(arr []any, digestMap map[string]*Disclosure) []any {
	var result []any
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			if digest, ok := obj["..."].(string); ok {
				if disclosure, found := digestMap[digest]; found && disclosure.IsArrayEntry {
					result = append(result, resolveValue(disclosure.Value, digestMap))
				}
				// Undisclosed array entries are elided.
				continue
			}
		}
		result = append(result, resolveValue(item, digestMap))
	}
	return result
}

func resolveValue(v any, digestMap map[string]*Disclosure) any {
	switch val := v.(type) {
	case map[string]any:
		return resolveObject(val, digestMap)
	case []any:
		return resolveArray(val, digestMap)
	default:
		return v
	}
}
