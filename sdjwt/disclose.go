package sdjwt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/jws"
)

// ErrNotDisclosable is returned when a selection names a pointer that does
// not correspond to any disclosure in the token.
var ErrNotDisclosable = errors.New("sdjwt: pointer is not disclosable")

// disclosureRef locates one disclosure inside the resolved claim tree. parent
// is the disclosure whose value contains this one, or nil for top level.
type disclosureRef struct {
	pointer    string
	disclosure *Disclosure
	parent     *Disclosure
}

// EncodePointer builds a claim pointer from path segments. Each segment is
// base64url-encoded without padding so segment text can never collide with
// the "," separator.
func EncodePointer(path []string) string {
	encoded := make([]string, len(path))
	for i, seg := range path {
		encoded[i] = base64.RawURLEncoding.EncodeToString([]byte(seg))
	}
	return strings.Join(encoded, ",")
}

// DecodePointer splits a claim pointer back into path segments.
func DecodePointer(pointer string) ([]string, error) {
	parts := strings.Split(pointer, ",")
	path := make([]string, len(parts))
	for i, part := range parts {
		seg, err := base64.RawURLEncoding.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("invalid pointer segment %d: %w", i, err)
		}
		path[i] = string(seg)
	}
	return path, nil
}

// DisclosablePointers lists the pointer of every disclosure carried by the
// token, in claim-tree order.
func (t *Token) DisclosablePointers() []string {
	refs := t.disclosureRefs()
	pointers := make([]string, 0, len(refs))
	for _, ref := range refs {
		pointers = append(pointers, ref.pointer)
	}
	return pointers
}

// ClaimAt returns the resolved claim value at a pointer.
func (t *Token) ClaimAt(pointer string) (any, bool) {
	path, err := DecodePointer(pointer)
	if err != nil {
		return nil, false
	}
	var cur any = t.ResolvedClaims
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Retain re-encodes the SD-JWT keeping only the selected disclosures. The
// issuer JWT and its signature are carried over byte for byte. A disclosure
// whose value contains a selected disclosure is kept as well, since dropping
// it would strand the selection. Selecting a pointer that is not disclosable
// is an error.
func (t *Token) Retain(pointers []string) (string, error) {
	refs := t.disclosureRefs()
	byPointer := make(map[string]disclosureRef, len(refs))
	parentOf := make(map[*Disclosure]*Disclosure, len(refs))
	for _, ref := range refs {
		byPointer[ref.pointer] = ref
		parentOf[ref.disclosure] = ref.parent
	}

	keep := make(map[*Disclosure]bool)
	for _, pointer := range pointers {
		ref, ok := byPointer[pointer]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrNotDisclosable, pointer)
		}
		for d := ref.disclosure; d != nil; d = parentOf[d] {
			keep[d] = true
		}
	}

	var sb strings.Builder
	sb.WriteString(t.IssuerJWT)
	sb.WriteString("~")
	for i := range t.Disclosures {
		if keep[&t.Disclosures[i]] {
			sb.WriteString(t.Disclosures[i].Raw)
			sb.WriteString("~")
		}
	}
	return sb.String(), nil
}

// KeyBindingParams carries the verifier-supplied values bound into a KB-JWT.
type KeyBindingParams struct {
	Audience string
	Nonce    string
	IssuedAt time.Time
}

// RetainWithKeyBinding retains the selected disclosures and appends a
// key-binding JWT signed with the holder key. sd_hash covers the presentation
// up to and including the final "~", per the SD-JWT KB rules.
func (t *Token) RetainWithKeyBinding(ctx context.Context, signer keystore.Signer, pointers []string, params KeyBindingParams) (string, error) {
	withoutKB, err := t.Retain(pointers)
	if err != nil {
		return "", err
	}

	sdAlg := "sha-256"
	if alg, ok := t.Payload["_sd_alg"].(string); ok {
		sdAlg = strings.ToLower(alg)
	}
	sdHash, err := computeDigest(withoutKB, sdAlg)
	if err != nil {
		return "", err
	}

	issuedAt := params.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	header := map[string]any{
		"alg": string(signer.Algorithm()),
		"typ": "kb+jwt",
	}
	claims := map[string]any{
		"iat":     issuedAt.Unix(),
		"aud":     params.Audience,
		"nonce":   params.Nonce,
		"sd_hash": sdHash,
	}

	kbJWT, err := jws.SignCompact(ctx, signer, header, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign key-binding JWT: %w", err)
	}
	return withoutKB + kbJWT, nil
}

func (t *Token) disclosureRefs() []disclosureRef {
	digestMap := make(map[string]*Disclosure)
	for i := range t.Disclosures {
		digestMap[t.Disclosures[i].Digest] = &t.Disclosures[i]
	}
	var refs []disclosureRef
	walkObject(t.Payload, digestMap, nil, nil, &refs)
	return refs
}

func walkObject(obj map[string]any, digestMap map[string]*Disclosure, path []string, parent *Disclosure, out *[]disclosureRef) {
	for k, v := range obj {
		if k == "_sd" || k == "_sd_alg" {
			continue
		}
		walkValue(v, digestMap, childPath(path, k), parent, out)
	}
	sdArr, ok := obj["_sd"].([]any)
	if !ok {
		return
	}
	for _, d := range sdArr {
		digest, ok := d.(string)
		if !ok {
			continue
		}
		disclosure, found := digestMap[digest]
		if !found || disclosure.IsArrayEntry {
			continue
		}
		p := childPath(path, disclosure.Name)
		*out = append(*out, disclosureRef{pointer: EncodePointer(p), disclosure: disclosure, parent: parent})
		walkValue(disclosure.Value, digestMap, p, disclosure, out)
	}
}

func walkArray(arr []any, digestMap map[string]*Disclosure, path []string, parent *Disclosure, out *[]disclosureRef) {
	idx := 0
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			if digest, ok := obj["..."].(string); ok {
				if disclosure, found := digestMap[digest]; found && disclosure.IsArrayEntry {
					p := childPath(path, strconv.Itoa(idx))
					*out = append(*out, disclosureRef{pointer: EncodePointer(p), disclosure: disclosure, parent: parent})
					walkValue(disclosure.Value, digestMap, p, disclosure, out)
					idx++
				}
				continue
			}
		}
		walkValue(item, digestMap, childPath(path, strconv.Itoa(idx)), parent, out)
		idx++
	}
}

func walkValue(v any, digestMap map[string]*Disclosure, path []string, parent *Disclosure, out *[]disclosureRef) {
	switch val := v.(type) {
	case map[string]any:
		walkObject(val, digestMap, path, parent, out)
	case []any:
		walkArray(val, digestMap, path, parent, out)
	}
}

func childPath(path []string, seg string) []string {
	p := make([]string, 0, len(path)+1)
	p = append(p, path...)
	return append(p, seg)
}
