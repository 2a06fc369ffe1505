package dcql

import (
	"fmt"
	"reflect"
)

// Candidate is a stored credential viewed through the matcher's eyes. The
// claim tree uses JSON-ish values (map[string]any, []any, scalars); mdoc
// credentials expose {namespace: {element: value}}.
type Candidate struct {
	ID      string
	Formats []string
	VCT     string
	DocType string
	Claims  map[string]any
}

// CandidateMatch records that a candidate satisfies a credential query and
// which claim paths it should disclose.
type CandidateMatch struct {
	CandidateID string
	// Paths lists the claim paths to disclose, in query order. Empty means
	// the query requested no specific claims.
	Paths [][]interface{}
}

// MatchResult groups candidate matches by credential query id.
type MatchResult struct {
	Matches map[string][]CandidateMatch
	query   *Query
}

// Match evaluates every credential query against the candidates.
func (q *Query) Match(candidates []Candidate) *MatchResult {
	result := &MatchResult{
		Matches: make(map[string][]CandidateMatch),
		query:   q,
	}
	for _, cq := range q.Credentials {
		for _, cand := range candidates {
			paths, ok := matchCredentialQuery(cq, cand)
			if !ok {
				continue
			}
			result.Matches[cq.ID] = append(result.Matches[cq.ID], CandidateMatch{
				CandidateID: cand.ID,
				Paths:       paths,
			})
		}
	}
	return result
}

// Satisfiable reports whether the query as a whole can be answered: every
// required credential_set has at least one fully matched option, and when no
// credential_sets are present, every credential query has a match.
func (r *MatchResult) Satisfiable() bool {
	if len(r.query.CredentialSets) == 0 {
		for _, cq := range r.query.Credentials {
			if len(r.Matches[cq.ID]) == 0 {
				return false
			}
		}
		return true
	}
	for _, cs := range r.query.CredentialSets {
		if !cs.IsRequired() {
			continue
		}
		if r.satisfiedOption(cs) == nil {
			return false
		}
	}
	return true
}

// satisfiedOption returns the first option whose query ids all have matches.
func (r *MatchResult) satisfiedOption(cs CredentialSetQuery) []string {
	for _, option := range cs.Options {
		ok := true
		for _, id := range option {
			if len(r.Matches[id]) == 0 {
				ok = false
				break
			}
		}
		if ok {
			return option
		}
	}
	return nil
}

// RequiredQueryIDs resolves the credential query ids a response must answer:
// the first satisfied option of each required credential_set, or every
// credential query when no sets are defined. Returns an error when a
// required set cannot be satisfied.
func (r *MatchResult) RequiredQueryIDs() ([]string, error) {
	if len(r.query.CredentialSets) == 0 {
		ids := make([]string, 0, len(r.query.Credentials))
		for _, cq := range r.query.Credentials {
			if len(r.Matches[cq.ID]) == 0 {
				return nil, fmt.Errorf("no credential matches query %q", cq.ID)
			}
			ids = append(ids, cq.ID)
		}
		return ids, nil
	}

	var ids []string
	seen := make(map[string]bool)
	for _, cs := range r.query.CredentialSets {
		option := r.satisfiedOption(cs)
		if option == nil {
			if cs.IsRequired() {
				return nil, fmt.Errorf("required credential_set cannot be satisfied")
			}
			continue
		}
		for _, id := range option {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// MatchCredentialQuery evaluates a single credential query against one
// candidate, returning the claim paths to disclose when it matches.
func MatchCredentialQuery(cq CredentialQuery, cand Candidate) ([][]interface{}, bool) {
	return matchCredentialQuery(cq, cand)
}

// ResolvePath resolves a claim path against a claim tree, returning every
// selected value. A nil segment fans out over array elements.
func ResolvePath(claims map[string]any, path []interface{}) ([]any, bool) {
	return resolvePath(claims, path)
}

func matchCredentialQuery(cq CredentialQuery, cand Candidate) ([][]interface{}, bool) {
	if !matchesFormat(cq.Format, cand.Formats) {
		return nil, false
	}
	if !matchesMeta(cq.Meta, cand) {
		return nil, false
	}
	return selectClaims(cq, cand)
}

func matchesFormat(queryFormat string, formats []string) bool {
	if queryFormat == "" {
		return true
	}
	for _, f := range formats {
		if f == queryFormat {
			return true
		}
	}
	return false
}

func matchesMeta(meta *MetaConstraints, cand Candidate) bool {
	if meta == nil {
		return true
	}
	if len(meta.VCTValues) > 0 {
		found := false
		for _, vct := range meta.VCTValues {
			if vct == cand.VCT {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if meta.DocType != "" && meta.DocType != cand.DocType {
		return false
	}
	return true
}

// selectClaims determines which claim paths the candidate should disclose,
// or reports that the candidate cannot satisfy the query.
func selectClaims(cq CredentialQuery, cand Candidate) ([][]interface{}, bool) {
	if len(cq.Claims) == 0 {
		return nil, true
	}

	if len(cq.ClaimSets) > 0 {
		return selectFromClaimSets(cq, cand)
	}

	// Without claim_sets every requested claim must be present.
	paths := make([][]interface{}, 0, len(cq.Claims))
	for _, claim := range cq.Claims {
		if !claimSatisfied(claim, cand.Claims) {
			return nil, false
		}
		paths = append(paths, claim.Path)
	}
	return paths, true
}

// selectFromClaimSets tries each claim_set in preference order and selects
// the first one the candidate can fully satisfy.
func selectFromClaimSets(cq CredentialQuery, cand Candidate) ([][]interface{}, bool) {
	byID := make(map[string]ClaimQuery, len(cq.Claims))
	for _, claim := range cq.Claims {
		if claim.ID != "" {
			byID[claim.ID] = claim
		}
	}

	for _, set := range cq.ClaimSets {
		var paths [][]interface{}
		ok := true
		for _, id := range set {
			claim, exists := byID[id]
			if !exists || !claimSatisfied(claim, cand.Claims) {
				ok = false
				break
			}
			paths = append(paths, claim.Path)
		}
		if ok && len(paths) > 0 {
			return paths, true
		}
	}
	return nil, false
}

func claimSatisfied(claim ClaimQuery, claims map[string]any) bool {
	values, ok := resolvePath(claims, claim.Path)
	if !ok {
		return false
	}
	if len(claim.Values) == 0 {
		return true
	}
	// One resolved value equal to one accepted value suffices.
	for _, v := range values {
		for _, want := range claim.Values {
			if claimValueEqual(v, want) {
				return true
			}
		}
	}
	return false
}

// resolvePath walks a claim path and returns every value it selects. A nil
// segment fans out over array elements.
func resolvePath(root any, path []interface{}) ([]any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	current := []any{root}
	for _, seg := range path {
		var next []any
		switch s := seg.(type) {
		case string:
			for _, node := range current {
				obj, ok := node.(map[string]any)
				if !ok {
					continue
				}
				if v, exists := obj[s]; exists {
					next = append(next, v)
				}
			}
		case float64:
			idx := int(s)
			for _, node := range current {
				arr, ok := node.([]any)
				if !ok || idx < 0 || idx >= len(arr) {
					continue
				}
				next = append(next, arr[idx])
			}
		case int:
			for _, node := range current {
				arr, ok := node.([]any)
				if !ok || s < 0 || s >= len(arr) {
					continue
				}
				next = append(next, arr[s])
			}
		case nil:
			for _, node := range current {
				arr, ok := node.([]any)
				if !ok {
					continue
				}
				next = append(next, arr...)
			}
		default:
			return nil, false
		}
		if len(next) == 0 {
			return nil, false
		}
		current = next
	}
	return current, true
}

func claimValueEqual(a, b any) bool {
	// JSON numbers decode as float64 on both sides; everything else
	// compares structurally.
	return reflect.DeepEqual(a, b)
}
