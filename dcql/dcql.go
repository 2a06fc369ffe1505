// Package dcql implements the Digital Credentials Query Language from
// OpenID4VP 1.0 Section 6: the query model and holder-side matching of
// stored credentials against a verifier's query.
package dcql

import (
	"encoding/json"
	"fmt"
)

// Query is the top-level DCQL query.
type Query struct {
	Credentials    []CredentialQuery    `json:"credentials"`
	CredentialSets []CredentialSetQuery `json:"credential_sets,omitempty"`
}

// ParseQuery decodes and minimally validates a DCQL query.
func ParseQuery(data []byte) (*Query, error) {
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to parse DCQL query: %w", err)
	}
	if len(q.Credentials) == 0 {
		return nil, fmt.Errorf("DCQL query has no credential queries")
	}
	seen := make(map[string]bool, len(q.Credentials))
	for _, cq := range q.Credentials {
		if cq.ID == "" {
			return nil, fmt.Errorf("credential query missing id")
		}
		if seen[cq.ID] {
			return nil, fmt.Errorf("duplicate credential query id: %s", cq.ID)
		}
		seen[cq.ID] = true
	}
	for _, cs := range q.CredentialSets {
		for _, option := range cs.Options {
			for _, id := range option {
				if !seen[id] {
					return nil, fmt.Errorf("credential_sets references unknown query id: %s", id)
				}
			}
		}
	}
	return &q, nil
}

// CredentialQuery requests one credential of a given format.
type CredentialQuery struct {
	ID        string           `json:"id"`
	Format    string           `json:"format"`
	Meta      *MetaConstraints `json:"meta,omitempty"`
	Claims    []ClaimQuery     `json:"claims,omitempty"`
	ClaimSets [][]string       `json:"claim_sets,omitempty"`
}

// MetaConstraints carries format-specific constraints.
type MetaConstraints struct {
	// For SD-JWT based credentials.
	VCTValues []string `json:"vct_values,omitempty"`

	// For mdoc.
	DocType string `json:"doctype_value,omitempty"`
}

// ClaimQuery requests a single claim. Path elements are strings (object
// keys), numbers (array indices), or nil (array wildcard).
type ClaimQuery struct {
	ID     string        `json:"id,omitempty"`
	Path   []interface{} `json:"path,omitempty"`
	Values []interface{} `json:"values,omitempty"`
	// IntentToRetain is the mso_mdoc profile's flag that the verifier will
	// store the element after verification.
	IntentToRetain bool `json:"intent_to_retain,omitempty"`
}

// CredentialSetQuery expresses alternatives: each option is a list of
// credential query ids that together satisfy the set.
type CredentialSetQuery struct {
	Options  [][]string  `json:"options"`
	Required *bool       `json:"required,omitempty"`
	Purpose  interface{} `json:"purpose,omitempty"`
}

// IsRequired reports whether the set must be satisfied; the default is true.
func (c CredentialSetQuery) IsRequired() bool {
	return c.Required == nil || *c.Required
}
