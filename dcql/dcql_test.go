package dcql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sdCandidate() Candidate {
	return Candidate{
		ID:      "cred-sd",
		Formats: []string{"dc+sd-jwt"},
		VCT:     "https://credentials.example/pid",
		Claims: map[string]any{
			"given_name":    "Jane",
			"family_name":   "Doe",
			"age_over_21":   true,
			"nationalities": []any{"US", "DE"},
			"address": map[string]any{
				"street_address": "123 Main St",
				"locality":       "Anytown",
			},
		},
	}
}

func mdocCandidate() Candidate {
	return Candidate{
		ID:      "cred-mdl",
		Formats: []string{"mso_mdoc"},
		DocType: "org.iso.18013.5.1.mDL",
		Claims: map[string]any{
			"org.iso.18013.5.1": map[string]any{
				"family_name": "Doe",
				"age_over_21": true,
			},
		},
	}
}

func TestParseQueryValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "valid",
			input: `{"credentials":[{"id":"a","format":"dc+sd-jwt"}]}`,
		},
		{
			name:    "empty credentials",
			input:   `{"credentials":[]}`,
			wantErr: true,
		},
		{
			name:    "missing id",
			input:   `{"credentials":[{"format":"dc+sd-jwt"}]}`,
			wantErr: true,
		},
		{
			name:    "duplicate id",
			input:   `{"credentials":[{"id":"a","format":"x"},{"id":"a","format":"y"}]}`,
			wantErr: true,
		},
		{
			name:    "unknown set reference",
			input:   `{"credentials":[{"id":"a","format":"x"}],"credential_sets":[{"options":[["b"]]}]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `{{`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchFormatAndMeta(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [{
			"id": "pid",
			"format": "dc+sd-jwt",
			"meta": {"vct_values": ["https://credentials.example/pid"]},
			"claims": [{"path": ["given_name"]}]
		}]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate(), mdocCandidate()})
	require.Len(t, result.Matches["pid"], 1)
	assert.Equal(t, "cred-sd", result.Matches["pid"][0].CandidateID)
	assert.True(t, result.Satisfiable())
}

func TestMatchVCTMismatch(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [{
			"id": "pid",
			"format": "dc+sd-jwt",
			"meta": {"vct_values": ["https://other.example/vct"]}
		}]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate()})
	assert.Empty(t, result.Matches["pid"])
	assert.False(t, result.Satisfiable())
}

func TestMatchMdocDoctype(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [{
			"id": "mdl",
			"format": "mso_mdoc",
			"meta": {"doctype_value": "org.iso.18013.5.1.mDL"},
			"claims": [{"path": ["org.iso.18013.5.1", "age_over_21"]}]
		}]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate(), mdocCandidate()})
	require.Len(t, result.Matches["mdl"], 1)
	assert.Equal(t, "cred-mdl", result.Matches["mdl"][0].CandidateID)
	assert.Equal(t, [][]interface{}{{"org.iso.18013.5.1", "age_over_21"}},
		result.Matches["mdl"][0].Paths)
}

func TestMatchMissingClaimRejectsCandidate(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [{
			"id": "pid",
			"format": "dc+sd-jwt",
			"claims": [{"path": ["given_name"]}, {"path": ["tax_id"]}]
		}]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate()})
	assert.Empty(t, result.Matches["pid"])
}

func TestMatchNestedAndWildcardPaths(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [{
			"id": "pid",
			"format": "dc+sd-jwt",
			"claims": [
				{"path": ["address", "street_address"]},
				{"path": ["nationalities", null], "values": ["DE"]}
			]
		}]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate()})
	require.Len(t, result.Matches["pid"], 1)
}

func TestMatchValuesConstraintFails(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [{
			"id": "pid",
			"format": "dc+sd-jwt",
			"claims": [{"path": ["nationalities", null], "values": ["FR"]}]
		}]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate()})
	assert.Empty(t, result.Matches["pid"])
}

func TestClaimSetsPreferenceOrder(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [{
			"id": "pid",
			"format": "dc+sd-jwt",
			"claims": [
				{"id": "tax", "path": ["tax_id"]},
				{"id": "given", "path": ["given_name"]},
				{"id": "family", "path": ["family_name"]}
			],
			"claim_sets": [["tax"], ["given", "family"]]
		}]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate()})
	require.Len(t, result.Matches["pid"], 1)
	// The first set needs tax_id, which the credential lacks; the second
	// set wins.
	assert.Equal(t, [][]interface{}{{"given_name"}, {"family_name"}},
		result.Matches["pid"][0].Paths)
}

func TestCredentialSetsAlternatives(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [
			{"id": "pid", "format": "dc+sd-jwt", "meta": {"vct_values": ["https://credentials.example/pid"]}},
			{"id": "mdl", "format": "mso_mdoc", "meta": {"doctype_value": "org.iso.18013.5.1.mDL"}},
			{"id": "passport", "format": "dc+sd-jwt", "meta": {"vct_values": ["https://credentials.example/passport"]}}
		],
		"credential_sets": [
			{"options": [["passport"], ["pid", "mdl"]]}
		]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate(), mdocCandidate()})
	assert.True(t, result.Satisfiable())

	ids, err := result.RequiredQueryIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"pid", "mdl"}, ids)
}

func TestCredentialSetsUnsatisfiableRequired(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [
			{"id": "passport", "format": "dc+sd-jwt", "meta": {"vct_values": ["https://credentials.example/passport"]}}
		],
		"credential_sets": [
			{"options": [["passport"]]}
		]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate()})
	assert.False(t, result.Satisfiable())
	_, err = result.RequiredQueryIDs()
	assert.Error(t, err)
}

func TestCredentialSetsOptionalSkipped(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"credentials": [
			{"id": "pid", "format": "dc+sd-jwt"},
			{"id": "extra", "format": "ac+something"}
		],
		"credential_sets": [
			{"options": [["pid"]]},
			{"options": [["extra"]], "required": false}
		]
	}`))
	require.NoError(t, err)

	result := q.Match([]Candidate{sdCandidate()})
	assert.True(t, result.Satisfiable())

	ids, err := result.RequiredQueryIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"pid"}, ids)
}
