package openid4vp

import (
	"github.com/spruceid/mobile-sdk-go/credential"
	"github.com/spruceid/mobile-sdk-go/dcql"
)

// MatchedCredential annotates a held credential with the query it
// satisfies and the fields that query asks for.
type MatchedCredential struct {
	QueryID         string
	Credential      credential.Credential
	RequestedFields []credential.RequestedField
}

// QueryAlternative is one satisfiable credential query inside a
// requirement.
type QueryAlternative struct {
	QueryID     string
	DisplayName string
	Credentials []MatchedCredential
}

// Requirement is one consent line item: the user satisfies it by picking a
// credential from any one of its alternatives.
type Requirement struct {
	DisplayName  string
	Required     bool
	Alternatives []QueryAlternative
}

// PermissionRequest is the consent package handed to the UI: the validated
// request, the parsed query, and the matched credentials grouped into
// requirements. It is single-use; Respond consumes it.
type PermissionRequest struct {
	Request      *AuthorizationRequest
	Query        *dcql.Query
	Requirements []Requirement

	matches map[string][]MatchedCredential
	holder  *Holder
}

// Selection is the user's answer for one requirement.
type Selection struct {
	QueryID      string
	CredentialID string
	// SelectedFields lists encoded claim paths to disclose. nil discloses
	// the query defaults; an empty non-nil slice is an explicit refusal to
	// disclose anything and fails requirements that need disclosure.
	SelectedFields []string
}

// PermissionResponse carries the user's selections back into response
// assembly.
type PermissionResponse struct {
	Selections []Selection
}

// credentialFor resolves a selection against the matched set.
func (p *PermissionRequest) credentialFor(sel Selection) (credential.Credential, error) {
	for _, match := range p.matches[sel.QueryID] {
		if match.Credential.ID() == sel.CredentialID {
			return match.Credential, nil
		}
	}
	return nil, ErrInvalidSelectedCredential
}
