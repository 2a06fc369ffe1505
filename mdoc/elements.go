package mdoc

import (
	"fmt"
	"strings"
)

// Element names a single data element within a namespace.
type Element struct {
	Namespace NameSpace
	Name      ElementIdentifier
}

// ISO/IEC 18013-5:2021 Table 5 mDL data elements.
var (
	FamilyName           = Element{NameSpaceMDL, "family_name"}
	GivenName            = Element{NameSpaceMDL, "given_name"}
	BirthDate            = Element{NameSpaceMDL, "birth_date"}
	IssueDate            = Element{NameSpaceMDL, "issue_date"}
	ExpiryDate           = Element{NameSpaceMDL, "expiry_date"}
	IssuingCountry       = Element{NameSpaceMDL, "issuing_country"}
	IssuingAuthority     = Element{NameSpaceMDL, "issuing_authority"}
	DocumentNumber       = Element{NameSpaceMDL, "document_number"}
	Portrait             = Element{NameSpaceMDL, "portrait"}
	DrivingPrivileges    = Element{NameSpaceMDL, "driving_privileges"}
	UnDistinguishingSign = Element{NameSpaceMDL, "un_distinguishing_sign"}
	AdministrativeNumber = Element{NameSpaceMDL, "administrative_number"}
	Sex                  = Element{NameSpaceMDL, "sex"}
	Height               = Element{NameSpaceMDL, "height"}
	Weight               = Element{NameSpaceMDL, "weight"}
	EyeColour            = Element{NameSpaceMDL, "eye_colour"}
	HairColour           = Element{NameSpaceMDL, "hair_colour"}
	BirthPlace           = Element{NameSpaceMDL, "birth_place"}
	ResidentAddress      = Element{NameSpaceMDL, "resident_address"}
	PortraitCaptureDate  = Element{NameSpaceMDL, "portrait_capture_date"}
	AgeInYears           = Element{NameSpaceMDL, "age_in_years"}
	AgeBirthYear         = Element{NameSpaceMDL, "age_birth_year"}
	IssuingJurisdiction  = Element{NameSpaceMDL, "issuing_jurisdiction"}
	Nationality          = Element{NameSpaceMDL, "nationality"}
	ResidentCity         = Element{NameSpaceMDL, "resident_city"}
	ResidentState        = Element{NameSpaceMDL, "resident_state"}
	ResidentPostalCode   = Element{NameSpaceMDL, "resident_postal_code"}
	ResidentCountry      = Element{NameSpaceMDL, "resident_country"}
	SignatureUsualMark   = Element{NameSpaceMDL, "signature_usual_mark"}
)

// AgeOver returns the age_over_NN attestation element for an age in 0..99.
func AgeOver(age int) (Element, error) {
	if age < 0 || age > 99 {
		return Element{}, fmt.Errorf("unsupported range of age: %v", age)
	}
	return Element{
		Namespace: NameSpaceMDL,
		Name:      ElementIdentifier(fmt.Sprintf("age_over_%d", age)),
	}, nil
}

// DisplayName renders an element identifier as a human-readable label
// ("given_name" becomes "Given Name"). Consent screens show these when the
// verifier supplies no purpose text of its own.
func DisplayName(id ElementIdentifier) string {
	parts := strings.Split(string(id), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
