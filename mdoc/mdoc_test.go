package mdoc_test

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/spruceid/mobile-sdk-go/internal/mdoctest"
	"github.com/spruceid/mobile-sdk-go/mdoc"
)

func testTranscript(t *testing.T) []byte {
	t.Helper()
	transcript, err := cbor.Marshal([]interface{}{nil, nil, []interface{}{"TestHandover"}})
	if err != nil {
		t.Fatal(err)
	}
	return transcript
}

func TestBuildAndVerifyDocument(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, holder, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}

	transcript := testTranscript(t)
	doc, err := mdoc.BuildDocument(context.Background(), issuerSigned, mdoc.DocTypeMDL,
		mdoc.ElementSelection{
			mdoc.NameSpaceMDL: {"family_name", "age_over_21"},
		}, holder, transcript)
	if err != nil {
		t.Fatalf("failed to build document: %v", err)
	}

	verifier := mdoc.NewVerifier(issuer.Roots())
	if err := verifier.Verify(doc, transcript); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}

	// Disclosed elements are present.
	name, err := doc.GetElementValue(mdoc.NameSpaceMDL, "family_name")
	if err != nil {
		t.Fatalf("failed to get family_name: %v", err)
	}
	if name != "Doe" {
		t.Errorf("family_name = %v, want Doe", name)
	}

	// Undisclosed elements must not appear in the response.
	if _, err := doc.GetElementValue(mdoc.NameSpaceMDL, "birth_date"); err == nil {
		t.Error("birth_date should not be disclosed")
	}
}

func TestBuildDocumentMissingElement(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, holder, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}

	doc, err := mdoc.BuildDocument(context.Background(), issuerSigned, mdoc.DocTypeMDL,
		mdoc.ElementSelection{
			mdoc.NameSpaceMDL: {"family_name", "nickname"},
		}, holder, testTranscript(t))
	if err != nil {
		t.Fatalf("failed to build document: %v", err)
	}

	code, ok := doc.Errors[mdoc.NameSpaceMDL]["nickname"]
	if !ok {
		t.Fatal("expected DataNotReturned error for missing element")
	}
	if code != mdoc.ErrorCodeDataNotReturned {
		t.Errorf("error code = %v, want %v", code, mdoc.ErrorCodeDataNotReturned)
	}
}

func TestVerifyRejectsWrongTranscript(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, holder, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}

	doc, err := mdoc.BuildDocument(context.Background(), issuerSigned, mdoc.DocTypeMDL,
		mdoc.ElementSelection{mdoc.NameSpaceMDL: {"family_name"}}, holder, testTranscript(t))
	if err != nil {
		t.Fatal(err)
	}

	other, err := cbor.Marshal([]interface{}{nil, nil, []interface{}{"OtherHandover"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := mdoc.NewVerifier(issuer.Roots()).Verify(doc, other); err == nil {
		t.Fatal("verification should fail for a different session transcript")
	}
}

func TestVerifyRejectsTamperedValue(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, holder, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}

	transcript := testTranscript(t)
	doc, err := mdoc.BuildDocument(context.Background(), issuerSigned, mdoc.DocTypeMDL,
		mdoc.ElementSelection{mdoc.NameSpaceMDL: {"family_name"}}, holder, transcript)
	if err != nil {
		t.Fatal(err)
	}

	// Swap the issuer signed item for one with a different value but the
	// same digest ID.
	items := doc.IssuerSigned.NameSpaces[mdoc.NameSpaceMDL]
	item, err := items[0].IssuerSignedItem()
	if err != nil {
		t.Fatal(err)
	}
	forged, err := cbor.Marshal(mdoc.IssuerSignedItem{
		DigestID:          item.DigestID,
		Random:            item.Random,
		ElementIdentifier: item.ElementIdentifier,
		ElementValue:      "Mallory",
	})
	if err != nil {
		t.Fatal(err)
	}
	doc.IssuerSigned.NameSpaces[mdoc.NameSpaceMDL][0] = mdoc.IssuerSignedItemBytes(forged)

	err = mdoc.NewVerifier(issuer.Roots()).Verify(doc, transcript)
	if err == nil {
		t.Fatal("verification should fail for tampered element value")
	}
}

func TestDeviceResponseRoundTrip(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	issuerSigned, holder, err := issuer.IssueMDL()
	if err != nil {
		t.Fatal(err)
	}

	transcript := testTranscript(t)
	doc, err := mdoc.BuildDocument(context.Background(), issuerSigned, mdoc.DocTypeMDL,
		mdoc.ElementSelection{mdoc.NameSpaceMDL: {"given_name"}}, holder, transcript)
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := mdoc.EncodeDeviceResponse(mdoc.NewDeviceResponse(*doc))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := mdoc.ParseDeviceResponse(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Version != mdoc.ResponseVersion {
		t.Errorf("version = %q", resp.Version)
	}
	got, err := resp.GetDocument(mdoc.DocTypeMDL)
	if err != nil {
		t.Fatal(err)
	}
	if err := mdoc.NewVerifier(issuer.Roots()).Verify(got, transcript); err != nil {
		t.Fatalf("failed to verify decoded document: %v", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	resp := mdoc.DeviceResponse{}
	if _, err := resp.GetDocument(mdoc.DocTypeMDL); err == nil {
		t.Fatal("expected error for missing document")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		id   mdoc.ElementIdentifier
		want string
	}{
		{"given_name", "Given Name"},
		{"age_over_21", "Age Over 21"},
		{"portrait", "Portrait"},
	}
	for _, tt := range tests {
		if got := mdoc.DisplayName(tt.id); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestAgeOver(t *testing.T) {
	el, err := mdoc.AgeOver(21)
	if err != nil {
		t.Fatal(err)
	}
	if el.Name != "age_over_21" {
		t.Errorf("element name = %q", el.Name)
	}
	if _, err := mdoc.AgeOver(120); err == nil {
		t.Error("expected error for out of range age")
	}
}
