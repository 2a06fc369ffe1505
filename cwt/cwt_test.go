package cwt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/spruceid/mobile-sdk-go/cwt"
	"github.com/spruceid/mobile-sdk-go/internal/mdoctest"
	"github.com/spruceid/mobile-sdk-go/keystore"
	"github.com/spruceid/mobile-sdk-go/pkg/cose1"
)

func issueCWT(t *testing.T, issuer *mdoctest.Issuer, claims map[int64]interface{}) []byte {
	t.Helper()
	payload, err := cbor.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	signer := keystore.NewP256SignerFromKey(issuer.DSKey)
	msg, err := cose1.Build(context.Background(), signer, payload, [][]byte{issuer.DSCert.Raw})
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := msg.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	return encoded
}

func TestVerifyValidCWT(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	token := issueCWT(t, issuer, map[int64]interface{}{
		cwt.ClaimIssuer:     "did:web:issuer.example.com",
		cwt.ClaimExpiration: time.Now().Add(time.Hour).Unix(),
	})

	parsed, err := cwt.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if iss, ok := parsed.Issuer(); !ok || iss != "did:web:issuer.example.com" {
		t.Errorf("unexpected issuer: %q", iss)
	}

	verifier := cwt.NewVerifier(issuer.RootCert)
	result, err := verifier.Verify(parsed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Outcome != cose1.OutcomeSuccess {
		t.Errorf("expected Success, got %s (%v)", result.Outcome, result.Cause)
	}
}

func TestVerifyExpiredCWT(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	exp := time.Now().Add(-30 * time.Minute)
	token := issueCWT(t, issuer, map[int64]interface{}{
		cwt.ClaimExpiration: exp.Unix(),
	})

	parsed, err := cwt.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	result, err := verifyAt(t, issuer, parsed, time.Now())
	if !errors.Is(err, cwt.ErrCwtExpired) {
		t.Errorf("expected ErrCwtExpired, got %v", err)
	}
	if result.Outcome != cose1.OutcomeSuccess {
		t.Errorf("signature should still verify on an expired token, got %s", result.Outcome)
	}

	// Just before expiration the token is accepted.
	if _, err := verifyAt(t, issuer, parsed, exp.Add(-10*time.Minute)); err != nil {
		t.Errorf("expected no error before expiration, got %v", err)
	}
}

func verifyAt(t *testing.T, issuer *mdoctest.Issuer, parsed *cwt.Cwt, now time.Time) (cose1.VerificationResult, error) {
	t.Helper()
	return cwt.NewVerifier(issuer.RootCert, cwt.WithCurrentTime(now)).Verify(parsed)
}

func TestVerifyWrongRoot(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	other, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	token := issueCWT(t, issuer, map[int64]interface{}{
		cwt.ClaimExpiration: time.Now().Add(time.Hour).Unix(),
	})
	parsed, err := cwt.Parse(token)
	if err != nil {
		t.Fatal(err)
	}

	result, err := cwt.NewVerifier(other.RootCert).Verify(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != cose1.OutcomeFailure {
		t.Errorf("expected Failure against wrong root, got %s", result.Outcome)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	token := issueCWT(t, issuer, map[int64]interface{}{
		cwt.ClaimIssuer: "legit",
	})
	forged := issueCWT(t, issuer, map[int64]interface{}{
		cwt.ClaimIssuer: "forged",
	})

	// Swap the forged payload under the original signature.
	var arr, forgedArr []cbor.RawMessage
	if err := cbor.Unmarshal(token, &arr); err != nil {
		t.Fatal(err)
	}
	if err := cbor.Unmarshal(forged, &forgedArr); err != nil {
		t.Fatal(err)
	}
	arr[2] = forgedArr[2]
	tampered, err := cbor.Marshal(arr)
	if err != nil {
		t.Fatal(err)
	}
	tamperedParsed, err := cwt.Parse(tampered)
	if err != nil {
		t.Fatal(err)
	}

	result, err := cwt.NewVerifier(issuer.RootCert).Verify(tamperedParsed)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != cose1.OutcomeFailure {
		t.Errorf("expected Failure on tampered payload, got %s", result.Outcome)
	}
}

func TestStatusReference(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	token := issueCWT(t, issuer, map[int64]interface{}{
		cwt.ClaimStatus: map[string]interface{}{
			"status_list": map[string]interface{}{
				"idx": 7,
				"uri": "https://issuer.example.com/statuslist.json",
			},
		},
	})
	parsed, err := cwt.Parse(token)
	if err != nil {
		t.Fatal(err)
	}

	ref, ok := parsed.StatusReference()
	if !ok {
		t.Fatal("expected status reference")
	}
	if ref.URI != "https://issuer.example.com/statuslist.json" || ref.Index != 7 {
		t.Errorf("unexpected reference: %+v", ref)
	}
}

func TestStatusReferenceAbsent(t *testing.T) {
	issuer, err := mdoctest.NewIssuer()
	if err != nil {
		t.Fatal(err)
	}
	token := issueCWT(t, issuer, map[int64]interface{}{
		cwt.ClaimIssuer: "issuer",
	})
	parsed, err := cwt.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed.StatusReference(); ok {
		t.Error("expected no status reference")
	}
}
