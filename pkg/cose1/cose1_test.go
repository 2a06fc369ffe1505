package cose1

import (
	"context"
	"testing"

	"github.com/veraison/go-cose"

	"github.com/spruceid/mobile-sdk-go/keystore"
)

func TestBuildAndVerify(t *testing.T) {
	ctx := context.Background()
	signer, err := keystore.NewP256Signer()
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}

	payload := []byte("cose sign1 payload")
	msg, err := Build(ctx, signer, payload, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, signer.PublicKey())
	if err != nil {
		t.Fatalf("creating verifier: %v", err)
	}

	if result := Verify(msg, verifier, nil, nil); result.Outcome != OutcomeSuccess {
		t.Errorf("Verify() = %v (%v), want Success", result.Outcome, result.Cause)
	}

	// Tampering turns Success into Failure, not Error.
	msg.Payload[0] ^= 0xff
	if result := Verify(msg, verifier, nil, nil); result.Outcome != OutcomeFailure {
		t.Errorf("Verify(tampered) = %v, want Failure", result.Outcome)
	}
}

func TestVerifyDetachedPayload(t *testing.T) {
	ctx := context.Background()
	signer, err := keystore.NewP256Signer()
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}

	payload := []byte("detached payload")
	msg, err := Build(ctx, signer, payload, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	msg.Payload = nil

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, signer.PublicKey())
	if err != nil {
		t.Fatalf("creating verifier: %v", err)
	}

	if result := Verify(msg, verifier, nil, payload); result.Outcome != OutcomeSuccess {
		t.Errorf("Verify(detached) = %v (%v), want Success", result.Outcome, result.Cause)
	}

	// No payload at all cannot be verified.
	if result := Verify(msg, verifier, nil, nil); result.Outcome != OutcomeError {
		t.Errorf("Verify(no payload) = %v, want Error", result.Outcome)
	}
}

func TestOutcomeString(t *testing.T) {
	for outcome, want := range map[Outcome]string{
		OutcomeSuccess: "Success",
		OutcomeFailure: "Failure",
		OutcomeError:   "Error",
	} {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", outcome, got, want)
		}
	}
}
