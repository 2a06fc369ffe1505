package trust

import (
	"context"
	"errors"
	"testing"

	"github.com/spruceid/mobile-sdk-go/storage"
)

func TestTrustLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore())

	const did = "did:web:issuer.example"

	if err := m.AddDID(ctx, did); err != nil {
		t.Fatalf("AddDID() error = %v", err)
	}
	trusted, err := m.IsTrusted(ctx, did)
	if err != nil || !trusted {
		t.Fatalf("IsTrusted() = %v, %v; want true", trusted, err)
	}

	if err := m.BlockDID(ctx, did); err != nil {
		t.Fatalf("BlockDID() error = %v", err)
	}
	if trusted, _ := m.IsTrusted(ctx, did); trusted {
		t.Error("blocked DID still trusted")
	}

	// AddDID must refuse while blocked.
	if err := m.AddDID(ctx, did); !errors.Is(err, ErrBlocked) {
		t.Errorf("AddDID(blocked) error = %v, want ErrBlocked", err)
	}

	blocked, err := m.GetBlockedDIDs(ctx)
	if err != nil || len(blocked) != 1 || blocked[0] != did {
		t.Fatalf("GetBlockedDIDs() = %v, %v", blocked, err)
	}

	if err := m.UnblockDID(ctx, did); err != nil {
		t.Fatalf("UnblockDID() error = %v", err)
	}
	if err := m.AddDID(ctx, did); err != nil {
		t.Fatalf("AddDID() after unblock error = %v", err)
	}

	dids, err := m.GetTrustedDIDs(ctx)
	if err != nil || len(dids) != 1 || dids[0] != did {
		t.Fatalf("GetTrustedDIDs() = %v, %v", dids, err)
	}
}
