package activitylog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/storage"
)

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	log := NewLog(storage.NewMemoryStore(), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	credID := uuid.New()
	otherID := uuid.New()

	if _, err := log.Append(ctx, credID, TypeProvisioned, "credential issued", "issuer.example", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := log.Append(ctx, credID, TypeShared, "presented to verifier", "verifier.example", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := log.Append(ctx, otherID, TypeProvisioned, "other credential", "", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := log.List(ctx, credID, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Type != TypeShared {
		t.Errorf("entries[0].Type = %s, want Shared", entries[0].Type)
	}

	shared, err := log.List(ctx, credID, Filter{Type: TypeShared})
	if err != nil || len(shared) != 1 {
		t.Fatalf("List(Shared) = %v, %v; want one entry", shared, err)
	}

	byCounterparty, err := log.List(ctx, credID, Filter{Counterparty: "issuer.example"})
	if err != nil || len(byCounterparty) != 1 || byCounterparty[0].Type != TypeProvisioned {
		t.Fatalf("List(counterparty) = %v, %v", byCounterparty, err)
	}

	all, err := log.ListAll(ctx, Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("ListAll() = %d entries, %v; want 3", len(all), err)
	}
}

func TestTimeWindowFilter(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	log := NewLog(storage.NewMemoryStore(), WithClock(func() time.Time { return current }))

	credID := uuid.New()
	for i := 0; i < 3; i++ {
		current = base.Add(time.Duration(i) * time.Hour)
		if _, err := log.Append(ctx, credID, TypeReview, "review", "", ""); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := log.List(ctx, credID, Filter{
		From:  base.Add(30 * time.Minute),
		Until: base.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("window filter returned %d entries, want 1", len(entries))
	}
}
