// Package activitylog keeps an append-only audit trail per credential.
// Entries are JSON blobs under ActivityLogEntry.<credential_id>.<entry_id>;
// nothing deletes them silently.
package activitylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/storage"
)

const keyPrefix = "ActivityLogEntry."

// EntryType classifies what happened to the credential.
type EntryType string

const (
	TypeProvisioned EntryType = "Provisioned"
	TypeShared      EntryType = "Shared"
	TypeRefresh     EntryType = "Refresh"
	TypeReview      EntryType = "Review"
	TypeDeleted     EntryType = "Deleted"
)

type Entry struct {
	ID           uuid.UUID `json:"id"`
	CredentialID uuid.UUID `json:"credential_id"`
	Type         EntryType `json:"type"`
	Timestamp    int64     `json:"timestamp"`
	Description  string    `json:"description"`
	Counterparty string    `json:"counterparty,omitempty"`
	CallToAction string    `json:"call_to_action,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type         EntryType
	Counterparty string
	// From and Until bound the entry timestamp, inclusive.
	From  time.Time
	Until time.Time
}

func (f Filter) matches(e Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Counterparty != "" && e.Counterparty != f.Counterparty {
		return false
	}
	if !f.From.IsZero() && e.Timestamp < f.From.Unix() {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp > f.Until.Unix() {
		return false
	}
	return true
}

type Log struct {
	store storage.Store
	now   func() time.Time
}

type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func NewLog(store storage.Store, opts ...Option) *Log {
	l := &Log{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a new entry and returns it.
func (l *Log) Append(ctx context.Context, credentialID uuid.UUID, entryType EntryType, description, counterparty, callToAction string) (*Entry, error) {
	entry := Entry{
		ID:           uuid.New(),
		CredentialID: credentialID,
		Type:         entryType,
		Timestamp:    l.now().Unix(),
		Description:  description,
		Counterparty: counterparty,
		CallToAction: callToAction,
	}
	blob, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity entry: %w", err)
	}
	key := fmt.Sprintf("%s%s.%s", keyPrefix, credentialID, entry.ID)
	if err := l.store.Add(ctx, key, blob); err != nil {
		return nil, fmt.Errorf("failed to store activity entry: %w", err)
	}
	return &entry, nil
}

// List returns the entries for one credential, newest first, optionally
// filtered.
func (l *Log) List(ctx context.Context, credentialID uuid.UUID, filter Filter) ([]Entry, error) {
	prefix := fmt.Sprintf("%s%s.", keyPrefix, credentialID)
	keys, err := storage.ListPrefix(ctx, l.store, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity entries: %w", err)
	}

	var entries []Entry
	for _, key := range keys {
		blob, err := l.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read activity entry %s: %w", key, err)
		}
		var entry Entry
		if err := json.Unmarshal(blob, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode activity entry %s: %w", key, err)
		}
		if filter.matches(entry) {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })
	return entries, nil
}

// ListAll returns entries across every credential, newest first.
func (l *Log) ListAll(ctx context.Context, filter Filter) ([]Entry, error) {
	keys, err := storage.ListPrefix(ctx, l.store, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity entries: %w", err)
	}

	var entries []Entry
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		blob, err := l.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read activity entry %s: %w", key, err)
		}
		var entry Entry
		if err := json.Unmarshal(blob, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode activity entry %s: %w", key, err)
		}
		if filter.matches(entry) {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })
	return entries, nil
}
