// Package trust curates the set of issuer identifiers the wallet accepts.
// Trust state is one byte of truth per DID under the TrustedDIDs. prefix:
// "true" for trusted, "false" for blocked.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spruceid/mobile-sdk-go/storage"
)

const keyPrefix = "TrustedDIDs."

// ErrBlocked is returned by AddDID for identifiers that were explicitly
// blocked; unblock first.
var ErrBlocked = errors.New("trust: did is blocked")

type Manager struct {
	store storage.Store
}

func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// AddDID marks an identifier trusted. Blocked identifiers stay blocked
// until UnblockDID.
func (m *Manager) AddDID(ctx context.Context, did string) error {
	value, err := m.store.Get(ctx, keyPrefix+did)
	if err == nil && string(value) == "false" {
		return fmt.Errorf("%w: %s", ErrBlocked, did)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read trust state: %w", err)
	}
	return m.store.Add(ctx, keyPrefix+did, []byte("true"))
}

// RemoveDID forgets an identifier entirely, trusted or blocked.
func (m *Manager) RemoveDID(ctx context.Context, did string) error {
	return m.store.Remove(ctx, keyPrefix+did)
}

// BlockDID marks an identifier blocked; AddDID refuses it until unblocked.
func (m *Manager) BlockDID(ctx context.Context, did string) error {
	return m.store.Add(ctx, keyPrefix+did, []byte("false"))
}

// UnblockDID lifts a block without granting trust.
func (m *Manager) UnblockDID(ctx context.Context, did string) error {
	value, err := m.store.Get(ctx, keyPrefix+did)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read trust state: %w", err)
	}
	if string(value) == "false" {
		return m.store.Remove(ctx, keyPrefix+did)
	}
	return nil
}

// IsTrusted reports whether the identifier is currently trusted.
func (m *Manager) IsTrusted(ctx context.Context, did string) (bool, error) {
	value, err := m.store.Get(ctx, keyPrefix+did)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read trust state: %w", err)
	}
	return string(value) == "true", nil
}

func (m *Manager) GetTrustedDIDs(ctx context.Context) ([]string, error) {
	return m.listWithValue(ctx, "true")
}

func (m *Manager) GetBlockedDIDs(ctx context.Context) ([]string, error) {
	return m.listWithValue(ctx, "false")
}

func (m *Manager) listWithValue(ctx context.Context, want string) ([]string, error) {
	keys, err := storage.ListPrefix(ctx, m.store, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list trust entries: %w", err)
	}
	var dids []string
	for _, key := range keys {
		value, err := m.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read trust entry %s: %w", key, err)
		}
		if string(value) == want {
			dids = append(dids, strings.TrimPrefix(key, keyPrefix))
		}
	}
	return dids, nil
}
