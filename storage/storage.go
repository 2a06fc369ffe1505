// Package storage defines the key/value capability the host injects. Keys
// are opaque strings; prefix conventions carve out logical namespaces
// (Credential.<id>, TrustedDIDs.<did>, ActivityLogEntry.<cid>.<eid>).
// No ordering, no transactions; implementations must be safe for concurrent
// use.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrInvalidKey is returned for keys the backend cannot represent.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrNotFound is returned by Get for absent keys.
	ErrNotFound = errors.New("storage: key not found")
	// ErrStoreFull is returned when the backend is out of space.
	ErrStoreFull = errors.New("storage: store full")
	// ErrCouldNotDecrypt is returned by encrypted backends on decryption
	// failure.
	ErrCouldNotDecrypt = errors.New("storage: could not decrypt value")
)

// Store is a namespaced key/value store. Remove is idempotent.
type Store interface {
	Add(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, key string) error
}

// ListPrefix filters List by prefix. Callers treat the result as a snapshot
// approximation; entries written concurrently may be missed or repeated.
func ListPrefix(ctx context.Context, s Store, prefix string) ([]string, error) {
	keys, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}
