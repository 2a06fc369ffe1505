package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spruceid/mobile-sdk-go/storage"
)

// credentialKeyPrefix namespaces collection entries in the shared store.
const credentialKeyPrefix = "Credential."

// ErrCredentialNotFound is returned by Get for ids absent from the store.
var ErrCredentialNotFound = errors.New("credential: not found")

// envelope is the persisted form of a collection entry. The parsed
// credential is rebuilt from the payload on every Get.
type envelope struct {
	ID       string `json:"id"`
	Format   string `json:"format"`
	Type     string `json:"type"`
	Payload  string `json:"payload"`
	KeyAlias string `json:"keyAlias,omitempty"`
}

// VdcCollection is the persistent credential catalogue. It holds raw
// payloads plus metadata; entries are never mutated in place, an update is
// an Add of the replacement followed by a Delete of the old id.
type VdcCollection struct {
	store storage.Store
}

func NewVdcCollection(store storage.Store) *VdcCollection {
	return &VdcCollection{store: store}
}

// Add persists the credential's raw payload and metadata under its id.
func (c *VdcCollection) Add(ctx context.Context, cred Credential) error {
	env := envelope{
		ID:       cred.ID(),
		Format:   string(cred.Format()),
		Type:     cred.Type(),
		Payload:  base64.RawURLEncoding.EncodeToString(cred.Payload()),
		KeyAlias: cred.KeyAlias(),
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialise credential %s: %w", cred.ID(), err)
	}
	return c.store.Add(ctx, credentialKeyPrefix+cred.ID(), encoded)
}

// Get rehydrates the credential stored under id through its format's
// constructor. The rehydrated credential keeps the stored id.
func (c *VdcCollection) Get(ctx context.Context, id string) (Credential, error) {
	raw, err := c.store.Get(ctx, credentialKeyPrefix+id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse credential envelope %s: %w", id, err)
	}
	payload, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credential payload %s: %w", id, err)
	}

	cred, err := rehydrate(env, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to rehydrate credential %s: %w", id, err)
	}
	return cred, nil
}

// AllEntries lists the ids of every stored credential, sorted for stable
// iteration. The listing is a snapshot approximation under concurrent
// writes.
func (c *VdcCollection) AllEntries(ctx context.Context) ([]string, error) {
	keys, err := storage.ListPrefix(ctx, c.store, credentialKeyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, credentialKeyPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// All rehydrates every stored credential. Entries that no longer parse are
// skipped rather than failing the whole listing.
func (c *VdcCollection) All(ctx context.Context) ([]Credential, error) {
	ids, err := c.AllEntries(ctx)
	if err != nil {
		return nil, err
	}
	creds := make([]Credential, 0, len(ids))
	for _, id := range ids {
		cred, err := c.Get(ctx, id)
		if err != nil {
			continue
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// Delete removes the credential stored under id. Deleting an absent id is
// not an error.
func (c *VdcCollection) Delete(ctx context.Context, id string) error {
	return c.store.Remove(ctx, credentialKeyPrefix+id)
}

// rehydrate dispatches to the per-format constructor and restores the
// persisted id so references held elsewhere stay valid.
func rehydrate(env envelope, payload []byte) (Credential, error) {
	switch ClaimFormat(env.Format) {
	case FormatJwtVc:
		cred, err := NewJwtVc(string(payload), env.KeyAlias)
		if err != nil {
			return nil, err
		}
		cred.id = env.ID
		return cred, nil
	case FormatJwtVcJsonLd:
		cred, err := NewJwtVcJsonLd(string(payload), env.KeyAlias)
		if err != nil {
			return nil, err
		}
		cred.id = env.ID
		return cred, nil
	case FormatLdpVc:
		cred, err := NewJsonVc(payload, env.KeyAlias)
		if err != nil {
			return nil, err
		}
		cred.id = env.ID
		return cred, nil
	case FormatSdJwt, FormatVcdm2SdJwt:
		cred, err := NewSdJwtVc(string(payload), env.KeyAlias)
		if err != nil {
			return nil, err
		}
		cred.id = env.ID
		return cred, nil
	case FormatMsoMdoc:
		cred, err := NewMdoc(payload, env.KeyAlias)
		if err != nil {
			return nil, err
		}
		cred.id = env.ID
		return cred, nil
	case FormatCwt:
		cred, err := NewCwtCredential(payload)
		if err != nil {
			return nil, err
		}
		cred.id = env.ID
		return cred, nil
	default:
		return nil, fmt.Errorf("unknown credential format %q", env.Format)
	}
}
