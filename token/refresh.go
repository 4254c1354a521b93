package token

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/tokenhash"
)

// RefreshToken is the server-side record of an issued refresh token. The
// plaintext is shown to the caller exactly once at issuance; only Lookup
// (fast digest, unique index) and Hash (slow hash, verified on use)
// persist.
type RefreshToken struct {
	Lookup    string
	Hash      string
	Principal oauthmodel.Principal
	Scope     string
	Profile   Profile
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

var (
	// ErrRefreshNotFound covers unknown, expired, and revoked tokens.
	ErrRefreshNotFound = errors.New("refresh token not found")
)

// RefreshTokenStore persists refresh token records keyed by their lookup
// hash.
type RefreshTokenStore interface {
	Create(ctx context.Context, rt *RefreshToken) error
	// FindByLookup returns a live (unexpired, unrevoked) record.
	FindByLookup(ctx context.Context, lookup string) (*RefreshToken, error)
	// Revoke flags the record; revoking an unknown token is not an error.
	Revoke(ctx context.Context, lookup string) error
	// DeleteExpired removes dead rows, returning the number removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// InMemoryRefreshTokenStore is a mutex-guarded map implementation used in
// tests and single-process development.
type InMemoryRefreshTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]*RefreshToken
	nowFunc func() time.Time
}

func NewInMemoryRefreshTokenStore() *InMemoryRefreshTokenStore {
	return &InMemoryRefreshTokenStore{
		tokens:  make(map[string]*RefreshToken),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock (for tests).
func (r *InMemoryRefreshTokenStore) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = now
}

func (r *InMemoryRefreshTokenStore) Create(_ context.Context, rt *RefreshToken) error {
	if rt == nil || rt.Lookup == "" {
		return errors.New("[InMemoryRefreshTokenStore.Create] missing lookup")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rt
	r.tokens[rt.Lookup] = &cp
	return nil
}

func (r *InMemoryRefreshTokenStore) FindByLookup(_ context.Context, lookup string) (*RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tokens[lookup]
	if !ok || rt.Revoked || !r.nowFunc().Before(rt.ExpiresAt) {
		return nil, ErrRefreshNotFound
	}
	cp := *rt
	return &cp, nil
}

func (r *InMemoryRefreshTokenStore) Revoke(_ context.Context, lookup string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.tokens[lookup]; ok {
		rt.Revoked = true
	}
	return nil
}

func (r *InMemoryRefreshTokenStore) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	var removed int64
	for lookup, rt := range r.tokens {
		if rt.Revoked || !now.Before(rt.ExpiresAt) {
			delete(r.tokens, lookup)
			removed++
		}
	}
	return removed, nil
}

// ListCredentialHashes implements tokenhash.CredentialStore so legacy
// fast-hashed refresh tokens can be flagged for regeneration.
func (r *InMemoryRefreshTokenStore) ListCredentialHashes(_ context.Context) ([]tokenhash.CredentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]tokenhash.CredentialRecord, 0, len(r.tokens))
	for lookup, rt := range r.tokens {
		records = append(records, tokenhash.CredentialRecord{ID: lookup, Hash: rt.Hash})
	}
	return records, nil
}

// FlagForRegeneration implements tokenhash.CredentialStore by revoking the
// flagged tokens.
func (r *InMemoryRefreshTokenStore) FlagForRegeneration(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if rt, ok := r.tokens[id]; ok {
			rt.Revoked = true
		}
	}
	return nil
}
