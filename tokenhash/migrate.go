package tokenhash

import (
	"context"

	"github.com/pkg/errors"
)

// CredentialRecord is a stored credential hash visible to the migrator.
type CredentialRecord struct {
	ID   string
	Hash string
}

// CredentialStore is implemented by stores holding slow-hashable
// credentials (authorization codes, refresh tokens).
type CredentialStore interface {
	// ListCredentialHashes returns every stored credential hash.
	ListCredentialHashes(ctx context.Context) ([]CredentialRecord, error)
	// FlagForRegeneration invalidates the given records so their owners
	// must re-authenticate.
	FlagForRegeneration(ctx context.Context, ids []string) error
}

// MigrateLegacyHashes flags every record whose hash is not slow-hash-tagged.
// A fast hash cannot be upgraded in place because the plaintext is gone, so
// affected credentials are invalidated rather than silently re-hashed.
// Returns the number of records flagged.
func MigrateLegacyHashes(ctx context.Context, store CredentialStore) (int, error) {
	records, err := store.ListCredentialHashes(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "[MigrateLegacyHashes] list")
	}

	var legacy []string
	for _, rec := range records {
		if rec.Hash == "" || IsSlowHash(rec.Hash) {
			continue
		}
		legacy = append(legacy, rec.ID)
	}
	if len(legacy) == 0 {
		return 0, nil
	}

	if err := store.FlagForRegeneration(ctx, legacy); err != nil {
		return 0, errors.Wrap(err, "[MigrateLegacyHashes] flag")
	}
	return len(legacy), nil
}
