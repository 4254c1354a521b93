package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/token"
	"github.com/membank/authserver/tokenhash"
)

type refreshTokenStore struct {
	parent *SQLStore
}

var (
	_ token.RefreshTokenStore   = (*refreshTokenStore)(nil)
	_ tokenhash.CredentialStore = (*refreshTokenStore)(nil)
)

func (s *refreshTokenStore) Create(ctx context.Context, rt *token.RefreshToken) error {
	if rt == nil || rt.Lookup == "" {
		return errors.New("[refreshTokenStore.Create] missing lookup")
	}
	principalJSON, err := json.Marshal(rt.Principal)
	if err != nil {
		return errors.Wrap(err, "[refreshTokenStore.Create] marshal principal")
	}

	_, err = s.parent.db.ExecContext(ctx, s.parent.q(
		`INSERT INTO refresh_tokens
		 (lookup, token_hash, principal, scope, profile, issued_at, expires_at, revoked)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`),
		rt.Lookup, rt.Hash, string(principalJSON), rt.Scope, string(rt.Profile),
		rt.IssuedAt.Unix(), rt.ExpiresAt.Unix(),
	)
	if err != nil {
		return errors.Wrap(err, "[refreshTokenStore.Create]")
	}
	return nil
}

func (s *refreshTokenStore) FindByLookup(ctx context.Context, lookup string) (*token.RefreshToken, error) {
	row := s.parent.db.QueryRowContext(ctx, s.parent.q(
		`SELECT lookup, token_hash, principal, scope, profile, issued_at, expires_at
		 FROM refresh_tokens
		 WHERE lookup = ? AND revoked = 0 AND expires_at > ?`),
		lookup, s.parent.nowFunc().Unix(),
	)

	var (
		rt            token.RefreshToken
		principalJSON string
		profile       string
		issuedAt      int64
		expiresAt     int64
	)
	err := row.Scan(&rt.Lookup, &rt.Hash, &principalJSON, &rt.Scope, &profile, &issuedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrRefreshNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[refreshTokenStore.FindByLookup]")
	}

	var p oauthmodel.Principal
	if err := json.Unmarshal([]byte(principalJSON), &p); err != nil {
		return nil, errors.Wrap(err, "[refreshTokenStore.FindByLookup] unmarshal principal")
	}
	rt.Principal = p
	rt.Profile = token.Profile(profile)
	rt.IssuedAt = time.Unix(issuedAt, 0)
	rt.ExpiresAt = time.Unix(expiresAt, 0)
	return &rt, nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, lookup string) error {
	_, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`UPDATE refresh_tokens SET revoked = 1 WHERE lookup = ?`), lookup)
	if err != nil {
		return errors.Wrap(err, "[refreshTokenStore.Revoke]")
	}
	return nil
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`DELETE FROM refresh_tokens WHERE expires_at <= ? OR revoked = 1`),
		s.parent.nowFunc().Unix(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "[refreshTokenStore.DeleteExpired]")
	}
	return res.RowsAffected()
}

// ListCredentialHashes implements tokenhash.CredentialStore for the hash
// migration.
func (s *refreshTokenStore) ListCredentialHashes(ctx context.Context) ([]tokenhash.CredentialRecord, error) {
	rows, err := s.parent.db.QueryContext(ctx, s.parent.q(
		`SELECT lookup, token_hash FROM refresh_tokens WHERE revoked = 0`))
	if err != nil {
		return nil, errors.Wrap(err, "[refreshTokenStore.ListCredentialHashes]")
	}
	defer rows.Close()

	var records []tokenhash.CredentialRecord
	for rows.Next() {
		var rec tokenhash.CredentialRecord
		if err := rows.Scan(&rec.ID, &rec.Hash); err != nil {
			return nil, errors.Wrap(err, "[refreshTokenStore.ListCredentialHashes] scan")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FlagForRegeneration revokes legacy fast-hashed tokens so their owners
// must re-authenticate.
func (s *refreshTokenStore) FlagForRegeneration(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`UPDATE refresh_tokens SET revoked = 1 WHERE lookup IN (`+placeholders+`)`), args...)
	if err != nil {
		return errors.Wrap(err, "[refreshTokenStore.FlagForRegeneration]")
	}
	return nil
}
