package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/pkce"
	"github.com/membank/authserver/session"
	"github.com/membank/authserver/tokenhash"
)

type sessionStore struct {
	parent *SQLStore
}

var _ session.Store = (*sessionStore)(nil)

const sessionColumns = `id, state_hash, client_id, redirect_uri, scope,
	code_challenge, code_challenge_method, code_lookup, code_hash,
	principal, status, created_at, expires_at`

func (s *sessionStore) Create(ctx context.Context, state string, sess *session.Session) error {
	if state == "" {
		return errors.New("[sessionStore.Create] state is empty")
	}
	if sess == nil {
		return errors.New("[sessionStore.Create] session is nil")
	}

	_, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`INSERT INTO authorization_sessions
		 (id, state_hash, client_id, redirect_uri, scope, code_challenge,
		  code_challenge_method, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, tokenhash.HashFast(state), sess.ClientID, sess.RedirectURI,
		sess.Scope, sess.CodeChallenge, string(sess.CodeChallengeMethod),
		string(session.StatusPending), sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return session.ErrDuplicateState
		}
		return errors.Wrap(err, "[sessionStore.Create]")
	}
	return nil
}

func (s *sessionStore) FindByState(ctx context.Context, state string) (*session.Session, error) {
	row := s.parent.db.QueryRowContext(ctx, s.parent.q(
		`SELECT `+sessionColumns+` FROM authorization_sessions
		 WHERE state_hash = ? AND status = ? AND expires_at > ?`),
		tokenhash.HashFast(state), string(session.StatusPending), s.parent.nowFunc().Unix(),
	)
	return scanSession(row)
}

func (s *sessionStore) FindByCode(ctx context.Context, code string) (*session.Session, error) {
	row := s.parent.db.QueryRowContext(ctx, s.parent.q(
		`SELECT `+sessionColumns+` FROM authorization_sessions
		 WHERE code_lookup = ? AND status = ? AND expires_at > ?`),
		tokenhash.HashFast(code), string(session.StatusCodeIssued), s.parent.nowFunc().Unix(),
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if !s.parent.hasher.VerifySensitive(code, sess.CodeHash) {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (s *sessionStore) SetCode(ctx context.Context, state, code string, principal oauthmodel.Principal, newExpiry time.Time) error {
	codeHash, err := s.parent.hasher.HashSensitive(code)
	if err != nil {
		return errors.Wrap(err, "[sessionStore.SetCode] hash code")
	}
	principalJSON, err := json.Marshal(principal)
	if err != nil {
		return errors.Wrap(err, "[sessionStore.SetCode] marshal principal")
	}

	res, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`UPDATE authorization_sessions
		 SET code_lookup = ?, code_hash = ?, principal = ?, expires_at = ?
		 WHERE state_hash = ? AND status = ? AND code_lookup IS NULL AND expires_at > ?`),
		tokenhash.HashFast(code), codeHash, string(principalJSON), newExpiry.Unix(),
		tokenhash.HashFast(state), string(session.StatusPending), s.parent.nowFunc().Unix(),
	)
	if err != nil {
		return errors.Wrap(err, "[sessionStore.SetCode]")
	}
	return s.consumeOutcome(ctx, res, "state_hash", tokenhash.HashFast(state))
}

func (s *sessionStore) MarkStateUsed(ctx context.Context, state string) error {
	res, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`UPDATE authorization_sessions SET status = ?
		 WHERE state_hash = ? AND status = ?`),
		string(session.StatusCodeIssued), tokenhash.HashFast(state), string(session.StatusPending),
	)
	if err != nil {
		return errors.Wrap(err, "[sessionStore.MarkStateUsed]")
	}
	return s.consumeOutcome(ctx, res, "state_hash", tokenhash.HashFast(state))
}

func (s *sessionStore) MarkCodeUsed(ctx context.Context, code string) error {
	res, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`UPDATE authorization_sessions SET status = ?
		 WHERE code_lookup = ? AND status = ?`),
		string(session.StatusConsumed), tokenhash.HashFast(code), string(session.StatusCodeIssued),
	)
	if err != nil {
		return errors.Wrap(err, "[sessionStore.MarkCodeUsed]")
	}
	return s.consumeOutcome(ctx, res, "code_lookup", tokenhash.HashFast(code))
}

func (s *sessionStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.parent.db.ExecContext(ctx, s.parent.q(
		`DELETE FROM authorization_sessions WHERE expires_at <= ?`),
		s.parent.nowFunc().Unix(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "[sessionStore.Sweep]")
	}
	return res.RowsAffected()
}

// consumeOutcome turns zero-rows-affected into the right sentinel: the row
// exists but lost the race (already used), or it never existed.
func (s *sessionStore) consumeOutcome(ctx context.Context, res sql.Result, keyColumn, keyValue string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[sessionStore] rows affected")
	}
	if affected > 0 {
		return nil
	}

	var one int
	err = s.parent.db.QueryRowContext(ctx, s.parent.q(
		`SELECT 1 FROM authorization_sessions WHERE `+keyColumn+` = ?`), keyValue,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "[sessionStore] existence check")
	}
	return session.ErrAlreadyUsed
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var (
		sess          session.Session
		method        string
		status        string
		codeLookup    sql.NullString
		codeHash      sql.NullString
		principalJSON sql.NullString
		createdAt     int64
		expiresAt     int64
	)
	err := row.Scan(&sess.ID, &sess.StateHash, &sess.ClientID, &sess.RedirectURI,
		&sess.Scope, &sess.CodeChallenge, &method, &codeLookup, &codeHash,
		&principalJSON, &status, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[scanSession]")
	}

	sess.CodeChallengeMethod = pkce.Method(method)
	sess.Status = session.Status(status)
	sess.CodeLookup = codeLookup.String
	sess.CodeHash = codeHash.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)

	if principalJSON.Valid && principalJSON.String != "" {
		var p oauthmodel.Principal
		if err := json.Unmarshal([]byte(principalJSON.String), &p); err != nil {
			return nil, errors.Wrap(err, "[scanSession] unmarshal principal")
		}
		sess.Principal = &p
	}
	return &sess, nil
}

// isUniqueViolation matches unique-constraint errors across sqlite and
// postgres without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
