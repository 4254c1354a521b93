package store_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/session"
	"github.com/membank/authserver/store"
	"github.com/membank/authserver/token"
	"github.com/membank/authserver/tokenhash"
)

const (
	testState = "state-token-1"
	testCode  = "code-token-1"
)

var testPrincipal = oauthmodel.Principal{
	UserID:         "user-1",
	VendorCode:     "vendor-1",
	OrganizationID: "org-1",
	Scopes:         []string{"read"},
}

type storeFixture struct {
	store *store.SQLStore
	now   time.Time
}

func setupSQLiteStore(t *testing.T) *storeFixture {
	t.Helper()

	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One in-memory database per test; a second pooled connection would
	// see an empty schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, store.Migrate(db, "sqlite"))

	f := &storeFixture{
		store: store.New(db, "sqlite", tokenhash.NewHasher(bcrypt.MinCost)),
		now:   time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}
	f.store.SetNowFunc(func() time.Time { return f.now })
	return f
}

func pendingSession(now time.Time) *session.Session {
	return &session.Session{
		ID:                  "sess-1",
		ClientID:            "client-1",
		RedirectURI:         "http://localhost:3000/callback",
		Scope:               "read",
		CodeChallenge:       "challenge-value",
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	f := setupSQLiteStore(t)
	sessions := f.store.Sessions()
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, testState, pendingSession(f.now)))

	found, err := sessions.FindByState(ctx, testState)
	require.NoError(t, err)
	require.Equal(t, "client-1", found.ClientID)
	require.Equal(t, session.StatusPending, found.Status)
	require.Nil(t, found.Principal)

	require.NoError(t, sessions.SetCode(ctx, testState, testCode, testPrincipal, f.now.Add(5*time.Minute)))
	require.NoError(t, sessions.MarkStateUsed(ctx, testState))

	_, err = sessions.FindByState(ctx, testState)
	require.ErrorIs(t, err, session.ErrNotFound)

	byCode, err := sessions.FindByCode(ctx, testCode)
	require.NoError(t, err)
	require.Equal(t, session.StatusCodeIssued, byCode.Status)
	require.NotNil(t, byCode.Principal)
	require.Equal(t, "user-1", byCode.Principal.UserID)
	require.True(t, tokenhash.IsSlowHash(byCode.CodeHash))

	require.NoError(t, sessions.MarkCodeUsed(ctx, testCode))
	_, err = sessions.FindByCode(ctx, testCode)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionStoreDuplicateState(t *testing.T) {
	f := setupSQLiteStore(t)
	sessions := f.store.Sessions()
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, testState, pendingSession(f.now)))
	require.ErrorIs(t, sessions.Create(ctx, testState, pendingSession(f.now)), session.ErrDuplicateState)
}

func TestSessionStoreReplays(t *testing.T) {
	f := setupSQLiteStore(t)
	sessions := f.store.Sessions()
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, testState, pendingSession(f.now)))
	require.NoError(t, sessions.SetCode(ctx, testState, testCode, testPrincipal, f.now.Add(5*time.Minute)))

	require.ErrorIs(t, sessions.SetCode(ctx, testState, "other-code", testPrincipal, f.now.Add(5*time.Minute)), session.ErrAlreadyUsed)

	require.NoError(t, sessions.MarkStateUsed(ctx, testState))
	require.ErrorIs(t, sessions.MarkStateUsed(ctx, testState), session.ErrAlreadyUsed)
	require.ErrorIs(t, sessions.MarkStateUsed(ctx, "unknown-state"), session.ErrNotFound)

	require.NoError(t, sessions.MarkCodeUsed(ctx, testCode))
	require.ErrorIs(t, sessions.MarkCodeUsed(ctx, testCode), session.ErrAlreadyUsed)
	require.ErrorIs(t, sessions.MarkCodeUsed(ctx, "unknown-code"), session.ErrNotFound)
}

func TestSessionStoreExpiry(t *testing.T) {
	f := setupSQLiteStore(t)
	sessions := f.store.Sessions()
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, testState, pendingSession(f.now)))

	f.now = f.now.Add(11 * time.Minute)
	_, err := sessions.FindByState(ctx, testState)
	require.ErrorIs(t, err, session.ErrNotFound)

	removed, err := sessions.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestRefreshTokenStore(t *testing.T) {
	f := setupSQLiteStore(t)
	tokens := f.store.RefreshTokens()
	ctx := context.Background()

	hasher := tokenhash.NewHasher(bcrypt.MinCost)
	slowHash, err := hasher.HashSensitive("refresh-plaintext")
	require.NoError(t, err)

	rt := &token.RefreshToken{
		Lookup:    tokenhash.HashFast("refresh-plaintext"),
		Hash:      slowHash,
		Principal: testPrincipal,
		Scope:     "read",
		Profile:   token.ProfileCLI,
		IssuedAt:  f.now,
		ExpiresAt: f.now.Add(24 * time.Hour),
	}
	require.NoError(t, tokens.Create(ctx, rt))

	found, err := tokens.FindByLookup(ctx, rt.Lookup)
	require.NoError(t, err)
	require.Equal(t, "user-1", found.Principal.UserID)
	require.Equal(t, token.ProfileCLI, found.Profile)
	require.Equal(t, rt.ExpiresAt.Unix(), found.ExpiresAt.Unix())

	require.NoError(t, tokens.Revoke(ctx, rt.Lookup))
	_, err = tokens.FindByLookup(ctx, rt.Lookup)
	require.ErrorIs(t, err, token.ErrRefreshNotFound)

	removed, err := tokens.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestRefreshTokenStoreExpiry(t *testing.T) {
	f := setupSQLiteStore(t)
	tokens := f.store.RefreshTokens()
	ctx := context.Background()

	rt := &token.RefreshToken{
		Lookup:    tokenhash.HashFast("short-lived"),
		Hash:      "$2a$04$fakehashfakehashfakehashfakehashfakehashfakehashfake",
		Principal: testPrincipal,
		ExpiresAt: f.now.Add(time.Minute),
		IssuedAt:  f.now,
	}
	require.NoError(t, tokens.Create(ctx, rt))

	f.now = f.now.Add(2 * time.Minute)
	_, err := tokens.FindByLookup(ctx, rt.Lookup)
	require.ErrorIs(t, err, token.ErrRefreshNotFound)
}

func TestRefreshTokenCredentialMigration(t *testing.T) {
	f := setupSQLiteStore(t)
	tokens := f.store.RefreshTokens()
	creds := f.store.RefreshTokenCredentials()
	ctx := context.Background()

	hasher := tokenhash.NewHasher(bcrypt.MinCost)
	slowHash, err := hasher.HashSensitive("modern")
	require.NoError(t, err)

	modern := &token.RefreshToken{
		Lookup: tokenhash.HashFast("modern"), Hash: slowHash,
		Principal: testPrincipal, IssuedAt: f.now, ExpiresAt: f.now.Add(time.Hour),
	}
	legacy := &token.RefreshToken{
		Lookup: tokenhash.HashFast("legacy"), Hash: tokenhash.HashFast("legacy"),
		Principal: testPrincipal, IssuedAt: f.now, ExpiresAt: f.now.Add(time.Hour),
	}
	require.NoError(t, tokens.Create(ctx, modern))
	require.NoError(t, tokens.Create(ctx, legacy))

	flagged, err := tokenhash.MigrateLegacyHashes(ctx, creds)
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	// The legacy token is revoked, the modern one untouched.
	_, err = tokens.FindByLookup(ctx, legacy.Lookup)
	require.ErrorIs(t, err, token.ErrRefreshNotFound)
	_, err = tokens.FindByLookup(ctx, modern.Lookup)
	require.NoError(t, err)
}

// Unreachable-database behavior is checked with sqlmock; the sqlite paths
// above cover the happy flows.
func TestSessionStoreDatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db, "postgres", tokenhash.NewHasher(bcrypt.MinCost))
	sessions := s.Sessions()
	ctx := context.Background()

	t.Run("find propagates driver errors", func(t *testing.T) {
		mock.ExpectQuery(`(?s)SELECT .+ FROM authorization_sessions`).
			WillReturnError(errors.New("connection refused"))

		_, err := sessions.FindByState(ctx, testState)
		require.Error(t, err)
		require.NotErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("insert uses postgres placeholders", func(t *testing.T) {
		mock.ExpectExec(`(?s)INSERT INTO authorization_sessions.+\$1`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, sessions.Create(ctx, testState, pendingSession(time.Now().Add(time.Minute))))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
