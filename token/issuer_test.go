package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/token"
	"github.com/membank/authserver/tokenhash"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "https://auth.example.com"
)

var testPrincipal = oauthmodel.Principal{
	UserID:         "user-1",
	VendorCode:     "vendor-1",
	OrganizationID: "org-1",
	Scopes:         []string{"read", "write"},
}

type issuerFixture struct {
	issuer  *token.Issuer
	refresh *token.InMemoryRefreshTokenStore
	now     time.Time
}

func setupIssuer(t *testing.T) *issuerFixture {
	t.Helper()

	signer, err := token.NewHMACSigner(testSecret)
	require.NoError(t, err)

	f := &issuerFixture{
		refresh: token.NewInMemoryRefreshTokenStore(),
		now:     time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}
	f.refresh.SetNowFunc(func() time.Time { return f.now })

	f.issuer, err = token.NewIssuer(signer, f.refresh, tokenhash.NewHasher(bcrypt.MinCost), testIssuer,
		token.WithNowFunc(func() time.Time { return f.now }))
	require.NoError(t, err)
	return f
}

func TestIssueClaims(t *testing.T) {
	f := setupIssuer(t)

	resp, err := f.issuer.Issue(context.Background(), testPrincipal, "read write", token.ProfileBrowser)
	require.NoError(t, err)
	require.Equal(t, "bearer", resp.TokenType)
	require.Equal(t, int(token.DefaultBrowserTTL.Seconds()), resp.ExpiresIn)
	require.NotEmpty(t, resp.RefreshToken)

	parsed, err := jwt.Parse(resp.AccessToken, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return f.now }))
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, testIssuer, claims["iss"])
	require.Equal(t, testPrincipal.Subject(), claims["sub"])
	require.Equal(t, "org-1", claims["org"])
	require.Equal(t, "read write", claims["scope"])
	require.NotEmpty(t, claims["jti"])
	require.EqualValues(t, f.now.Unix(), claims["iat"])
	require.EqualValues(t, f.now.Add(token.DefaultBrowserTTL).Unix(), claims["exp"])
}

func TestAccessTTLPerProfile(t *testing.T) {
	f := setupIssuer(t)
	require.Equal(t, token.DefaultBrowserTTL, f.issuer.AccessTTL(token.ProfileBrowser))
	require.Equal(t, token.DefaultCLITTL, f.issuer.AccessTTL(token.ProfileCLI))
}

func TestVerify(t *testing.T) {
	f := setupIssuer(t)

	resp, err := f.issuer.Issue(context.Background(), testPrincipal, "read", token.ProfileBrowser)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		claims, err := f.issuer.Verify(resp.AccessToken)
		require.NoError(t, err)
		require.Equal(t, testPrincipal.Subject(), claims.Subject)
		require.Equal(t, "org-1", claims.OrganizationID)
		require.Equal(t, "read", claims.Scope)
		require.Equal(t, f.now.Add(token.DefaultBrowserTTL).Unix(), claims.ExpiresAt.Unix())
	})

	t.Run("expired token", func(t *testing.T) {
		f.now = f.now.Add(token.DefaultBrowserTTL + time.Minute)
		defer func() { f.now = f.now.Add(-(token.DefaultBrowserTTL + time.Minute)) }()

		_, err := f.issuer.Verify(resp.AccessToken)
		require.ErrorIs(t, err, token.ErrExpiredToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := f.issuer.Verify("not.a.jwt")
		require.ErrorIs(t, err, token.ErrMalformedToken)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		otherSigner, err := token.NewHMACSigner("ffffffffffffffffffffffffffffffff")
		require.NoError(t, err)
		otherIssuer, err := token.NewIssuer(otherSigner, f.refresh, tokenhash.NewHasher(bcrypt.MinCost), testIssuer,
			token.WithNowFunc(func() time.Time { return f.now }))
		require.NoError(t, err)

		_, err = otherIssuer.Verify(resp.AccessToken)
		require.ErrorIs(t, err, token.ErrMalformedToken)
	})
}

func TestRefreshRotation(t *testing.T) {
	f := setupIssuer(t)
	ctx := context.Background()

	resp, err := f.issuer.Issue(ctx, testPrincipal, "read", token.ProfileCLI)
	require.NoError(t, err)

	rotated, err := f.issuer.Refresh(ctx, resp.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, resp.RefreshToken, rotated.RefreshToken)
	require.Equal(t, "read", rotated.Scope)
	require.Equal(t, int(token.DefaultCLITTL.Seconds()), rotated.ExpiresIn)

	// The old token is revoked; presenting it again must fail.
	_, err = f.issuer.Refresh(ctx, resp.RefreshToken)
	require.ErrorIs(t, err, token.ErrRefreshNotFound)

	// The rotated one still works.
	_, err = f.issuer.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejections(t *testing.T) {
	f := setupIssuer(t)
	ctx := context.Background()

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.issuer.Refresh(ctx, "unknown-refresh-token")
		require.ErrorIs(t, err, token.ErrRefreshNotFound)
	})

	t.Run("expired token", func(t *testing.T) {
		resp, err := f.issuer.Issue(ctx, testPrincipal, "read", token.ProfileBrowser)
		require.NoError(t, err)

		f.now = f.now.Add(token.DefaultRefreshTTL + time.Hour)
		defer func() { f.now = f.now.Add(-(token.DefaultRefreshTTL + time.Hour)) }()

		_, err = f.issuer.Refresh(ctx, resp.RefreshToken)
		require.ErrorIs(t, err, token.ErrRefreshNotFound)
	})
}

func TestRevoke(t *testing.T) {
	f := setupIssuer(t)
	ctx := context.Background()

	resp, err := f.issuer.Issue(ctx, testPrincipal, "read", token.ProfileBrowser)
	require.NoError(t, err)

	require.NoError(t, f.issuer.Revoke(ctx, resp.RefreshToken))
	_, err = f.issuer.Refresh(ctx, resp.RefreshToken)
	require.ErrorIs(t, err, token.ErrRefreshNotFound)

	// Unknown tokens revoke silently.
	require.NoError(t, f.issuer.Revoke(ctx, "unknown-token"))
}

func TestRefreshStorePlaintextNeverStored(t *testing.T) {
	f := setupIssuer(t)
	ctx := context.Background()

	resp, err := f.issuer.Issue(ctx, testPrincipal, "read", token.ProfileBrowser)
	require.NoError(t, err)

	records, err := f.refresh.ListCredentialHashes(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, tokenhash.IsSlowHash(records[0].Hash))
	require.NotEqual(t, resp.RefreshToken, records[0].ID)
	require.Equal(t, tokenhash.HashFast(resp.RefreshToken), records[0].ID)
}
