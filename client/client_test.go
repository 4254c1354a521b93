package client_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/membank/authserver/auth"
	"github.com/membank/authserver/auth/adapterfake"
	"github.com/membank/authserver/client"
	"github.com/membank/authserver/internal/config"
	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/server"
	"github.com/membank/authserver/session"
	"github.com/membank/authserver/token"
	"github.com/membank/authserver/tokenhash"
)

const testClientID = "cli-tool"

func setupIssuerServer(t *testing.T, authenticator auth.Authenticator) *httptest.Server {
	t.Helper()

	hasher := tokenhash.NewHasher(bcrypt.MinCost)
	sessions := session.NewInMemoryStore(hasher)
	refresh := token.NewInMemoryRefreshTokenStore()

	signer, err := token.NewHMACSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	issuer, err := token.NewIssuer(signer, refresh, hasher, "https://auth.example.com")
	require.NoError(t, err)

	registry := auth.NewStaticRegistry([]auth.Client{{
		ID:               testClientID,
		RedirectPatterns: []string{"urn:ietf:wg:oauth:2.0:oob"},
		Profile:          token.ProfileCLI,
	}})
	service, err := auth.NewService(sessions, issuer, authenticator, registry, "https://auth.example.com/login")
	require.NoError(t, err)

	s, err := server.New(&config.AppConfig{Env: "test"}, service, zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin(t *testing.T) {
	authenticator := adapterfake.New(oauthmodel.Principal{
		UserID:         "user-1",
		VendorCode:     "vendor-1",
		OrganizationID: "org-1",
		Scopes:         []string{"read"},
	})
	srv := setupIssuerServer(t, authenticator)

	c := client.New(srv.URL, testClientID)
	tok, err := c.Login(context.Background(), client.Credentials{
		Email:    "john@example.com",
		Password: "password123",
	}, "read")
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.NotEmpty(t, tok.RefreshToken)

	// The credentials reached the issuer as a password pair, untouched.
	require.Len(t, authenticator.Calls, 1)
	require.Equal(t, oauthmodel.CredentialPassword, authenticator.Calls[0].Type)

	t.Run("revoke invalidates the refresh token", func(t *testing.T) {
		require.NoError(t, c.Revoke(context.Background(), tok.RefreshToken))
	})
}

func TestLoginWithAPIKey(t *testing.T) {
	authenticator := adapterfake.New(oauthmodel.Principal{UserID: "svc-1", OrganizationID: "org-1"})
	srv := setupIssuerServer(t, authenticator)

	c := client.New(srv.URL, testClientID)
	tok, err := c.Login(context.Background(), client.Credentials{APIKey: "key-123"})
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)

	require.Len(t, authenticator.Calls, 1)
	require.Equal(t, oauthmodel.CredentialAPIKey, authenticator.Calls[0].Type)
}

func TestLoginRejectedCredentials(t *testing.T) {
	srv := setupIssuerServer(t, adapterfake.Rejecting())

	c := client.New(srv.URL, testClientID)
	_, err := c.Login(context.Background(), client.Credentials{
		Email:    "john@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), oauthmodel.CodeUpstreamAuthFailed)
}
