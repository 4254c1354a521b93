package auth_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/membank/authserver/auth"
	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/token"
)

func TestStaticRegistry(t *testing.T) {
	t.Run("empty registry falls back to permissive default", func(t *testing.T) {
		registry := auth.NewStaticRegistry(nil)

		client, err := registry.Get("")
		require.NoError(t, err)
		require.Equal(t, auth.DefaultClientID, client.ID)
		require.True(t, client.AllowsRedirect("http://anywhere.example.com/cb"))
	})

	t.Run("unknown client", func(t *testing.T) {
		registry := auth.NewStaticRegistry([]auth.Client{{ID: "known"}})
		_, err := registry.Get("unknown")
		require.ErrorIs(t, err, auth.ErrUnknownClient)
	})
}

func TestAllowsRedirect(t *testing.T) {
	client := &auth.Client{
		ID:               "c1",
		RedirectPatterns: []string{"http://localhost:3000/*", "urn:ietf:wg:oauth:2.0:oob"},
		Profile:          token.ProfileBrowser,
	}

	require.True(t, client.AllowsRedirect("http://localhost:3000/callback"))
	require.True(t, client.AllowsRedirect("urn:ietf:wg:oauth:2.0:oob"))
	require.False(t, client.AllowsRedirect("http://localhost:4000/callback"))
	require.False(t, client.AllowsRedirect("urn:ietf:wg:oauth:2.0:oob-extra"))
}

func TestStaticAuthenticator(t *testing.T) {
	users := []auth.StaticUser{
		{Email: "john@example.com", Password: "password123", UserID: "user-1", OrganizationID: "org-1"},
		{APIKey: "key-123", UserID: "svc-1", OrganizationID: "org-1"},
	}
	authenticator := auth.NewStaticAuthenticator(users, zerolog.Nop())
	ctx := context.Background()

	t.Run("password match", func(t *testing.T) {
		p, err := authenticator.Authenticate(ctx, oauthmodel.PasswordCredentials("john@example.com", "password123"))
		require.NoError(t, err)
		require.Equal(t, "user-1", p.UserID)
	})

	t.Run("api key match", func(t *testing.T) {
		p, err := authenticator.Authenticate(ctx, oauthmodel.APIKeyCredentials("key-123"))
		require.NoError(t, err)
		require.Equal(t, "svc-1", p.UserID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := authenticator.Authenticate(ctx, oauthmodel.PasswordCredentials("john@example.com", "nope"))
		require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
	})

	t.Run("credential types never cross", func(t *testing.T) {
		// A password equal to a registered API key must not authenticate.
		_, err := authenticator.Authenticate(ctx, oauthmodel.PasswordCredentials("john@example.com", "key-123"))
		require.ErrorIs(t, err, auth.ErrAuthenticationFailed)

		_, err = authenticator.Authenticate(ctx, oauthmodel.APIKeyCredentials("password123"))
		require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
	})
}
