package auth

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/membank/authserver/oauthmodel"
)

// ErrAuthenticationFailed is returned by adapters when credentials are
// rejected. The caller maps it to upstream_auth_failed.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Authenticator verifies resource-owner credentials against an external
// identity store and returns the authenticated principal. This core never
// performs password hashing or API-key validation itself; it only consumes
// the adapter's identity claims.
type Authenticator interface {
	Authenticate(ctx context.Context, creds oauthmodel.Credentials) (*oauthmodel.Principal, error)
}

// StaticUser is a development-only directory entry.
type StaticUser struct {
	Email          string
	Password       string
	APIKey         string
	UserID         string
	VendorCode     string
	OrganizationID string
	Scopes         []string
}

// StaticAuthenticator is a fixed credential directory for local
// development. It must only be wired behind the explicit dev_mode flag and
// is announced loudly at startup; it is never a silent fallback.
type StaticAuthenticator struct {
	users []StaticUser
}

// NewStaticAuthenticator creates the dev-mode directory and logs a warning
// that cannot be missed in production logs.
func NewStaticAuthenticator(users []StaticUser, log zerolog.Logger) *StaticAuthenticator {
	log.Warn().Int("users", len(users)).
		Msg("DEV MODE: static credential directory enabled; never run this in production")
	return &StaticAuthenticator{users: users}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, creds oauthmodel.Credentials) (*oauthmodel.Principal, error) {
	for _, u := range a.users {
		if !matches(u, creds) {
			continue
		}
		return &oauthmodel.Principal{
			UserID:         u.UserID,
			VendorCode:     u.VendorCode,
			OrganizationID: u.OrganizationID,
			Scopes:         u.Scopes,
		}, nil
	}
	return nil, ErrAuthenticationFailed
}

func matches(u StaticUser, creds oauthmodel.Credentials) bool {
	switch creds.Type {
	case oauthmodel.CredentialPassword:
		return u.Email != "" && u.Email == creds.Email && u.Password == creds.Password
	case oauthmodel.CredentialAPIKey:
		return u.APIKey != "" && u.APIKey == creds.APIKey
	}
	return false
}
