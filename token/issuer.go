// Package token mints and verifies the credentials handed to clients:
// stateless JWT access tokens and stateful, revocable refresh tokens.
package token

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/pkce"
	"github.com/membank/authserver/tokenhash"
)

// Profile selects the access-token lifetime. CLI tokens live longer by
// design: a local tool cannot silently refresh the way a browser app can.
type Profile string

const (
	ProfileBrowser Profile = "browser"
	ProfileCLI     Profile = "cli"
)

// Default token lifetimes.
const (
	DefaultBrowserTTL = time.Hour
	DefaultCLITTL     = 30 * 24 * time.Hour
	DefaultRefreshTTL = 90 * 24 * time.Hour
)

var (
	// ErrExpiredToken and ErrMalformedToken are distinguished for logging
	// only; callers receive a uniform invalid_token.
	ErrExpiredToken   = errors.New("token expired")
	ErrMalformedToken = errors.New("token malformed or signature invalid")
)

// Claims are the verified contents of an access token.
type Claims struct {
	Subject        string
	OrganizationID string
	Scope          string
	TokenID        string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Issuer signs access tokens and manages refresh tokens.
type Issuer struct {
	signer      Signer
	refreshRepo RefreshTokenStore
	hasher      *tokenhash.Hasher
	issuer      string
	browserTTL  time.Duration
	cliTTL      time.Duration
	refreshTTL  time.Duration
	nowFunc     func() time.Time
	log         zerolog.Logger
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTokenTTLs overrides the per-profile access and refresh lifetimes.
func WithTokenTTLs(browser, cli, refresh time.Duration) IssuerOption {
	return func(i *Issuer) {
		if browser > 0 {
			i.browserTTL = browser
		}
		if cli > 0 {
			i.cliTTL = cli
		}
		if refresh > 0 {
			i.refreshTTL = refresh
		}
	}
}

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.nowFunc = now }
}

// WithLogger sets the issuer's logger.
func WithLogger(log zerolog.Logger) IssuerOption {
	return func(i *Issuer) { i.log = log }
}

// NewIssuer creates a token issuer. issuerURL becomes the iss claim.
func NewIssuer(signer Signer, refreshRepo RefreshTokenStore, hasher *tokenhash.Hasher, issuerURL string, options ...IssuerOption) (*Issuer, error) {
	if signer == nil {
		return nil, errors.New("[NewIssuer] signer is required")
	}
	if refreshRepo == nil {
		return nil, errors.New("[NewIssuer] refresh token store is required")
	}
	if hasher == nil {
		return nil, errors.New("[NewIssuer] hasher is required")
	}

	i := &Issuer{
		signer:      signer,
		refreshRepo: refreshRepo,
		hasher:      hasher,
		issuer:      issuerURL,
		browserTTL:  DefaultBrowserTTL,
		cliTTL:      DefaultCLITTL,
		refreshTTL:  DefaultRefreshTTL,
		nowFunc:     time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range options {
		opt(i)
	}
	return i, nil
}

// AccessTTL returns the access-token lifetime for a profile.
func (i *Issuer) AccessTTL(profile Profile) time.Duration {
	if profile == ProfileCLI {
		return i.cliTTL
	}
	return i.browserTTL
}

// Issue mints an access/refresh token pair for a principal. The refresh
// token plaintext appears only in the returned response.
func (i *Issuer) Issue(ctx context.Context, principal oauthmodel.Principal, scope string, profile Profile) (*oauthmodel.TokenResponse, error) {
	now := i.nowFunc()
	ttl := i.AccessTTL(profile)

	claims := jwt.MapClaims{
		"iss":   i.issuer,
		"sub":   principal.Subject(),
		"org":   principal.OrganizationID,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
		"jti":   uuid.New().String(),
	}
	accessToken, err := i.signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "[Issuer.Issue] sign access token")
	}

	refreshToken, err := i.mintRefreshToken(ctx, principal, scope, profile, now)
	if err != nil {
		return nil, err
	}

	return &oauthmodel.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(ttl.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// Verify checks signature and expiry of an access token. Expired and
// malformed tokens are logged distinctly but both map to a uniform
// invalid_token at the API boundary.
func (i *Issuer) Verify(rawToken string) (*Claims, error) {
	parsed, err := jwt.Parse(rawToken, i.signer.GetVerificationKey,
		jwt.WithTimeFunc(i.nowFunc), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			i.log.Debug().Msg("access token expired")
			return nil, ErrExpiredToken
		}
		i.log.Debug().Err(err).Msg("access token rejected")
		return nil, ErrMalformedToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}

	sub, _ := mapClaims["sub"].(string)
	org, _ := mapClaims["org"].(string)
	scope, _ := mapClaims["scope"].(string)
	jti, _ := mapClaims["jti"].(string)
	iat, _ := mapClaims["iat"].(float64)
	exp, _ := mapClaims["exp"].(float64)

	return &Claims{
		Subject:        sub,
		OrganizationID: org,
		Scope:          scope,
		TokenID:        jti,
		IssuedAt:       time.Unix(int64(iat), 0),
		ExpiresAt:      time.Unix(int64(exp), 0),
	}, nil
}

// Refresh exchanges a live refresh token for a new token pair, rotating the
// refresh token: the presented one is revoked before the new pair is
// returned.
func (i *Issuer) Refresh(ctx context.Context, plaintext string) (*oauthmodel.TokenResponse, error) {
	rt, err := i.findRefreshToken(ctx, plaintext)
	if err != nil {
		return nil, err
	}

	if err := i.refreshRepo.Revoke(ctx, rt.Lookup); err != nil {
		return nil, errors.Wrap(err, "[Issuer.Refresh] revoke old token")
	}

	return i.Issue(ctx, rt.Principal, rt.Scope, rt.Profile)
}

// Revoke invalidates a refresh token. Revoking an unknown token succeeds
// silently per RFC 7009.
func (i *Issuer) Revoke(ctx context.Context, plaintext string) error {
	return i.refreshRepo.Revoke(ctx, tokenhash.HashFast(plaintext))
}

func (i *Issuer) mintRefreshToken(ctx context.Context, principal oauthmodel.Principal, scope string, profile Profile, now time.Time) (string, error) {
	plaintext, err := pkce.GenerateOpaqueToken(pkce.DefaultTokenBytes)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.mintRefreshToken] generate")
	}
	slowHash, err := i.hasher.HashSensitive(plaintext)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.mintRefreshToken] hash")
	}

	rt := &RefreshToken{
		Lookup:    tokenhash.HashFast(plaintext),
		Hash:      slowHash,
		Principal: principal,
		Scope:     scope,
		Profile:   profile,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.refreshTTL),
	}
	if err := i.refreshRepo.Create(ctx, rt); err != nil {
		return "", errors.Wrap(err, "[Issuer.mintRefreshToken] store")
	}
	return plaintext, nil
}

func (i *Issuer) findRefreshToken(ctx context.Context, plaintext string) (*RefreshToken, error) {
	rt, err := i.refreshRepo.FindByLookup(ctx, tokenhash.HashFast(plaintext))
	if err != nil {
		return nil, err
	}
	if !i.hasher.VerifySensitive(plaintext, rt.Hash) {
		i.log.Warn().Msg("refresh token lookup hit with slow-hash mismatch")
		return nil, ErrRefreshNotFound
	}
	return rt, nil
}
