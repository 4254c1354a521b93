// Package auth implements the authorization-code-with-PKCE state machine:
// creating pending sessions, minting single-use codes after the resource
// owner authenticates, and exchanging codes for signed tokens.
package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/pkce"
	"github.com/membank/authserver/session"
	"github.com/membank/authserver/token"
)

const (
	// DefaultAuthTTL is the pending-session horizon (state only).
	DefaultAuthTTL = 10 * time.Minute
	// DefaultCodeTTL is the shortened horizon once a code is minted.
	DefaultCodeTTL = 5 * time.Minute
	// DefaultStoreTimeout bounds every session-store call; a slow store
	// surfaces as service_unavailable rather than a hung request.
	DefaultStoreTimeout = 3 * time.Second
)

// Service orchestrates the authorization flow over the session store, the
// token issuer, and the external resource-owner authentication adapter.
type Service struct {
	sessions      session.Store
	issuer        *token.Issuer
	authenticator Authenticator
	registry      ClientRegistry
	loginURL      string
	authTTL       time.Duration
	codeTTL       time.Duration
	storeTimeout  time.Duration
	nowFunc       func() time.Time
	log           zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSessionTTLs overrides the pending and code-bearing expiry horizons.
func WithSessionTTLs(authTTL, codeTTL time.Duration) ServiceOption {
	return func(s *Service) {
		if authTTL > 0 {
			s.authTTL = authTTL
		}
		if codeTTL > 0 {
			s.codeTTL = codeTTL
		}
	}
}

// WithStoreTimeout overrides the per-call session store timeout.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFunc = now }
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// NewService creates the authorization service. loginURL is where the
// authorize endpoint sends resource owners to authenticate.
func NewService(sessions session.Store, issuer *token.Issuer, authenticator Authenticator, registry ClientRegistry, loginURL string, options ...ServiceOption) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("[NewService] session store is required")
	}
	if issuer == nil {
		return nil, errors.New("[NewService] token issuer is required")
	}
	if authenticator == nil {
		return nil, errors.New("[NewService] authenticator is required")
	}
	if registry == nil {
		return nil, errors.New("[NewService] client registry is required")
	}

	s := &Service{
		sessions:      sessions,
		issuer:        issuer,
		authenticator: authenticator,
		registry:      registry,
		loginURL:      loginURL,
		authTTL:       DefaultAuthTTL,
		codeTTL:       DefaultCodeTTL,
		storeTimeout:  DefaultStoreTimeout,
		nowFunc:       time.Now,
		log:           zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Authorize validates an authorize request and creates a pending session.
// When the client supplies no code challenge the service generates the
// PKCE pair itself and returns the verifier for the client to hold until
// exchange. Validation failures perform no store write.
func (s *Service) Authorize(ctx context.Context, params *oauthmodel.AuthorizeParameters) (*oauthmodel.AuthorizeResult, error) {
	client, err := s.registry.Get(params.ClientID)
	if err != nil {
		return nil, oauthmodel.ValidationError("unknown client_id")
	}
	if params.RedirectURI == "" {
		return nil, oauthmodel.ValidationError("redirect_uri is required")
	}
	if !client.AllowsRedirect(params.RedirectURI) {
		return nil, oauthmodel.ValidationError("redirect_uri not registered for client")
	}

	challenge := params.CodeChallenge
	method := params.CodeChallengeMethod
	var selfVerifier string

	switch {
	case challenge != "":
		if method == "" {
			// RFC 7636 default when a challenge is sent without a method.
			method = pkce.MethodPlain
		}
		if !pkce.ValidMethod(method) {
			return nil, oauthmodel.ValidationError("code_challenge_method must be 'S256' or 'plain'")
		}
	default:
		// Simplified local-tool client: generate the pair on its behalf.
		selfVerifier, err = pkce.GenerateVerifier()
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Authorize] generate verifier")
		}
		method = pkce.MethodS256
		challenge, err = pkce.DeriveChallenge(selfVerifier, method)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Authorize] derive challenge")
		}
	}

	state, err := pkce.GenerateOpaqueToken(pkce.DefaultTokenBytes)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Authorize] generate state")
	}

	now := s.nowFunc()
	sess := &session.Session{
		ID:                  uuid.New().String(),
		ClientID:            client.ID,
		RedirectURI:         params.RedirectURI,
		Scope:               params.Scope,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.authTTL),
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.sessions.Create(storeCtx, state, sess); err != nil {
		return nil, s.storeError("Authorize.Create", err)
	}

	return &oauthmodel.AuthorizeResult{
		AuthURL:      s.buildAuthURL(state),
		State:        state,
		ExpiresIn:    int(s.authTTL.Seconds()),
		CodeVerifier: selfVerifier,
	}, nil
}

// IssueCode authenticates the resource owner via the external adapter and
// mints a single-use authorization code bound to the session. The state is
// consumed immediately so it can never be replayed from browser history.
func (s *Service) IssueCode(ctx context.Context, state string, creds oauthmodel.Credentials) (*oauthmodel.CodeGrant, error) {
	if state == "" {
		return nil, oauthmodel.ValidationError("state is required")
	}

	principal, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		s.log.Info().Str("event", "upstream_auth_failed").Msg("resource owner authentication rejected")
		return nil, oauthmodel.ErrUpstreamAuthFailed
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	sess, err := s.sessions.FindByState(storeCtx, state)
	if err != nil {
		// Unknown vs consumed matters only here in the logs.
		s.log.Info().Str("event", "invalid_state").Err(err).Msg("state lookup failed")
		return nil, s.grantError(err, oauthmodel.ErrInvalidState)
	}

	code, err := pkce.GenerateOpaqueToken(pkce.DefaultTokenBytes)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.IssueCode] generate code")
	}

	if err := s.sessions.SetCode(storeCtx, state, code, *principal, s.nowFunc().Add(s.codeTTL)); err != nil {
		s.log.Warn().Str("event", "state_replay").Err(err).Msg("code issuance raced or session expired")
		return nil, s.grantError(err, oauthmodel.ErrInvalidState)
	}
	if err := s.sessions.MarkStateUsed(storeCtx, state); err != nil {
		s.log.Warn().Str("event", "state_replay").Err(err).Msg("state consume raced")
		return nil, s.grantError(err, oauthmodel.ErrInvalidState)
	}

	return &oauthmodel.CodeGrant{Code: code, State: state, RedirectURI: sess.RedirectURI}, nil
}

// Exchange swaps a valid, unused, unexpired authorization code plus the
// PKCE verifier for a token pair. PKCE is verified before the code is
// consumed: burning a victim's code with a bad verifier must not be a
// denial-of-service primitive, and a correct-verifier retry after a failed
// attempt must still succeed.
func (s *Service) Exchange(ctx context.Context, req *oauthmodel.TokenRequest) (*oauthmodel.TokenResponse, error) {
	if req.GrantType == oauthmodel.GrantRefreshToken || (req.GrantType == "" && req.RefreshToken != "") {
		return s.Refresh(ctx, req.RefreshToken)
	}
	if req.Code == "" {
		return nil, oauthmodel.ValidationError("code is required")
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	sess, err := s.sessions.FindByCode(storeCtx, req.Code)
	if err != nil {
		s.log.Info().Str("event", "invalid_code").Err(err).Msg("code lookup failed")
		return nil, s.grantError(err, oauthmodel.ErrInvalidGrant)
	}

	if req.ClientID != "" {
		client, err := s.registry.Get(req.ClientID)
		if err != nil || client.ID != sess.ClientID {
			s.log.Info().Str("event", "client_mismatch").Msg("token request client does not match session")
			return nil, oauthmodel.ErrInvalidGrant
		}
	}
	if req.RedirectURI != "" && req.RedirectURI != sess.RedirectURI {
		s.log.Info().Str("event", "redirect_mismatch").Msg("token request redirect_uri does not match session")
		return nil, oauthmodel.ErrInvalidGrant
	}

	// Wrong verifier and unknown code are indistinguishable to the caller;
	// only the log knows which happened.
	if sess.CodeChallenge != "" {
		if !pkce.VerifyChallenge(req.CodeVerifier, sess.CodeChallenge, sess.CodeChallengeMethod) {
			s.log.Warn().Str("event", "pkce_mismatch").Msg("code verifier did not match session challenge")
			return nil, oauthmodel.ErrInvalidGrant
		}
	}

	// Point of no return: after this succeeds the code stays consumed even
	// if the caller goes away before tokens are delivered.
	if err := s.sessions.MarkCodeUsed(storeCtx, req.Code); err != nil {
		s.log.Warn().Str("event", "code_replay").Err(err).Msg("code consume raced")
		return nil, s.grantError(err, oauthmodel.ErrInvalidGrant)
	}

	if sess.Principal == nil {
		// A code-bearing session always carries a principal; treat the
		// inconsistency as an invalid grant rather than minting blind.
		s.log.Error().Str("session_id", sess.ID).Msg("code-bearing session missing principal")
		return nil, oauthmodel.ErrInvalidGrant
	}

	profile := token.ProfileBrowser
	if client, err := s.registry.Get(sess.ClientID); err == nil {
		profile = client.Profile
	}

	// The consume above is committed; finish issuance even if the caller
	// aborted the request.
	resp, err := s.issuer.Issue(context.WithoutCancel(ctx), *sess.Principal, sess.Scope, profile)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Exchange] issue tokens")
	}
	return resp, nil
}

// Refresh exchanges a refresh token for a rotated token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error) {
	if refreshToken == "" {
		return nil, oauthmodel.ValidationError("refresh_token is required")
	}
	resp, err := s.issuer.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrRefreshNotFound) {
			s.log.Info().Str("event", "invalid_refresh").Msg("refresh token rejected")
			return nil, oauthmodel.ErrInvalidGrant
		}
		return nil, s.storeError("Refresh", err)
	}
	return resp, nil
}

// Revoke invalidates a refresh token. Access tokens cannot be revoked
// before expiry; callers needing instant revocation keep access lifetimes
// short.
func (s *Service) Revoke(ctx context.Context, tokenValue string) error {
	if tokenValue == "" {
		return oauthmodel.ValidationError("token is required")
	}
	if err := s.issuer.Revoke(ctx, tokenValue); err != nil {
		return s.storeError("Revoke", err)
	}
	return nil
}

// VerifyAccessToken validates an access token for resource servers.
// Expired and malformed tokens both surface as invalid_token.
func (s *Service) VerifyAccessToken(rawToken string) (*token.Claims, error) {
	claims, err := s.issuer.Verify(rawToken)
	if err != nil {
		return nil, oauthmodel.ErrInvalidToken
	}
	return claims, nil
}

// SweepSessions removes expired sessions; run periodically.
func (s *Service) SweepSessions(ctx context.Context) (int64, error) {
	return s.sessions.Sweep(ctx)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// grantError maps store sentinels to the coarse caller-facing error and
// everything else (timeouts, unreachable store) to service_unavailable.
func (s *Service) grantError(err error, grant *oauthmodel.Error) error {
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrAlreadyUsed) {
		return grant
	}
	return s.storeError("session store", err)
}

func (s *Service) storeError(op string, err error) error {
	s.log.Error().Str("op", op).Err(err).Msg("store operation failed")
	return oauthmodel.ErrServiceUnavailable
}

func (s *Service) buildAuthURL(state string) string {
	if s.loginURL == "" {
		return ""
	}
	u, err := url.Parse(s.loginURL)
	if err != nil {
		return s.loginURL
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}
