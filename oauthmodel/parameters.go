package oauthmodel

import (
	"github.com/membank/authserver/pkce"
)

// AuthorizeParameters are the client-supplied inputs to the authorization
// endpoint. ClientID may be empty when the registry policy allows a default
// client. CodeChallenge may be empty, in which case the endpoint
// self-generates a verifier/challenge pair for simplified clients.
type AuthorizeParameters struct {
	ClientID            string      `json:"client_id"`
	RedirectURI         string      `json:"redirect_uri"`
	Scope               string      `json:"scope"`
	CodeChallenge       string      `json:"code_challenge,omitempty"`
	CodeChallengeMethod pkce.Method `json:"code_challenge_method,omitempty"`
}

// AuthorizeResult is returned from the authorization endpoint. CodeVerifier
// is set only when the endpoint generated the PKCE pair itself; the client
// must present it at token exchange.
type AuthorizeResult struct {
	AuthURL      string `json:"auth_url"`
	State        string `json:"state"`
	ExpiresIn    int    `json:"expires_in"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// CodeGrant is the outcome of the code-issuance step: the single-use
// authorization code plus the original state for the client's CSRF check.
type CodeGrant struct {
	Code        string `json:"code"`
	State       string `json:"state"`
	RedirectURI string `json:"-"`
}

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// TokenRequest is the input to the token endpoint. GrantType defaults to
// authorization_code when a Code is present.
type TokenRequest struct {
	GrantType    string `json:"grant_type,omitempty"`
	Code         string `json:"code,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenResponse is the RFC 6749 token endpoint response. The refresh token
// plaintext appears here exactly once; only its hash persists server-side.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
