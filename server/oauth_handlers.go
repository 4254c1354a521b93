package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/membank/authserver/internal/obs"
	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/pkce"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Authorize begins the authorization flow: it validates the request,
// creates a pending session, and returns the login URL and state the
// client must present at the callback.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params := &oauthmodel.AuthorizeParameters{
			ClientID:            q.Get("client_id"),
			RedirectURI:         q.Get("redirect_uri"),
			Scope:               q.Get("scope"),
			CodeChallenge:       q.Get("code_challenge"),
			CodeChallengeMethod: pkce.Method(q.Get("code_challenge_method")),
		}

		result, err := s.auth.Authorize(r.Context(), params)
		if err != nil {
			s.writeOAuthError(w, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(result)
	}
}

// callbackRequest carries the resource owner's credentials back to the
// issuer along with the state from the authorize step. The credential
// field is "email"; "username" is accepted as an alias.
type callbackRequest struct {
	State    string `json:"state"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

func (r *callbackRequest) email() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Username
}

// Callback authenticates the resource owner and mints the single-use
// authorization code. Password and API-key credentials are distinguished
// by which fields are present, never by inspecting the secret itself.
func (s *Server) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseCallbackRequest(r)
		if err != nil {
			s.writeOAuthError(w, oauthmodel.ValidationError(err.Error()))
			return
		}

		var creds oauthmodel.Credentials
		switch {
		case req.APIKey != "":
			creds = oauthmodel.APIKeyCredentials(req.APIKey)
		case req.email() != "":
			creds = oauthmodel.PasswordCredentials(req.email(), req.Password)
		default:
			s.writeOAuthError(w, oauthmodel.ValidationError("credentials are required"))
			return
		}

		grant, err := s.auth.IssueCode(r.Context(), req.State, creds)
		if err != nil {
			s.writeOAuthError(w, err)
			return
		}

		// Browser clients get the standard redirect; API clients that
		// registered an out-of-band URI get the grant in the body.
		if grant.RedirectURI != "" && !strings.EqualFold(grant.RedirectURI, "urn:ietf:wg:oauth:2.0:oob") {
			u, err := url.Parse(grant.RedirectURI)
			if err == nil {
				params := u.Query()
				params.Set("code", grant.Code)
				params.Set("state", grant.State)
				u.RawQuery = params.Encode()
				http.Redirect(w, r, u.String(), http.StatusSeeOther)
				return
			}
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(grant)
	}
}

// Token exchanges an authorization code or refresh token for tokens.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenReq, err := parseTokenRequest(r)
		if err != nil {
			s.writeOAuthError(w, oauthmodel.ValidationError(err.Error()))
			return
		}

		grantType := tokenReq.GrantType
		if grantType == "" {
			if tokenReq.RefreshToken != "" {
				grantType = oauthmodel.GrantRefreshToken
			} else {
				grantType = oauthmodel.GrantAuthorizationCode
			}
		}

		tokenResponse, err := s.auth.Exchange(r.Context(), tokenReq)
		if err != nil {
			obs.CountGrant(grantType, errorCode(err))
			s.writeOAuthError(w, err)
			return
		}
		obs.CountGrant(grantType, "ok")

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(tokenResponse)
	}
}

// Revoke invalidates a refresh token.
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeOAuthError(w, oauthmodel.ValidationError("failed to parse form data"))
			return
		}
		tokenValue := r.FormValue("token")
		if tokenValue == "" {
			s.writeOAuthError(w, oauthmodel.ValidationError("token parameter is required"))
			return
		}
		if err := s.auth.Revoke(r.Context(), tokenValue); err != nil {
			s.writeOAuthError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// UserInfo returns the claims of the presented access token. Resource
// servers use it to validate bearer tokens.
func (s *Server) UserInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, oauthmodel.CodeInvalidToken, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeJSONError(w, oauthmodel.CodeInvalidToken, "invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.auth.VerifyAccessToken(parts[1])
		if err != nil {
			s.writeOAuthError(w, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":   claims.Subject,
			"org":   claims.OrganizationID,
			"scope": claims.Scope,
			"exp":   claims.ExpiresAt.Unix(),
		})
	}
}

// Health reports liveness.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Helper functions

func parseCallbackRequest(r *http.Request) (*callbackRequest, error) {
	var req callbackRequest
	if isJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, errors.New("failed to parse form data")
	}
	req.State = r.FormValue("state")
	req.Email = r.FormValue("email")
	req.Username = r.FormValue("username")
	req.Password = r.FormValue("password")
	req.APIKey = r.FormValue("api_key")
	return &req, nil
}

func parseTokenRequest(r *http.Request) (*oauthmodel.TokenRequest, error) {
	var req oauthmodel.TokenRequest
	if isJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, errors.New("failed to parse form data")
	}
	req.GrantType = r.FormValue("grant_type")
	req.Code = r.FormValue("code")
	req.CodeVerifier = r.FormValue("code_verifier")
	req.ClientID = r.FormValue("client_id")
	req.RedirectURI = r.FormValue("redirect_uri")
	req.RefreshToken = r.FormValue("refresh_token")
	return &req, nil
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// writeOAuthError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognised is reported as service_unavailable so internal
// detail never leaks into a response body.
func (s *Server) writeOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *oauthmodel.Error
	if !errors.As(err, &oauthErr) {
		s.log.Error().Err(err).Msg("unmapped handler error")
		writeJSONError(w, oauthmodel.CodeServiceUnavailable, "authorization service is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSONError(w, oauthErr.Code, oauthErr.Description, errorStatus(oauthErr.Code))
}

func errorStatus(code string) int {
	switch code {
	case oauthmodel.CodeValidationError, oauthmodel.CodeInvalidState, oauthmodel.CodeInvalidGrant:
		return http.StatusBadRequest
	case oauthmodel.CodeInvalidToken, oauthmodel.CodeUpstreamAuthFailed:
		return http.StatusUnauthorized
	case oauthmodel.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var oauthErr *oauthmodel.Error
	if errors.As(err, &oauthErr) {
		return oauthErr.Code
	}
	return oauthmodel.CodeServiceUnavailable
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
