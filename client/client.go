// Package client drives the full authorization-code-with-PKCE flow
// against an issuer from a headless or CLI program: authorize, submit
// credentials at the callback, and exchange the code for tokens.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds each HTTP round trip of the login flow.
const DefaultTimeout = 15 * time.Second

// Credentials are the resource owner's secrets presented at the callback.
// Set Email/Password or APIKey, never both.
type Credentials struct {
	Email    string
	Password string
	APIKey   string
}

// Client performs logins against a single issuer.
type Client struct {
	issuerURL   string
	clientID    string
	redirectURI string
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for the flow.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRedirectURI overrides the redirect URI registered for the client.
func WithRedirectURI(uri string) Option {
	return func(c *Client) { c.redirectURI = uri }
}

// New creates a login client for the given issuer base URL.
func New(issuerURL, clientID string, options ...Option) *Client {
	c := &Client{
		issuerURL:   strings.TrimRight(issuerURL, "/"),
		clientID:    clientID,
		redirectURI: "urn:ietf:wg:oauth:2.0:oob",
		httpClient:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

type authorizeResponse struct {
	AuthURL   string `json:"auth_url"`
	State     string `json:"state"`
	ExpiresIn int    `json:"expires_in"`
}

type codeResponse struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// Login runs the complete flow and returns the token set. The PKCE
// verifier never leaves the process; only its S256 challenge goes over
// the wire before the final exchange.
func (c *Client) Login(ctx context.Context, creds Credentials, scopes ...string) (*oauth2.Token, error) {
	verifier := oauth2.GenerateVerifier()

	state, err := c.authorize(ctx, oauth2.S256ChallengeFromVerifier(verifier), scopes)
	if err != nil {
		return nil, err
	}

	code, err := c.submitCredentials(ctx, state, creds)
	if err != nil {
		return nil, err
	}

	return c.exchange(ctx, code, verifier)
}

func (c *Client) authorize(ctx context.Context, challenge string, scopes []string) (string, error) {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.issuerURL+"/oauth/authorize?"+q.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "[Client.authorize] build request")
	}

	var resp authorizeResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", errors.Wrap(err, "[Client.authorize]")
	}
	if resp.State == "" {
		return "", errors.New("[Client.authorize] issuer returned no state")
	}
	return resp.State, nil
}

func (c *Client) submitCredentials(ctx context.Context, state string, creds Credentials) (string, error) {
	form := url.Values{}
	form.Set("state", state)
	if creds.APIKey != "" {
		form.Set("api_key", creds.APIKey)
	} else {
		form.Set("email", creds.Email)
		form.Set("password", creds.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.issuerURL+"/oauth/callback", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "[Client.submitCredentials] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp codeResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", errors.Wrap(err, "[Client.submitCredentials]")
	}
	if resp.Code == "" {
		return "", errors.New("[Client.submitCredentials] issuer returned no code")
	}
	if resp.State != state {
		return "", errors.New("[Client.submitCredentials] state mismatch in callback response")
	}
	return resp.Code, nil
}

// exchange swaps the code for tokens using the standard oauth2 library.
func (c *Client) exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:    c.clientID,
		RedirectURL: c.redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.issuerURL + "/oauth/authorize",
			TokenURL: c.issuerURL + "/oauth/token",
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, errors.Wrap(err, "[Client.exchange] token exchange failed")
	}
	return tok, nil
}

// Revoke invalidates a refresh token at the issuer.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	form := url.Values{}
	form.Set("token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.issuerURL+"/oauth/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "[Client.Revoke] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Client.Revoke]")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("[Client.Revoke] unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Code        string `json:"error"`
			Description string `json:"error_description"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&oauthErr); decodeErr == nil && oauthErr.Code != "" {
			return errors.Errorf("issuer returned %s: %s", oauthErr.Code, oauthErr.Description)
		}
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
