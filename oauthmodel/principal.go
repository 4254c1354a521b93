package oauthmodel

import "strings"

// Principal is the identity returned by the resource-owner authentication
// adapter and bound to an authorization session at code-issuance time.
// Exactly one of UserID or VendorCode identifies the subject.
type Principal struct {
	UserID         string   `json:"user_id,omitempty"`
	VendorCode     string   `json:"vendor_code,omitempty"`
	OrganizationID string   `json:"organization_id"`
	Scopes         []string `json:"scopes,omitempty"`
}

// Subject returns the token subject claim for the principal.
func (p Principal) Subject() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.VendorCode
}

// ScopeString renders the granted scopes as a space-separated list.
func (p Principal) ScopeString() string {
	return strings.Join(p.Scopes, " ")
}

// CredentialType discriminates credential kinds explicitly. The original
// design sniffed token prefixes to guess the kind; a declared tag removes
// the ambiguous-parse edge cases.
type CredentialType string

const (
	CredentialPassword CredentialType = "password"
	CredentialAPIKey   CredentialType = "api_key"
)

// Credentials is the tagged credential union consumed by the
// resource-owner authentication adapter.
type Credentials struct {
	Type     CredentialType
	Email    string
	Password string
	APIKey   string
}

// PasswordCredentials builds an email/password credential.
func PasswordCredentials(email, password string) Credentials {
	return Credentials{Type: CredentialPassword, Email: email, Password: password}
}

// APIKeyCredentials builds an API-key credential.
func APIKeyCredentials(key string) Credentials {
	return Credentials{Type: CredentialAPIKey, APIKey: key}
}
