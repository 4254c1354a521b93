// Package session defines the authorization-session model and the store
// contract both backends implement. A session moves through exactly one
// lifecycle: PENDING (state only) -> CODE_ISSUED -> CONSUMED, or expires
// from either non-terminal state. No transition re-enters an earlier state.
package session

import (
	"time"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/pkce"
)

// Status is the lifecycle position of a session. Consuming the state
// (redirect issued) moves PENDING to CODE_ISSUED; consuming the code
// (tokens issued) moves CODE_ISSUED to CONSUMED. Both transitions are
// single-winner conditional updates.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusCodeIssued Status = "CODE_ISSUED"
	StatusConsumed   Status = "CONSUMED"
)

// Session is a pending or code-bearing authorization session. State and
// authorization code plaintexts are never stored: StateHash and CodeLookup
// hold fast digests for lookup, CodeHash holds the slow hash verified at
// exchange time.
type Session struct {
	ID        string
	StateHash string

	ClientID    string
	RedirectURI string
	Scope       string

	CodeChallenge       string
	CodeChallengeMethod pkce.Method

	// Set by SetCode when the resource owner authenticates.
	CodeLookup string
	CodeHash   string
	Principal  *oauthmodel.Principal

	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its current expiry horizon.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// HasCode reports whether the session has progressed to CODE_ISSUED.
func (s *Session) HasCode() bool {
	return s.CodeLookup != ""
}
