// Package store provides the SQL-backed implementations of the session and
// refresh-token stores. Both back onto one database handle; writes that
// consume a state or code are single conditional UPDATEs so concurrent
// consumers see exactly one success.
package store

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/membank/authserver/session"
	"github.com/membank/authserver/token"
	"github.com/membank/authserver/tokenhash"
)

// SQLStore bundles the SQL implementations sharing one database handle.
type SQLStore struct {
	db      *sql.DB
	driver  string
	hasher  *tokenhash.Hasher
	nowFunc func() time.Time
}

// New creates a SQLStore over an open handle. driver is "sqlite" or
// "postgres" and selects the placeholder style.
func New(db *sql.DB, driver string, hasher *tokenhash.Hasher) *SQLStore {
	return &SQLStore{db: db, driver: driver, hasher: hasher, nowFunc: time.Now}
}

// SetNowFunc overrides the clock (for tests).
func (s *SQLStore) SetNowFunc(now func() time.Time) { s.nowFunc = now }

// Sessions returns the session store view.
func (s *SQLStore) Sessions() session.Store {
	return &sessionStore{parent: s}
}

// RefreshTokens returns the refresh-token store view.
func (s *SQLStore) RefreshTokens() token.RefreshTokenStore {
	return &refreshTokenStore{parent: s}
}

// RefreshTokenCredentials exposes the refresh-token rows to the hash
// migrator.
func (s *SQLStore) RefreshTokenCredentials() tokenhash.CredentialStore {
	return &refreshTokenStore{parent: s}
}

// q rewrites '?' placeholders to '$n' for postgres. Queries are written
// once in sqlite style.
func (s *SQLStore) q(query string) string {
	if s.driver != "postgres" && s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
