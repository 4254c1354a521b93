package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/membank/authserver/oauthmodel"
)

var (
	// ErrNotFound covers unknown, expired, and (for reads) already-used
	// sessions. Callers translate it to invalid_grant.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyUsed is returned by conditional writes that raced and lost:
	// the session was consumed by a concurrent caller.
	ErrAlreadyUsed = errors.New("session already used")
	// ErrDuplicateState is returned by Create on a state collision.
	ErrDuplicateState = errors.New("state already exists")
)

// Store persists authorization sessions. Implementations take state and
// code plaintexts and hash them internally; plaintext never reaches the
// backing storage. Every write must be atomic with respect to concurrent
// callers: two racing consumers of one state or code see exactly one
// success. No implementation may cache session status in process memory;
// that would reintroduce the race the conditional updates prevent.
type Store interface {
	// Create inserts a pending session keyed by state.
	Create(ctx context.Context, state string, sess *Session) error

	// FindByState returns the session for a state value, filtering out
	// used and expired rows.
	FindByState(ctx context.Context, state string) (*Session, error)

	// FindByCode returns the session for an authorization code, filtering
	// out used and expired rows and verifying the code's slow hash.
	FindByCode(ctx context.Context, code string) (*Session, error)

	// SetCode transitions a pending session to code-bearing, attaching the
	// principal and shortening the expiry. Fails with ErrAlreadyUsed if the
	// session is used, already carries a code, or has expired.
	SetCode(ctx context.Context, state, code string, principal oauthmodel.Principal, newExpiry time.Time) error

	// MarkStateUsed consumes the state. ErrAlreadyUsed when a concurrent
	// caller won the race.
	MarkStateUsed(ctx context.Context, state string) error

	// MarkCodeUsed consumes the authorization code. This is the point of no
	// return for a token exchange: once it succeeds the code stays consumed
	// even if the caller aborts before tokens are delivered.
	MarkCodeUsed(ctx context.Context, code string) error

	// Sweep deletes sessions past expiry and returns the number removed.
	// Expired rows are already filtered on read; the sweep bounds storage.
	Sweep(ctx context.Context) (int64, error)
}
