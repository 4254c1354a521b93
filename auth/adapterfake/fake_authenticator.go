// Package adapterfake provides a test double for the resource-owner
// authentication adapter.
package adapterfake

import (
	"context"
	"sync"

	"github.com/membank/authserver/auth"
	"github.com/membank/authserver/oauthmodel"
)

// FakeAuthenticator records calls and returns a configured principal or
// error.
type FakeAuthenticator struct {
	mu        sync.Mutex
	Principal *oauthmodel.Principal
	Err       error
	Calls     []oauthmodel.Credentials
}

// New creates a fake that accepts every credential as the given principal.
func New(principal oauthmodel.Principal) *FakeAuthenticator {
	return &FakeAuthenticator{Principal: &principal}
}

// Rejecting creates a fake that rejects every credential.
func Rejecting() *FakeAuthenticator {
	return &FakeAuthenticator{Err: auth.ErrAuthenticationFailed}
}

func (f *FakeAuthenticator) Authenticate(_ context.Context, creds oauthmodel.Credentials) (*oauthmodel.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, creds)
	if f.Err != nil {
		return nil, f.Err
	}
	cp := *f.Principal
	return &cp, nil
}
