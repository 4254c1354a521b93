package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/membank/authserver/oauthmodel"
	"github.com/membank/authserver/tokenhash"
)

// InMemoryStore is a thread-safe in-memory implementation of Store, used in
// tests and single-process development. A single mutex gives every write
// the same exactly-one-winner semantics as the SQL conditional updates.
type InMemoryStore struct {
	mu      sync.Mutex
	hasher  *tokenhash.Hasher
	byState map[string]*Session // keyed by state hash
	codeIdx map[string]string   // code lookup hash -> state hash
	nowFunc func() time.Time
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore(hasher *tokenhash.Hasher) *InMemoryStore {
	return &InMemoryStore{
		hasher:  hasher,
		byState: make(map[string]*Session),
		codeIdx: make(map[string]string),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock (for tests).
func (r *InMemoryStore) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = now
}

func (r *InMemoryStore) Create(_ context.Context, state string, sess *Session) error {
	if state == "" {
		return errors.New("[InMemoryStore.Create] state is empty")
	}
	if sess == nil {
		return errors.New("[InMemoryStore.Create] session is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenhash.HashFast(state)
	if _, exists := r.byState[key]; exists {
		return ErrDuplicateState
	}

	stored := *sess
	stored.StateHash = key
	stored.Status = StatusPending
	r.byState[key] = &stored
	return nil
}

func (r *InMemoryStore) FindByState(_ context.Context, state string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byState[tokenhash.HashFast(state)]
	if !ok || sess.Status != StatusPending || sess.Expired(r.nowFunc()) {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *InMemoryStore) FindByCode(_ context.Context, code string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.lookupByCode(code)
	if !ok || sess.Status != StatusCodeIssued || sess.Expired(r.nowFunc()) {
		return nil, ErrNotFound
	}
	if !r.hasher.VerifySensitive(code, sess.CodeHash) {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *InMemoryStore) SetCode(_ context.Context, state, code string, principal oauthmodel.Principal, newExpiry time.Time) error {
	codeHash, err := r.hasher.HashSensitive(code)
	if err != nil {
		return errors.Wrap(err, "[InMemoryStore.SetCode] hash code")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byState[tokenhash.HashFast(state)]
	if !ok || sess.Expired(r.nowFunc()) {
		return ErrNotFound
	}
	if sess.Status != StatusPending || sess.HasCode() {
		return ErrAlreadyUsed
	}

	lookup := tokenhash.HashFast(code)
	sess.CodeLookup = lookup
	sess.CodeHash = codeHash
	p := principal
	sess.Principal = &p
	sess.ExpiresAt = newExpiry
	r.codeIdx[lookup] = sess.StateHash
	return nil
}

func (r *InMemoryStore) MarkStateUsed(_ context.Context, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byState[tokenhash.HashFast(state)]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != StatusPending {
		return ErrAlreadyUsed
	}
	sess.Status = StatusCodeIssued
	return nil
}

func (r *InMemoryStore) MarkCodeUsed(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.lookupByCode(code)
	if !ok {
		return ErrNotFound
	}
	if sess.Status != StatusCodeIssued {
		return ErrAlreadyUsed
	}
	sess.Status = StatusConsumed
	return nil
}

func (r *InMemoryStore) Sweep(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	var removed int64
	for key, sess := range r.byState {
		if !sess.Expired(now) {
			continue
		}
		if sess.CodeLookup != "" {
			delete(r.codeIdx, sess.CodeLookup)
		}
		delete(r.byState, key)
		removed++
	}
	return removed, nil
}

// lookupByCode resolves a plaintext code to its session. Caller holds the
// lock.
func (r *InMemoryStore) lookupByCode(code string) (*Session, bool) {
	stateKey, ok := r.codeIdx[tokenhash.HashFast(code)]
	if !ok {
		return nil, false
	}
	sess, ok := r.byState[stateKey]
	return sess, ok
}
