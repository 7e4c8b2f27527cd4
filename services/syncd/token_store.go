package syncd

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type tokenEntry struct {
	MachineID uuid.UUID
	Expires   time.Time
}

// tokenStore issues short-lived bearer tokens to machine agents. Verifying
// that a token belongs to the claimed machine is the transport-boundary
// authentication the reconciler relies on.
type tokenStore struct {
	ttl    time.Duration
	mu     sync.Mutex
	tokens map[string]tokenEntry
}

func newTokenStore(ttl time.Duration) *tokenStore {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &tokenStore{
		ttl:    ttl,
		tokens: make(map[string]tokenEntry),
	}
}

// issue creates a token for machineID living for ttl, or the store default
// when ttl is not positive.
func (ts *tokenStore) issue(machineID uuid.UUID, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = ts.ttl
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for key, entry := range ts.tokens {
		if now.After(entry.Expires) {
			delete(ts.tokens, key)
		}
	}

	token := uuid.New().String()
	ts.tokens[token] = tokenEntry{MachineID: machineID, Expires: now.Add(ttl)}
	return token
}

// verify returns the machine the token was issued to, or false for unknown
// or expired tokens.
func (ts *tokenStore) verify(token string) (uuid.UUID, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tokens[token]
	if !ok || time.Now().After(entry.Expires) {
		return uuid.Nil, false
	}
	return entry.MachineID, true
}
