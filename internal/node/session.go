package node

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/ledgerconst"
)

type sessionEntry struct {
	secret    []byte
	expiresAt time.Time
}

// SessionStore maps a POST /account/login session token back to the
// secret it was issued for, so a client need not resend the raw secret on
// every subsequent request. Tokens expire after SessionTokenTTL; an
// expired entry is lazily dropped on the next lookup.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// NewSessionStore builds an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]sessionEntry)}
}

// Issue mints a fresh random session token bound to secret.
func (s *SessionStore) Issue(secret []byte) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: generate session token: %v", apierrors.ErrInternal, err)
	}
	token := hex.EncodeToString(buf)

	owned := make([]byte, len(secret))
	copy(owned, secret)

	s.mu.Lock()
	s.sessions[token] = sessionEntry{secret: owned, expiresAt: time.Now().Add(ledgerconst.SessionTokenTTL)}
	s.mu.Unlock()
	return token, nil
}

// Resolve returns the secret bound to token, or false if the token is
// unknown or expired.
func (s *SessionStore) Resolve(token string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[token]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.sessions, token)
		return nil, false
	}
	return entry.secret, true
}

// Revoke drops token immediately.
func (s *SessionStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}
