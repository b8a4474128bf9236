// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
// Suitable for development, testing, and single-process deployments that
// accept losing enrollments on restart.
type MemoryCredentialStore struct {
	mu        sync.RWMutex
	byID      map[string]*Credential
	byAccount map[string][]string
	now       func() time.Time
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:      make(map[string]*Credential),
		byAccount: make(map[string][]string),
		now:       time.Now,
	}
}

// Insert stores a new credential.
func (s *MemoryCredentialStore) Insert(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(cred.ID)
	if _, ok := s.byID[key]; ok {
		return ErrDuplicateCredential
	}

	stored := *cred
	s.byID[key] = &stored
	s.byAccount[cred.AccountID] = append(s.byAccount[cred.AccountID], key)

	return nil
}

// GetByID retrieves a credential by its ID.
func (s *MemoryCredentialStore) GetByID(ctx context.Context, credentialID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[hex.EncodeToString(credentialID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	out := *cred
	return &out, nil
}

// ListByAccount retrieves all credentials enrolled for an account.
func (s *MemoryCredentialStore) ListByAccount(ctx context.Context, accountID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byAccount[accountID]
	creds := make([]*Credential, 0, len(keys))
	for _, key := range keys {
		if cred, ok := s.byID[key]; ok {
			out := *cred
			creds = append(creds, &out)
		}
	}
	return creds, nil
}

// BumpCounter records a new signature counter value. The comparison and the
// update happen under one lock so a stale concurrent bump is rejected
// rather than silently lost. A zero-to-zero bump is a counter-less
// authenticator reporting in; it refreshes the last-used timestamp without
// touching the counter.
func (s *MemoryCredentialStore) BumpCounter(ctx context.Context, credentialID []byte, newCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[hex.EncodeToString(credentialID)]
	if !ok {
		return ErrCredentialNotFound
	}
	if newCount <= cred.SignCount && !(newCount == 0 && cred.SignCount == 0) {
		return ErrCounterRegression
	}

	cred.SignCount = newCount
	cred.LastUsedAt = s.now().UTC()
	return nil
}

// Delete removes a credential by its ID.
func (s *MemoryCredentialStore) Delete(ctx context.Context, credentialID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(credentialID)
	cred, ok := s.byID[key]
	if !ok {
		return ErrCredentialNotFound
	}

	delete(s.byID, key)
	keys := s.byAccount[cred.AccountID]
	for i, k := range keys {
		if k == key {
			s.byAccount[cred.AccountID] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(s.byAccount[cred.AccountID]) == 0 {
		delete(s.byAccount, cred.AccountID)
	}

	return nil
}

// Count returns the number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear removes all credentials from the store.
func (s *MemoryCredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Credential)
	s.byAccount = make(map[string][]string)
}

// MemoryChallengeLedger is an in-memory implementation of ChallengeLedger.
// Entries need not survive a restart; losing them only forces the user to
// retry the ceremony.
type MemoryChallengeLedger struct {
	mu      sync.Mutex
	entries map[string]*PendingChallenge
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryChallengeLedger creates a new in-memory ledger. The TTL is used
// to stamp ExpiresAt on entries opened without one.
func NewMemoryChallengeLedger(ttl time.Duration) *MemoryChallengeLedger {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &MemoryChallengeLedger{
		entries: make(map[string]*PendingChallenge),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Open records a freshly issued challenge.
func (l *MemoryChallengeLedger) Open(ctx context.Context, entry *PendingChallenge) error {
	if !ValidChallenge(entry.Challenge) {
		return WrapError("open challenge", ErrMalformedResponse)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if existing, ok := l.entries[entry.Challenge]; ok && !existing.Expired(now) {
		return ErrChallengeExists
	}

	stored := *entry
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = now.Add(l.ttl)
	}
	l.entries[entry.Challenge] = &stored

	return nil
}

// Consume atomically looks up and deletes the entry for a challenge.
// Expired entries are indistinguishable from absent ones regardless of
// whether the reaper has run.
func (l *MemoryChallengeLedger) Consume(ctx context.Context, challenge string) (*PendingChallenge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[challenge]
	if !ok {
		return nil, ErrUnknownChallenge
	}
	delete(l.entries, challenge)

	if entry.Expired(l.now()) {
		return nil, ErrUnknownChallenge
	}

	return entry, nil
}

// Count returns the number of outstanding challenges, expired or not.
func (l *MemoryChallengeLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cleanup removes expired entries and returns how many were reaped. This is
// space reclamation only; Consume enforces expiry on its own.
func (l *MemoryChallengeLedger) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for challenge, entry := range l.entries {
		if entry.Expired(now) {
			delete(l.entries, challenge)
			removed++
		}
	}
	return removed
}

// StartReaper starts a background goroutine that periodically reaps expired
// entries. Call the returned cancel function to stop it.
func (l *MemoryChallengeLedger) StartReaper(ctx context.Context, interval time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()

	return cancel
}
