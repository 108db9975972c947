package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured and
// by tests. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]Profile    // keyed by normalized email
	credentials map[string]Credential // keyed by user id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:    make(map[string]Profile),
		credentials: make(map[string]Credential),
	}
}

// FindProfileByEmail looks up a profile by email (case-insensitive).
func (s *MemoryStore) FindProfileByEmail(ctx context.Context, email string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[NormalizeEmail(email)]
	if !ok {
		return Profile{}, OpError{Op: "identity.FindProfileByEmail", Kind: ErrNotFound}
	}
	return p, nil
}

// FindCredentialByUserID looks up the credential for a user id.
func (s *MemoryStore) FindCredentialByUserID(ctx context.Context, userID string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[userID]
	if !ok {
		return Credential{}, OpError{Op: "identity.FindCredentialByUserID", Kind: ErrNotFound}
	}
	return c, nil
}

// UpsertProfile inserts or replaces a profile keyed by normalized email.
func (s *MemoryStore) UpsertProfile(ctx context.Context, p Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.UserID == "" || NormalizeEmail(p.Email) == "" || !p.Role.Valid() {
		return OpError{Op: "identity.UpsertProfile", Kind: ErrInvalidInput}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[NormalizeEmail(p.Email)] = p
	return nil
}

// UpsertCredential inserts or replaces the credential for a user.
func (s *MemoryStore) UpsertCredential(ctx context.Context, c Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.UserID == "" || c.PasswordHash == "" {
		return OpError{Op: "identity.UpsertCredential", Kind: ErrInvalidInput}
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[c.UserID] = c
	return nil
}
