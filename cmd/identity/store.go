package identity

import (
	"context"
	"time"
)

// Role classifies a profile. The relay does not attach permissions to roles;
// they exist for operators and downstream tooling.
type Role string

const (
	RoleOperator Role = "operator"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOperator || r == RoleCustomer
}

// Profile is the identity attributes of one user.
// UserID is a ULID assigned at account creation and never reused.
type Profile struct {
	UserID    string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Credential is the password-hash material for one user, one-to-one with
// Profile. PasswordHash is a self-describing encoded string (algorithm,
// parameters, salt, derived key) and must be treated as an opaque blob here.
type Credential struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// Store is the identity persistence boundary consumed by the relay core.
//
// Lookups return ErrNotFound (possibly wrapped) when no record matches.
// Upserts are used by provisioning/bootstrap, never by the login hot path.
type Store interface {
	FindProfileByEmail(ctx context.Context, email string) (Profile, error)
	FindCredentialByUserID(ctx context.Context, userID string) (Credential, error)

	UpsertProfile(ctx context.Context, p Profile) error
	UpsertCredential(ctx context.Context, c Credential) error
}
