package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are validated and quoted to avoid injection via identifiers.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "relay").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func pgIdent(schema, table string) string {
	return `"` + schema + `"."` + table + `"`
}

// FindProfileByEmail looks up a profile by normalized email.
func (s *PostgresStore) FindProfileByEmail(ctx context.Context, email string) (Profile, error) {
	const op = "identity.FindProfileByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty email"}
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	profiles := pgIdent(s.schema, "profiles")

	var p Profile
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, role, created_at FROM `+profiles+` WHERE email_norm = $1`,
		norm,
	).Scan(&p.UserID, &p.Email, &role, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, err)
	}

	p.Role = Role(role)
	return p, nil
}

// FindCredentialByUserID looks up the credential row for a user id.
func (s *PostgresStore) FindCredentialByUserID(ctx context.Context, userID string) (Credential, error) {
	const op = "identity.FindCredentialByUserID"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Credential{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user_id"}
	}
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	creds := pgIdent(s.schema, "credentials")

	var c Credential
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, password_hash, updated_at FROM `+creds+` WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.PasswordHash, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return Credential{}, fmt.Errorf("%s: %w", op, err)
	}

	return c, nil
}

// UpsertProfile inserts or updates a profile. Conflict resolution runs on the
// primary key so a reprovisioned account keeps its UserID.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p Profile) error {
	const op = "identity.UpsertProfile"

	norm := NormalizeEmail(p.Email)
	if p.UserID == "" || norm == "" || !p.Role.Valid() {
		return OpError{Op: op, Kind: ErrInvalidInput}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := p.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	profiles := pgIdent(s.schema, "profiles")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+profiles+` (id, email, email_norm, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET email = EXCLUDED.email, email_norm = EXCLUDED.email_norm, role = EXCLUDED.role`,
		p.UserID, p.Email, norm, string(p.Role), now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpsertCredential inserts or updates the credential row for a user.
func (s *PostgresStore) UpsertCredential(ctx context.Context, c Credential) error {
	const op = "identity.UpsertCredential"

	if c.UserID == "" || c.PasswordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := c.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	creds := pgIdent(s.schema, "credentials")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+creds+` (user_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`,
		c.UserID, c.PasswordHash, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
