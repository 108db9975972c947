package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Hasher derives encoded password hashes. cmd/security/password.Config
// satisfies it.
type Hasher interface {
	Hash(password string) (string, error)
}

// CodeSender delivers a one-time code to an address out of band.
// Delivery failures surface to the caller; provisioning does not retry.
type CodeSender interface {
	Send(ctx context.Context, address, code string) error
}

// Provisioner creates and repairs accounts. It is a bootstrap/admin
// collaborator, never part of the login hot path.
type Provisioner struct {
	Log    *slog.Logger
	Store  Store
	Hasher Hasher
	Sender CodeSender

	// NewCode draws a fresh one-time code. Wired to
	// password.GenerateOneTimeCode by the app; injectable for tests.
	NewCode func() (string, error)
}

// CreateAccount provisions a new account whose initial credential is a
// one-time code: the code's hash is stored and the code itself is sent to the
// address. The plain code never touches the store or the logs.
//
// If a profile already exists for the email, its UserID is kept and only the
// credential is rotated.
func (p *Provisioner) CreateAccount(ctx context.Context, email string, role Role) (Profile, error) {
	const op = "identity.CreateAccount"

	if p.Store == nil || p.Hasher == nil || p.NewCode == nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "provisioner not wired"}
	}
	if NormalizeEmail(email) == "" || !role.Valid() {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput}
	}
	if p.Sender == nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "no code sender configured"}
	}

	now := time.Now().UTC()

	prof, err := p.ensureProfile(ctx, email, role, now)
	if err != nil {
		return Profile{}, err
	}

	code, err := p.NewCode()
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := p.storeCredential(ctx, prof.UserID, code, now); err != nil {
		return Profile{}, err
	}

	if err := p.Sender.Send(ctx, prof.Email, code); err != nil {
		return Profile{}, fmt.Errorf("%s: send code: %w", op, err)
	}

	p.log().Info("identity.account.provisioned", "user_id", prof.UserID, "role", string(role))
	return prof, nil
}

// EnsureOperator makes sure the configured operator account exists and can
// log in. With a non-empty password the credential is (re)derived from it;
// with an empty password a one-time code is generated and sent instead, and
// an existing credential is left untouched.
func (p *Provisioner) EnsureOperator(ctx context.Context, email, plainPassword string) (Profile, error) {
	const op = "identity.EnsureOperator"

	if p.Store == nil || p.Hasher == nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "provisioner not wired"}
	}
	if NormalizeEmail(email) == "" {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty operator email"}
	}

	now := time.Now().UTC()

	prof, err := p.ensureProfile(ctx, email, RoleOperator, now)
	if err != nil {
		return Profile{}, err
	}

	if plainPassword != "" {
		if err := p.storeCredential(ctx, prof.UserID, plainPassword, now); err != nil {
			return Profile{}, err
		}
		p.log().Info("identity.operator.ready", "user_id", prof.UserID)
		return prof, nil
	}

	// No configured password: keep an existing credential, otherwise fall
	// back to the one-time-code flow.
	_, err = p.Store.FindCredentialByUserID(ctx, prof.UserID)
	if err == nil {
		p.log().Info("identity.operator.ready", "user_id", prof.UserID)
		return prof, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Profile{}, err
	}

	return p.CreateAccount(ctx, prof.Email, RoleOperator)
}

func (p *Provisioner) ensureProfile(ctx context.Context, email string, role Role, now time.Time) (Profile, error) {
	prof, err := p.Store.FindProfileByEmail(ctx, email)
	switch {
	case err == nil:
		return prof, nil
	case errors.Is(err, ErrNotFound):
	default:
		return Profile{}, err
	}

	userID, err := NewUserID(now)
	if err != nil {
		return Profile{}, err
	}

	prof = Profile{
		UserID:    userID,
		Email:     email,
		Role:      role,
		CreatedAt: now,
	}
	if err := p.Store.UpsertProfile(ctx, prof); err != nil {
		return Profile{}, err
	}
	return prof, nil
}

func (p *Provisioner) storeCredential(ctx context.Context, userID, secret string, now time.Time) error {
	hash, err := p.Hasher.Hash(secret)
	if err != nil {
		return err
	}
	return p.Store.UpsertCredential(ctx, Credential{
		UserID:       userID,
		PasswordHash: hash,
		UpdatedAt:    now,
	})
}

func (p *Provisioner) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
