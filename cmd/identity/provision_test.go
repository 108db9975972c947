package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubHasher keeps provisioning tests fast; the real argon2 path is covered
// in cmd/security/password.
type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

type recordingSender struct {
	address string
	code    string
	calls   int
}

func (r *recordingSender) Send(_ context.Context, address, code string) error {
	r.address = address
	r.code = code
	r.calls++
	return nil
}

func newTestProvisioner(store Store, sender CodeSender) *Provisioner {
	return &Provisioner{
		Store:   store,
		Hasher:  stubHasher{},
		Sender:  sender,
		NewCode: func() (string, error) { return "ABCD2345", nil },
	}
}

func TestCreateAccount_StoresHashAndSendsCode(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	sender := &recordingSender{}
	p := newTestProvisioner(store, sender)
	ctx := context.Background()

	prof, err := p.CreateAccount(ctx, "new@customer.com", RoleCustomer)
	require.NoError(t, err)
	require.NotEmpty(t, prof.UserID)
	require.Equal(t, RoleCustomer, prof.Role)

	require.Equal(t, 1, sender.calls)
	require.Equal(t, "new@customer.com", sender.address)
	require.Equal(t, "ABCD2345", sender.code)

	cred, err := store.FindCredentialByUserID(ctx, prof.UserID)
	require.NoError(t, err)
	require.Equal(t, "hashed:ABCD2345", cred.PasswordHash)
}

func TestCreateAccount_ExistingProfileKeepsUserID(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	sender := &recordingSender{}
	p := newTestProvisioner(store, sender)
	ctx := context.Background()

	first, err := p.CreateAccount(ctx, "same@user.com", RoleCustomer)
	require.NoError(t, err)

	second, err := p.CreateAccount(ctx, "same@user.com", RoleCustomer)
	require.NoError(t, err)
	require.Equal(t, first.UserID, second.UserID)
}

func TestEnsureOperator_WithPassword(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	p := newTestProvisioner(store, nil)
	ctx := context.Background()

	prof, err := p.EnsureOperator(ctx, "admin@relay.local", "operator password")
	require.NoError(t, err)
	require.Equal(t, RoleOperator, prof.Role)

	cred, err := store.FindCredentialByUserID(ctx, prof.UserID)
	require.NoError(t, err)
	require.Equal(t, "hashed:operator password", cred.PasswordHash)
}

func TestEnsureOperator_Idempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	p := newTestProvisioner(store, nil)
	ctx := context.Background()

	first, err := p.EnsureOperator(ctx, "admin@relay.local", "operator password")
	require.NoError(t, err)

	second, err := p.EnsureOperator(ctx, "admin@relay.local", "operator password")
	require.NoError(t, err)
	require.Equal(t, first.UserID, second.UserID)
}

func TestEnsureOperator_NoPasswordFallsBackToCode(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	sender := &recordingSender{}
	p := newTestProvisioner(store, sender)
	ctx := context.Background()

	prof, err := p.EnsureOperator(ctx, "admin@relay.local", "")
	require.NoError(t, err)
	require.Equal(t, 1, sender.calls)

	cred, err := store.FindCredentialByUserID(ctx, prof.UserID)
	require.NoError(t, err)
	require.Equal(t, "hashed:ABCD2345", cred.PasswordHash)

	// A second boot with an existing credential must not rotate it or resend.
	_, err = p.EnsureOperator(ctx, "admin@relay.local", "")
	require.NoError(t, err)
	require.Equal(t, 1, sender.calls)
}

func TestEnsureOperator_EmptyEmail(t *testing.T) {
	t.Parallel()

	p := newTestProvisioner(NewMemoryStore(), nil)

	_, err := p.EnsureOperator(context.Background(), "  ", "pw")
	require.ErrorIs(t, err, ErrInvalidInput)
}
