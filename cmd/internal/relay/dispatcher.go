package relay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"relay/cmd/identity"
	v1 "relay/shared/contracts/relay/v1"
)

// CredentialVerifier checks a password against an encoded hash.
// cmd/security/password.Config satisfies it.
type CredentialVerifier interface {
	Verify(encodedHash, password string) (bool, error)
}

// Dispatcher routes decoded inbound messages to the credential verifier, the
// session, or the registry.
//
// Password verification is memory-hard and CPU-bound; a weighted semaphore
// caps how many verifications run at once so a burst of logins cannot starve
// message delivery for everyone else. Queued verifications still respect the
// connection context.
type Dispatcher struct {
	log      *slog.Logger
	registry *Registry
	store    identity.Store
	verifier CredentialVerifier
	metrics  *Metrics

	verifySem *semaphore.Weighted
}

// NewDispatcher wires a dispatcher. The verification cap defaults to the host
// CPU count when maxVerify <= 0.
func NewDispatcher(
	log *slog.Logger,
	registry *Registry,
	store identity.Store,
	verifier CredentialVerifier,
	metrics *Metrics,
	maxVerify int,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if maxVerify <= 0 {
		maxVerify = runtime.NumCPU()
		if maxVerify < 1 {
			maxVerify = 1
		}
	}

	return &Dispatcher{
		log:       log,
		registry:  registry,
		store:     store,
		verifier:  verifier,
		metrics:   metrics,
		verifySem: semaphore.NewWeighted(int64(maxVerify)),
	}
}

// Dispatch handles one decoded inbound message for the given connection.
// It is total over the wire protocol: every Kind has an explicit outcome.
// Frames from one connection are dispatched strictly in arrival order by the
// caller's read loop; Dispatch itself never spawns per-message goroutines.
func (d *Dispatcher) Dispatch(ctx context.Context, client *Client, sess *Session, in v1.Inbound) error {
	d.metrics.inboundKind(string(in.Kind))

	switch in.Kind {
	case v1.KindLoginWithPassword:
		return d.login(ctx, client, sess, *in.LoginWithPassword)

	case v1.KindLoginWithEmail:
		// Reserved on the wire; selecting it is an explicit failure, never a
		// silent drop.
		d.metrics.authFailure("not_implemented")
		return ErrNotImplemented

	case v1.KindChatMessage:
		return d.chat(sess, *in.Chat)

	default:
		return fmt.Errorf("%w: unhandled kind %q", v1.ErrDecode, in.Kind)
	}
}

func (d *Dispatcher) login(ctx context.Context, client *Client, sess *Session, req v1.LoginWithPassword) error {
	if sess.Authenticated() {
		d.metrics.authFailure("already_authenticated")
		return ErrAlreadyAuthenticated
	}

	profile, err := d.store.FindProfileByEmail(ctx, req.Email)
	if err != nil {
		if identity.IsNotFound(err) {
			// The hasher is never consulted for unknown identities.
			d.metrics.authFailure("unknown_identity")
			return ErrUnknownIdentity
		}
		return fmt.Errorf("profile lookup: %w", err)
	}

	cred, err := d.store.FindCredentialByUserID(ctx, profile.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			// A profile without a credential is a data-integrity anomaly:
			// fatal to this login attempt, not to the process.
			d.log.Error("dispatch.login.no_credential", "user_id", profile.UserID)
			d.metrics.authFailure("no_credential")
			return ErrNoCredential
		}
		return fmt.Errorf("credential lookup: %w", err)
	}

	ok, err := d.verifyPassword(ctx, cred.PasswordHash, req.Password)
	if err != nil {
		return err
	}
	if !ok {
		d.metrics.authFailure("invalid_password")
		return ErrInvalidPassword
	}

	if err := sess.Bind(profile.UserID); err != nil {
		d.metrics.authFailure("already_authenticated")
		return err
	}
	d.registry.BindUser(client.ConnID, profile.UserID)

	d.log.Info("dispatch.login.ok", "conn_id", client.ConnID, "user_id", profile.UserID, "role", string(profile.Role))
	return nil
}

// verifyPassword runs the memory-hard verification under the concurrency cap.
// A malformed stored hash is reported as a mismatch to the caller and logged
// as an anomaly here; it must not leak a distinct failure mode to the peer.
func (d *Dispatcher) verifyPassword(ctx context.Context, encodedHash, pw string) (bool, error) {
	if err := d.verifySem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer d.verifySem.Release(1)

	ok, err := d.verifier.Verify(encodedHash, pw)
	if err != nil {
		d.log.Error("dispatch.login.bad_stored_hash", "err", err)
		return false, nil
	}
	return ok, nil
}

func (d *Dispatcher) chat(sess *Session, msg v1.ChatMessage) error {
	userID, ok := sess.UserID()
	if !ok {
		d.metrics.authFailure("not_authenticated")
		return ErrNotAuthenticated
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidChat)
	}
	if utf8.RuneCountInString(text) > maxChatChars {
		return fmt.Errorf("%w: too long (max %d chars)", ErrInvalidChat, maxChatChars)
	}

	payload := v1.RenderChat(text)
	delivered := d.registry.Broadcast(AllConnections, payload)

	d.log.Debug("dispatch.chat.broadcast", "sender", userID, "delivered", delivered)
	return nil
}
