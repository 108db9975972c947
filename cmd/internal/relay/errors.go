package relay

import "errors"

// Authentication outcomes. All of them leave the connection open; none is
// retried automatically.
var (
	ErrUnknownIdentity      = errors.New("unknown identity")
	ErrNoCredential         = errors.New("no credential on record")
	ErrInvalidPassword      = errors.New("invalid password")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrNotImplemented       = errors.New("login method not implemented")
)

// ErrInvalidChat reports a chat payload the dispatcher refuses to relay
// (empty or oversized text). The connection stays open.
var ErrInvalidChat = errors.New("invalid chat message")

// IsAuthError reports whether err is one of the authentication outcomes, as
// opposed to a store or transport failure.
func IsAuthError(err error) bool {
	for _, target := range []error{
		ErrUnknownIdentity,
		ErrNoCredential,
		ErrInvalidPassword,
		ErrAlreadyAuthenticated,
		ErrNotAuthenticated,
		ErrNotImplemented,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
