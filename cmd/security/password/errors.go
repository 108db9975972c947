package password

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidParams    = errors.New("invalid hashing parameters")
	ErrInvalidHash      = errors.New("invalid password hash")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
)
