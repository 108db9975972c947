// Package identity holds the relay's user records and their persistence boundary.
//
// Two related records back one user: the Profile (stable id, email, role) and
// the Credential (the encoded password hash). The hash string is opaque to this
// package; only cmd/security/password may interpret it.
package identity
