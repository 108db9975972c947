// Package password derives and verifies relay credentials.
//
// It implements Argon2id hashing using a PHC-like encoded string format and includes:
// - Tunable Argon2id cost parameters (via environment variables)
// - Password policy validation for human-chosen passwords
// - Strict hash decoding and verification with anti-DoS bounds
// - Human-readable one-time codes drawn from an unambiguous alphabet
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
// - Verification refuses hashes with parameters that exceed reasonable bounds.
package password
