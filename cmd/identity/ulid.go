package identity

import (
	"time"

	"relay/cmd/identity/ids"
)

// NewUserID returns a new ULID (26-char string) for a freshly created profile.
func NewUserID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
