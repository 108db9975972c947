// Package notify delivers one-time codes to users out of band.
//
// The relay core only needs a "send code to address" capability; this package
// supplies an SMTP implementation and a dev fallback. Delivery is
// fire-and-forget: errors surface to the caller and are never retried here.
package notify

import (
	"context"
	"errors"
)

// ErrDelivery wraps every transport failure so callers can match the class
// without depending on the mail library.
var ErrDelivery = errors.New("code delivery failed")

// Sender delivers a one-time code to an address.
type Sender interface {
	Send(ctx context.Context, address, code string) error
}
