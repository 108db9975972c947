package notify

import (
	"context"
	"log/slog"
)

// LogSender is the dev fallback when no SMTP relay is configured. It records
// that a code was issued without printing the code at default log levels; the
// code itself only appears at debug.
type LogSender struct {
	Log *slog.Logger
}

// Send logs the delivery instead of performing one.
func (s LogSender) Send(_ context.Context, address, code string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("notify.code.not_delivered", "address", address, "reason", "smtp not configured")
	log.Debug("notify.code.value", "address", address, "code", code)
	return nil
}
