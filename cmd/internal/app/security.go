package app

import (
	"errors"
	"fmt"

	"relay/cmd/security/password"
)

// ValidateSecurityConfig enforces startup security policy.
//
// Fail-fast is intentional: a server that silently runs with broken hashing
// config or an operator password that cannot survive the login policy is
// worse than one that refuses to start.
func ValidateSecurityConfig(cfg Config, hasher password.Config) error {
	if pw := cfg.Bootstrap.OperatorPassword; pw != "" {
		if err := hasher.Validate(pw); err != nil {
			switch {
			case errors.Is(err, password.ErrPasswordTooShort):
				return fmt.Errorf(
					"security policy: operator password shorter than RELAY_PASSWORD_MIN_LEN (%d)",
					hasher.Policy.MinLength,
				)
			case errors.Is(err, password.ErrPasswordTooLong):
				return fmt.Errorf(
					"security policy: operator password longer than RELAY_PASSWORD_MAX_LEN (%d)",
					hasher.Policy.MaxLength,
				)
			default:
				return err
			}
		}
	}

	if cfg.WS.DevInsecure && cfg.WS.OriginRequired {
		// Contradictory knobs: insecure dev mode with a mandatory origin is
		// almost always a misconfigured deployment.
		return errors.New("security policy: ws.dev_insecure and ws.origin_required are mutually exclusive")
	}

	return nil
}
