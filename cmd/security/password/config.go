package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Params controls Argon2id hashing cost. MemoryKiB is in KiB as required by
// argon2.IDKey.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds human-chosen passwords. It applies to provisioning inputs,
// not to Hash itself: machine-generated secrets (one-time codes) are hashed
// without policy checks.
type Policy struct {
	MinLength int
	MaxLength int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Params
	Policy Policy
}

// maxParallelism caps the thread count used for hashing. Unbounded
// parallelism on large hosts degrades tail latency without adding security.
const maxParallelism = 4

// DefaultConfig returns the OWASP interactive-login baseline: 46 MiB memory,
// two passes, with parallelism tuned to the host CPU count.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > maxParallelism {
		threads = maxParallelism
	}

	return Config{
		Params: Params{
			MemoryKiB:   46 * 1024,
			Iterations:  2,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..maxParallelism] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// validate rejects parameter sets argon2 cannot run with. A failure here is a
// configuration-level fault, not something to retry.
func (p Params) validate() error {
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return ErrInvalidParams
	}
	if p.SaltLength < 8 || p.KeyLength < 16 {
		return ErrInvalidParams
	}
	return nil
}

// FromEnv loads config from environment variables, starting from DefaultConfig.
//
// Env surface:
// - RELAY_PASSWORD_MIN_LEN
// - RELAY_PASSWORD_MAX_LEN
// - RELAY_ARGON2_MEMORY_KIB
// - RELAY_ARGON2_ITERATIONS
// - RELAY_ARGON2_PARALLELISM
// - RELAY_ARGON2_SALT_LEN
// - RELAY_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("RELAY_PASSWORD_MIN_LEN"); ok {
		n, err := envInt(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("RELAY_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := os.LookupEnv("RELAY_PASSWORD_MAX_LEN"); ok {
		n, err := envInt(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("RELAY_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := os.LookupEnv("RELAY_ARGON2_MEMORY_KIB"); ok {
		u, err := envUint32(v, 8*1024, 1024*1024) // 8 MiB .. 1 GiB
		if err != nil {
			return Config{}, fmt.Errorf("RELAY_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("RELAY_ARGON2_ITERATIONS"); ok {
		u, err := envUint32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("RELAY_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}

	if v, ok := os.LookupEnv("RELAY_ARGON2_PARALLELISM"); ok {
		u, err := envUint32(v, 1, 255)
		if err != nil {
			return Config{}, fmt.Errorf("RELAY_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- envUint32 bounds to [1..255].
	}

	if v, ok := os.LookupEnv("RELAY_ARGON2_SALT_LEN"); ok {
		u, err := envUint32(v, 8, 64)
		if err != nil {
			return Config{}, fmt.Errorf("RELAY_ARGON2_SALT_LEN: %w", err)
		}
		cfg.Params.SaltLength = u
	}

	if v, ok := os.LookupEnv("RELAY_ARGON2_KEY_LEN"); ok {
		u, err := envUint32(v, 16, 64)
		if err != nil {
			return Config{}, fmt.Errorf("RELAY_ARGON2_KEY_LEN: %w", err)
		}
		cfg.Params.KeyLength = u
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}
	if err := cfg.Params.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks policy bounds for a human-chosen password.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}

func envInt(s string, minVal, maxVal int) (int, error) {
	s = strings.TrimSpace(s)
	i64, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func envUint32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
