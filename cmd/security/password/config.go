package password

import (
	"fmt"
	"runtime"

	"github.com/kelseyhightower/envconfig"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `envconfig:"memory_kib"`
	Iterations  uint32 `envconfig:"iterations"`
	Parallelism uint8  `envconfig:"parallelism"`
	SaltLength  uint32 `envconfig:"salt_len"`
	KeyLength   uint32 `envconfig:"key_len"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `envconfig:"min_len"`
	MaxLength int `envconfig:"max_len"`
	// RejectVeryWeak enables a minimal weak-pattern rejection on top of length checks.
	RejectVeryWeak bool `envconfig:"reject_very_weak"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `envconfig:"argon2"`
	Policy Policy         `envconfig:"password"`
}

// DefaultConfig returns the production baseline for principal credentials.
func DefaultConfig() Config {
	// Parallelism is clamped to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// FastConfig returns cheap parameters for tests and local seeding.
// Never use it for real credentials.
func FastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - TEAROOM_PASSWORD_MIN_LEN
//   - TEAROOM_PASSWORD_MAX_LEN
//   - TEAROOM_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - TEAROOM_ARGON2_MEMORY_KIB
//   - TEAROOM_ARGON2_ITERATIONS
//   - TEAROOM_ARGON2_PARALLELISM
//   - TEAROOM_ARGON2_SALT_LEN
//   - TEAROOM_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("tearoom", &cfg); err != nil {
		return Config{}, fmt.Errorf("password config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	if err := inRange("TEAROOM_PASSWORD_MIN_LEN", uint64(max(c.Policy.MinLength, 0)), 1, 1024); err != nil {
		return err
	}
	if err := inRange("TEAROOM_PASSWORD_MAX_LEN", uint64(max(c.Policy.MaxLength, 0)), 1, 4096); err != nil {
		return err
	}
	if err := inRange("TEAROOM_ARGON2_MEMORY_KIB", uint64(c.Params.MemoryKiB), 8*1024, 1024*1024); err != nil {
		return err
	}
	if err := inRange("TEAROOM_ARGON2_ITERATIONS", uint64(c.Params.Iterations), 1, 20); err != nil {
		return err
	}
	if err := inRange("TEAROOM_ARGON2_PARALLELISM", uint64(c.Params.Parallelism), 1, 64); err != nil {
		return err
	}
	if err := inRange("TEAROOM_ARGON2_SALT_LEN", uint64(c.Params.SaltLength), 8, 64); err != nil {
		return err
	}
	if err := inRange("TEAROOM_ARGON2_KEY_LEN", uint64(c.Params.KeyLength), 16, 64); err != nil {
		return err
	}

	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}

func inRange(key string, v, minVal, maxVal uint64) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", key, minVal, maxVal)
	}
	return nil
}
