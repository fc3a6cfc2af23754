package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19 // argon2.Version (0x13)

var phcB64 = base64.RawStdEncoding

// phc is a decoded $argon2id$ string.
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		phcB64.EncodeToString(h.salt),
		phcB64.EncodeToString(h.key),
	)
}

func derive(secret string, salt []byte, p Argon2idParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(secret), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// Hash validates secret against the policy and returns its PHC encoding.
func (c Config) Hash(secret string) (string, error) {
	return c.HashFor(secret, Subject{})
}

// HashFor is Hash with the identity-aware policy applied for sub.
func (c Config) HashFor(secret string, sub Subject) (string, error) {
	if err := c.ValidateFor(secret, sub); err != nil {
		return "", err
	}
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	h := phc{params: c.Params, salt: salt, key: derive(secret, salt, c.Params, c.Params.KeyLength)}
	return h.String(), nil
}

// Verify reports whether secret matches encoded. A mismatch is (false, nil);
// a malformed or over-budget encoding is (false, ErrInvalidHash).
func (c Config) Verify(encoded, secret string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.affordable(h.params) {
		return false, ErrInvalidHash
	}
	got := derive(secret, h.salt, h.params, h.params.KeyLength)
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether encoded differs from the current parameters.
// Malformed encodings always need a rehash.
func (c Config) NeedsRehash(encoded string) bool {
	h, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	return h.params != c.Params
}

// affordable accepts stored hashes at up to twice the configured cost so
// older rows keep verifying while a tampered row cannot pin a CPU.
func (c Config) affordable(p Argon2idParams) bool {
	lim := c.Params
	return p.MemoryKiB <= lim.MemoryKiB*2 &&
		p.Iterations <= lim.Iterations*2 &&
		uint32(p.Parallelism) <= uint32(lim.Parallelism)*2 &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}

func parsePHC(s string) (phc, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v="+strconv.Itoa(argon2Version) {
		return phc{}, ErrInvalidHash
	}

	var mem, iter, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return phc{}, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || par == 0 || par > 255 {
		return phc{}, ErrInvalidHash
	}

	salt, err := phcB64.DecodeString(parts[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := phcB64.DecodeString(parts[5])
	if err != nil || len(salt) > 1<<10 || len(key) > 1<<10 {
		return phc{}, ErrInvalidHash
	}

	return phc{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  iter,
			Parallelism: uint8(par),        // #nosec G115 -- par <= 255 checked above.
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded above.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded above.
		},
		salt: salt,
		key:  key,
	}, nil
}
