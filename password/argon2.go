package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	argon2Prefix = "$argon2id$"
)

var errMalformed = errors.New("malformed argon2id digest")

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// ValidateConfig rejects Argon2 parameters below the package minimums.
func ValidateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KiB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return fmt.Errorf("password time must be >= %d", minTimeCost)
	case cfg.Parallelism < minParallelism:
		return fmt.Errorf("password parallelism must be >= %d", minParallelism)
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return nil
}

// Argon2 hashes passwords with Argon2id into PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
type Argon2 struct {
	cfg Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// digest is a decoded PHC string.
type digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (d digest) derive(password string) []byte {
	return argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.parallelism, uint32(len(d.key)))
}

func (d digest) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, d.memory, d.time, d.parallelism,
		base64.RawStdEncoding.EncodeToString(d.salt),
		base64.RawStdEncoding.EncodeToString(d.key))
}

// Hash derives a fresh-salted digest. The password bytes are used as given,
// without Unicode normalization. Policy checks belong to the caller.
func (a *Argon2) Hash(password string) (string, error) {
	d := digest{
		memory:      a.cfg.Memory,
		time:        a.cfg.Time,
		parallelism: a.cfg.Parallelism,
		salt:        make([]byte, a.cfg.SaltLength),
		// derive takes its output length from key.
		key:         make([]byte, a.cfg.KeyLength),
	}
	if _, err := rand.Read(d.salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	d.key = d.derive(password)
	return d.String(), nil
}

// Verify reports whether password matches encoded. Malformed digests do
// not match.
func (a *Argon2) Verify(password, encoded string) bool {
	d, err := decodeDigest(encoded)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(d.derive(password), d.key) == 1
}

// Recognizes reports whether encoded claims to be an argon2id PHC string.
func (a *Argon2) Recognizes(encoded string) bool {
	return strings.HasPrefix(encoded, argon2Prefix)
}

// NeedsUpgrade reports whether encoded was produced with weaker costs or a
// different key length than the current config. Unparseable digests need one.
func (a *Argon2) NeedsUpgrade(encoded string) bool {
	d, err := decodeDigest(encoded)
	if err != nil {
		return true
	}
	return d.memory < a.cfg.Memory ||
		d.time < a.cfg.Time ||
		d.parallelism < a.cfg.Parallelism ||
		uint32(len(d.key)) != a.cfg.KeyLength
}

// decodeDigest parses a PHC string. Salt and key are accepted with or
// without base64 padding.
func decodeDigest(encoded string) (digest, error) {
	var d digest
	rest, ok := strings.CutPrefix(encoded, argon2Prefix)
	if !ok {
		return d, fmt.Errorf("%w: not argon2id", errMalformed)
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return d, fmt.Errorf("%w: want 4 fields, got %d", errMalformed, len(fields))
	}
	if fields[0] != "v="+strconv.Itoa(argon2.Version) {
		return d, fmt.Errorf("%w: unsupported version %q", errMalformed, fields[0])
	}
	if err := d.parseCosts(fields[1]); err != nil {
		return d, err
	}

	var err error
	if d.salt, err = decodeB64(fields[2]); err != nil || uint32(len(d.salt)) < minSaltLength {
		return d, fmt.Errorf("%w: bad salt", errMalformed)
	}
	if d.key, err = decodeB64(fields[3]); err != nil || uint32(len(d.key)) < minKeyLength {
		return d, fmt.Errorf("%w: bad key", errMalformed)
	}
	return d, nil
}

// parseCosts reads "m=..,t=..,p=..", each exactly once and in any order.
func (d *digest) parseCosts(s string) error {
	seen := map[string]bool{}
	for _, pair := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return fmt.Errorf("%w: cost %q", errMalformed, pair)
		}
		seen[name] = true

		bits := 32
		if name == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return fmt.Errorf("%w: cost %q", errMalformed, pair)
		}
		switch name {
		case "m":
			d.memory = uint32(v)
		case "t":
			d.time = uint32(v)
		case "p":
			d.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown cost %q", errMalformed, name)
		}
	}
	if len(seen) != 3 {
		return fmt.Errorf("%w: missing costs", errMalformed)
	}
	if d.memory < minMemoryKB || d.time < minTimeCost || d.parallelism < minParallelism {
		return fmt.Errorf("%w: costs below minimum", errMalformed)
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
