package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	// Bounds applied to parameters read back from stored hashes.
	maxMemoryKB uint32 = 1024 * 1024
	maxTimeCost uint32 = 16
	maxKeyBytes        = 128
)

var (
	// ErrMalformedHash is returned for stored hashes that do not parse.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnsupportedHash is returned for a hash of another algorithm or version.
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

// Config holds Argon2id cost parameters. Random overrides the salt source and defaults
// to crypto/rand.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Random      io.Reader
}

// DefaultConfig returns the production parameters (64 MiB, 3 passes, 2 lanes).
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies passwords. The salt is embedded in the encoded hash, so a
// credential record stores a single string.
type Argon2 struct {
	config Config
}

type params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	return &Argon2{config: cfg}, nil
}

// Hash returns the PHC encoding $argon2id$v=19$m=..,t=..,p=..$salt$key of password.
// The password bytes are used exactly as given.
func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(a.config.Random, salt); err != nil {
		return "", err
	}

	p := params{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
	}
	p.key = derive(password, p, a.config.KeyLength)
	return p.encode(), nil
}

// Verify recomputes the key with the parameters stored in encoded and compares in
// constant time. A mismatch is (false, nil); an unreadable hash is an error.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	computed := derive(password, p, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters than the
// current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.parallelism < a.config.Parallelism ||
		uint32(len(p.key)) != a.config.KeyLength, nil
}

func derive(password string, p params, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, keyLen)
}

func (p params) encode() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, p.memory, p.time, p.parallelism,
		enc.EncodeToString(p.salt), enc.EncodeToString(p.key))
}

func decode(encoded string) (params, error) {
	var p params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, ErrMalformedHash
	}
	if parts[1] != algorithmID || parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, ErrUnsupportedHash
	}

	seen := 0
	for _, field := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return p, ErrMalformedHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return p, ErrMalformedHash
		}
		switch name {
		case "m":
			if n < uint64(minMemoryKB) || n > uint64(maxMemoryKB) {
				return p, fmt.Errorf("%w: memory out of range", ErrMalformedHash)
			}
			p.memory = uint32(n)
		case "t":
			if n < uint64(minTimeCost) || n > uint64(maxTimeCost) {
				return p, fmt.Errorf("%w: time out of range", ErrMalformedHash)
			}
			p.time = uint32(n)
		case "p":
			if n < uint64(minParallelism) || n > 255 {
				return p, fmt.Errorf("%w: parallelism out of range", ErrMalformedHash)
			}
			p.parallelism = uint8(n)
		default:
			return p, ErrMalformedHash
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return p, ErrMalformedHash
	}

	var err error
	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return p, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = decodeB64(parts[5]); err != nil || len(p.key) < int(minKeyLength) || len(p.key) > maxKeyBytes {
		return p, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, nil
}

// decodeB64 accepts both the unpadded PHC form and padded standard base64.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
