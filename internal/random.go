package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

const (
	// SessionTokenSize is the raw entropy of a session token (256 bits).
	SessionTokenSize = 32
	// CSRFTokenSize is the raw entropy of a CSRF token.
	CSRFTokenSize = 32
	// ResetRandomSize is the random prefix of a password reset token (512 bits).
	ResetRandomSize = 64
	// ResetTokenSize is the random prefix plus the sha256 context hash.
	ResetTokenSize = ResetRandomSize + sha256.Size
)

var errShortRandom = errors.New("random source returned short read")

// RandomBytes reads n bytes from r, falling back to crypto/rand when r is nil.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil {
		return nil, err
	}
	if read != n {
		return nil, errShortRandom
	}
	return buf, nil
}

// NewToken returns n random bytes rendered base64url without padding.
func NewToken(r io.Reader, n int) (string, error) {
	raw, err := RandomBytes(r, n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the hex sha256 of an opaque token. Stores key records by this
// digest so the raw capability never reaches the backend.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashBindingValue hashes a low-entropy binding signal (IP, user agent).
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

// ContextHash binds a reset token to the requesting user and client.
func ContextHash(userID, ip, userAgent string) [32]byte {
	return sha256.Sum256([]byte(userID + ":" + ip + ":" + userAgent))
}

// NewResetToken builds random(64) || sha256(userID:ip:userAgent), base64url.
func NewResetToken(r io.Reader, userID, ip, userAgent string) (string, error) {
	random, err := RandomBytes(r, ResetRandomSize)
	if err != nil {
		return "", err
	}
	ctxHash := ContextHash(userID, ip, userAgent)

	raw := make([]byte, 0, ResetTokenSize)
	raw = append(raw, random...)
	raw = append(raw, ctxHash[:]...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// WellFormedResetToken reports whether token decodes to the reset token size.
func WellFormedResetToken(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return len(raw) == ResetTokenSize
}

// WellFormedToken reports whether token decodes to exactly n raw bytes.
func WellFormedToken(token string, n int) bool {
	if token == "" || len(token) > base64.RawURLEncoding.EncodedLen(n) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return len(raw) == n
}
