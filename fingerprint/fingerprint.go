// Package fingerprint derives the opaque per-device token that sessions are bound to.
//
// A fingerprint is base64url(sha256(seed || user-agent || accept-language ||
// accept-encoding)) with a 16-byte random seed. It is derived once per device, kept
// client-side in the device_id cookie, and only ever compared, never mutated.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/teamguard/internal"
)

const (
	// CookieName is the device cookie.
	CookieName = "device_id"
	// CookieMaxAge is the lifetime of the device cookie.
	CookieMaxAge = 365 * 24 * time.Hour
	// SeedSize is the random seed mixed into every fingerprint.
	SeedSize = 16
)

// Signals are the low-entropy request headers mixed into a fingerprint.
type Signals struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// FromRequest extracts fingerprint signals from r.
func FromRequest(r *http.Request) Signals {
	return Signals{
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
}

// Derive describes the derive operation and its observable behavior.
//
// Derive reads SeedSize bytes from random (crypto/rand when nil) and may return an error
// only when the random source fails. Two calls with identical signals yield different
// fingerprints.
func Derive(random io.Reader, s Signals) (string, error) {
	seed, err := internal.RandomBytes(random, SeedSize)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(s.UserAgent))
	h.Write([]byte(s.AcceptLanguage))
	h.Write([]byte(s.AcceptEncoding))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// WellFormed reports whether fp has the shape of a derived fingerprint.
func WellFormed(fp string) bool {
	return internal.WellFormedToken(fp, sha256.Size)
}

// Resolve reuses existing when it is well formed and otherwise derives a new
// fingerprint. issued reports whether the caller must persist a new cookie.
func Resolve(random io.Reader, existing string, s Signals) (fp string, issued bool, err error) {
	if WellFormed(existing) {
		return existing, false, nil
	}
	fp, err = Derive(random, s)
	if err != nil {
		return "", false, err
	}
	return fp, true, nil
}
