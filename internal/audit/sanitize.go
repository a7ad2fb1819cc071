package audit

import "strings"

// Redacted replaces the value of any secret-like metadata key.
const Redacted = "[REDACTED]"

var secretKeyFragments = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"key",
	"authorization",
	"cookie",
}

// IsSecretKey reports whether a metadata key looks like it carries a credential.
// Matching is case-insensitive on substrings, so "apiKey" and "X-Auth-Token" match.
func IsSecretKey(k string) bool {
	lower := strings.ToLower(k)
	for _, frag := range secretKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of metadata with secret-like values redacted.
func Sanitize(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if IsSecretKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}
