package middleware

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/teamguard"
	"github.com/MrEthical07/teamguard/fingerprint"
)

// ClientIP returns the client address of r. Forwarding headers are honored only when
// trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestInfo extracts the engine request context from r.
func RequestInfo(r *http.Request, cfg teamguard.Config) teamguard.RequestInfo {
	signals := fingerprint.FromRequest(r)
	info := teamguard.RequestInfo{
		IP:             ClientIP(r, cfg.Security.TrustProxyHeaders),
		UserAgent:      signals.UserAgent,
		AcceptLanguage: signals.AcceptLanguage,
		AcceptEncoding: signals.AcceptEncoding,
	}
	if c, err := r.Cookie(cfg.Session.CookieName); err == nil {
		info.SessionToken = c.Value
	}
	if c, err := r.Cookie(fingerprint.CookieName); err == nil {
		info.DeviceID = c.Value
	}
	return info
}

// infoFor returns the request info attached by Precheck, or extracts it.
func infoFor(r *http.Request, cfg teamguard.Config) teamguard.RequestInfo {
	info := teamguard.RequestInfoFromContext(r.Context())
	if info.IP == "" && info.UserAgent == "" {
		info = RequestInfo(r, cfg)
	}
	return info
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes the generic JSON error body and status for err. Rate limit errors
// also get a Retry-After header. The cause is never written to the client.
func WriteError(w http.ResponseWriter, err error) {
	kind := teamguard.KindOf(err)
	var rl *teamguard.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(rl.RetryAfter.Seconds())))
	}
	WriteJSON(w, teamguard.HTTPStatus(kind), errorBody{Error: teamguard.PublicMessage(kind)})
}

// WriteJSON writes v as a non-cacheable JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ceilSeconds(s float64) int {
	if s <= 0 {
		return 0
	}
	return int(math.Ceil(s))
}
