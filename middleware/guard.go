package middleware

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/teamguard"
)

// Precheck rejects requests that fail the transport checks and attaches the extracted
// request info to the context. Rejections are audited as ACCESS_DENIED.
func Precheck(engine *teamguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if engine == nil {
			return unavailable()
		}
		cfg := engine.Config()
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := RequestInfo(r, cfg)
			if reason, status := precheck(r, cfg); reason != "" {
				err := engine.RejectRequest(r.Context(), info, reason)
				WriteJSON(w, status, errorBody{Error: teamguard.PublicMessage(teamguard.KindOf(err))})
				return
			}
			if cfg.Security.MaxBodyBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.Security.MaxBodyBytes)
			}
			ctx := teamguard.WithRequestInfo(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Protect authenticates every request. It runs [Precheck], applies the api rate limit
// per client IP with X-RateLimit-* headers, and walks the engine authenticator chain.
// A renewed session is written back as a cookie before the handler runs.
func Protect(engine *teamguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if engine == nil {
			return unavailable()
		}
		cfg := engine.Config()
		guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info := teamguard.RequestInfoFromContext(ctx)

			d, err := engine.CheckRateLimit(ctx, teamguard.ActionAPI, "ip:"+info.IP, info)
			setRateHeaders(w, d)
			if err != nil {
				WriteError(w, err)
				return
			}

			creds := teamguard.Credentials{Request: info}
			if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
				creds.BearerToken = token
			}
			res, err := engine.Authenticate(ctx, creds)
			if err != nil {
				if info.SessionToken != "" && errors.Is(err, teamguard.ErrUnauthenticated) {
					ClearSession(w, cfg)
				}
				WriteError(w, err)
				return
			}
			if res.RenewedSession != nil {
				StartSession(w, cfg, *res.RenewedSession)
			}

			ctx = teamguard.WithIdentity(ctx, res.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
		return Precheck(engine)(guarded)
	}
}

// precheck returns a rejection reason and status, or "" when the request passes.
func precheck(r *http.Request, cfg teamguard.Config) (string, int) {
	if cfg.Security.ProductionMode && !isHTTPS(r, cfg.Security.TrustProxyHeaders) {
		return "insecure_transport", http.StatusBadRequest
	}
	if cfg.Security.RequireUserAgent && strings.TrimSpace(r.UserAgent()) == "" {
		return "missing_user_agent", http.StatusBadRequest
	}
	if limit := cfg.Security.MaxBodyBytes; limit > 0 && r.ContentLength > limit {
		return "body_too_large", http.StatusRequestEntityTooLarge
	}
	if hasBody(r) && len(cfg.Security.AllowedContentTypes) > 0 {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || !allowed(mediaType, cfg.Security.AllowedContentTypes) {
			return "unsupported_content_type", http.StatusUnsupportedMediaType
		}
	}
	return "", 0
}

func isHTTPS(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	return trustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return r.ContentLength != 0
	default:
		return false
	}
}

func allowed(mediaType string, list []string) bool {
	for _, t := range list {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}

func setRateHeaders(w http.ResponseWriter, d teamguard.RateDecision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

func unavailable() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, teamguard.ErrEngineNotReady)
	})
}
