package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/teamguard"
	"github.com/MrEthical07/teamguard/fingerprint"
)

func sessionCookie(cfg teamguard.Config, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     cfg.Session.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Security.ProductionMode,
		SameSite: cfg.Session.SameSite,
	}
	if value == "" {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	} else {
		c.Expires = expires
	}
	return c
}

// StartSession writes the cookies of a newly issued or renewed session: auth_session
// always, device_id when the grant carries a new fingerprint.
func StartSession(w http.ResponseWriter, cfg teamguard.Config, grant teamguard.SessionGrant) {
	http.SetCookie(w, sessionCookie(cfg, grant.Token, grant.ExpiresAt))
	if grant.NewFingerprint && grant.Fingerprint != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     fingerprint.CookieName,
			Value:    grant.Fingerprint,
			Path:     "/",
			MaxAge:   int(fingerprint.CookieMaxAge / time.Second),
			HttpOnly: true,
			Secure:   cfg.Security.ProductionMode,
			SameSite: cfg.Session.SameSite,
		})
	}
}

// ClearSession expires the session cookie. The device cookie outlives logouts.
func ClearSession(w http.ResponseWriter, cfg teamguard.Config) {
	http.SetCookie(w, sessionCookie(cfg, "", time.Time{}))
}

// EndSession invalidates the presented session and clears its cookie.
func EndSession(ctx context.Context, w http.ResponseWriter, r *http.Request, engine *teamguard.Engine) error {
	cfg := engine.Config()
	info := infoFor(r, cfg)
	ClearSession(w, cfg)
	return engine.InvalidateSession(ctx, info.SessionToken, info)
}

// csrfCookie carries the double-submit half the browser sends back on its own.
// Clients read the header half from the CSRFTokenHandler body.
func csrfCookie(cfg teamguard.Config, token string) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.CSRF.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.CSRF.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   cfg.Security.ProductionMode,
		SameSite: http.SameSiteStrictMode,
	}
}
