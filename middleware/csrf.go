package middleware

import (
	"net/http"

	"github.com/MrEthical07/teamguard"
)

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// CSRF enforces the double-submit token. Safe methods pass and receive a token cookie
// when none is present; other methods must echo the cookie in the CSRF header.
func CSRF(engine *teamguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if engine == nil {
			return unavailable()
		}
		cfg := engine.Config()
		if !cfg.CSRF.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie := ""
			if c, err := r.Cookie(cfg.CSRF.CookieName); err == nil {
				cookie = c.Value
			}

			if safeMethod(r.Method) {
				if cookie == "" {
					if token, err := engine.NewCSRFToken(); err == nil {
						http.SetCookie(w, csrfCookie(cfg, token))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			info := infoFor(r, cfg)
			if err := engine.VerifyCSRF(r.Context(), cookie, r.Header.Get(cfg.CSRF.HeaderName), info); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type csrfTokenBody struct {
	Token string `json:"csrf_token"`
}

// CSRFTokenHandler issues a fresh token in the cookie and the JSON body.
func CSRFTokenHandler(engine *teamguard.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			WriteError(w, teamguard.ErrEngineNotReady)
			return
		}
		token, err := engine.NewCSRFToken()
		if err != nil {
			WriteError(w, err)
			return
		}
		http.SetCookie(w, csrfCookie(engine.Config(), token))
		WriteJSON(w, http.StatusOK, csrfTokenBody{Token: token})
	})
}
