package middleware

import (
	"net/http"

	"github.com/MrEthical07/teamguard"
)

// RequireRole admits identities holding one of roles. It must run after [Protect].
func RequireRole(engine *teamguard.Engine, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if engine == nil {
			return unavailable()
		}
		cfg := engine.Config()
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := teamguard.IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, teamguard.ErrUnauthenticated)
				return
			}
			if err := engine.Authorize(r.Context(), id, infoFor(r, cfg), roles...); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
