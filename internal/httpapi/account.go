package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/teamguard"
	"github.com/MrEthical07/teamguard/middleware"
)

type meResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	Method string `json:"method"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := teamguard.IdentityFromContext(r.Context())
	middleware.WriteJSON(w, http.StatusOK, meResponse{UserID: id.UserID, Role: id.Role, Method: string(id.Method)})
}

type sessionView struct {
	ID           string    `json:"id"`
	SourceIP     string    `json:"source_ip"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Current      bool      `json:"current"`
}

// Sessions lists the caller's live sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, _ := teamguard.IdentityFromContext(r.Context())
	info := teamguard.RequestInfoFromContext(r.Context())
	list, err := h.engine.ActiveSessions(r.Context(), id.UserID, info.SessionToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:           s.ID,
			SourceIP:     s.SourceIP,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.Current,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

type revokedResponse struct {
	Revoked int `json:"revoked"`
}

// RevokeOtherSessions signs the caller out everywhere except this session.
func (h *Handler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := teamguard.IdentityFromContext(r.Context())
	info := teamguard.RequestInfoFromContext(r.Context())
	n, err := h.engine.InvalidateAllSessions(r.Context(), id.UserID, info.SessionToken, info)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}
