package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/teamguard"
	"github.com/MrEthical07/teamguard/middleware"
)

const maxAuditLimit = 500

// AuditEvents answers GET /api/admin/audit?user=&ip=&type=&since=&until=&limit=.
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := teamguard.AuditFilter{
		Subject: q.Get("user"),
		IP:      q.Get("ip"),
		Types:   q["type"],
		Limit:   100,
	}
	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(w)
				return
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w)
			return
		}
		filter.Limit = min(n, maxAuditLimit)
	}

	events, err := h.engine.QueryEvents(r.Context(), filter)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if events == nil {
		events = []teamguard.AuditEvent{}
	}
	middleware.WriteJSON(w, http.StatusOK, events)
}

type lockoutView struct {
	FailedAttempts int       `json:"failed_attempts"`
	Locked         bool      `json:"locked"`
	LockedUntil    time.Time `json:"locked_until,omitempty"`
	Lockouts       int       `json:"lockouts"`
}

func viewLockout(s teamguard.LockoutStatus) lockoutView {
	return lockoutView{FailedAttempts: s.FailedAttempts, Locked: s.Locked, LockedUntil: s.LockedUntil, Lockouts: s.Lockouts}
}

// Lockout answers GET /api/admin/lockout?identifier= or ?ip=.
func (h *Handler) Lockout(w http.ResponseWriter, r *http.Request) {
	var (
		status teamguard.LockoutStatus
		err    error
	)
	switch q := r.URL.Query(); {
	case q.Get("identifier") != "":
		status, err = h.engine.AccountLockoutStatus(r.Context(), q.Get("identifier"))
	case q.Get("ip") != "":
		status, err = h.engine.IPLockoutStatus(r.Context(), q.Get("ip"))
	default:
		badRequest(w)
		return
	}
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, viewLockout(status))
}

// LockUser applies the administrative lock and revokes the user's sessions.
func (h *Handler) LockUser(w http.ResponseWriter, r *http.Request) {
	info := teamguard.RequestInfoFromContext(r.Context())
	if err := h.engine.LockAccount(r.Context(), chi.URLParam(r, "userID"), info); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnlockUser clears the administrative lock and the failed-attempt trackers.
func (h *Handler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	info := teamguard.RequestInfoFromContext(r.Context())
	if err := h.engine.UnlockAccount(r.Context(), chi.URLParam(r, "userID"), info); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status         string `json:"status"`
	RedisLatencyMS int64  `json:"redis_latency_ms"`
	AuditDelivered uint64 `json:"audit_delivered"`
	AuditPending   int    `json:"audit_pending"`
	AuditDropped   uint64 `json:"audit_dropped"`
	AuditFallbacks uint64 `json:"audit_fallbacks"`
}

// Health reports 503 while the security store is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	hs := h.engine.Health(r.Context())
	body := healthResponse{
		Status:         "ok",
		RedisLatencyMS: hs.RedisLatency.Milliseconds(),
		AuditDelivered: hs.AuditDelivered,
		AuditPending:   hs.AuditPending,
		AuditDropped:   hs.AuditDropped,
		AuditFallbacks: hs.AuditFallbacks,
	}
	status := http.StatusOK
	if !hs.RedisAvailable {
		body.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, status, body)
}
