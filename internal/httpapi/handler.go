// Package httpapi is the JSON surface of the teamguard service: login, logout,
// password reset, the caller's own sessions and the admin audit views.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/teamguard"
	"github.com/MrEthical07/teamguard/internal/logging"
	"github.com/MrEthical07/teamguard/middleware"
)

// ResetNotifier delivers a freshly issued reset token to the account owner.
type ResetNotifier interface {
	DeliverPasswordReset(ctx context.Context, email, token string) error
}

// Handler serves the API. Build one with [New] and mount [Handler.Routes].
type Handler struct {
	engine   *teamguard.Engine
	notifier ResetNotifier
	logger   *zap.Logger
	metrics  *HTTPMetrics
}

func New(engine *teamguard.Engine, notifier ResetNotifier, metrics *HTTPMetrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, notifier: notifier, metrics: metrics, logger: logger}
}

var errBadRequest = errors.New("malformed request body")

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return errBadRequest
	}
	return nil
}

type messageBody struct {
	Message string `json:"message"`
}

func badRequest(w http.ResponseWriter) {
	middleware.WriteJSON(w, http.StatusBadRequest, struct {
		Error string `json:"error"`
	}{Error: errBadRequest.Error()})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login verifies credentials and starts a cookie session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil || req.Identifier == "" || req.Password == "" {
		badRequest(w)
		return
	}
	info := teamguard.RequestInfoFromContext(r.Context())
	res, err := h.engine.Login(r.Context(), req.Identifier, req.Password, info)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.StartSession(w, h.engine.Config(), res.Session)
	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		UserID:    res.UserID,
		Role:      res.Role,
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// Logout ends the presented session. It succeeds without a session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := middleware.EndSession(r.Context(), w, r, h.engine); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Email string `json:"email"`
}

// resetAccepted is the body of every non-infrastructure outcome, so the response does
// not reveal whether the address has an account.
const resetAccepted = "if the address belongs to an account, a reset link has been sent"

// RequestPasswordReset issues a reset token and hands it to the notifier.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req); err != nil || req.Email == "" {
		badRequest(w)
		return
	}
	info := teamguard.RequestInfoFromContext(r.Context())
	token, err := h.engine.RequestPasswordReset(r.Context(), req.Email, info)
	switch {
	case errors.Is(err, teamguard.ErrPasswordResetRequestFailed):
		middleware.WriteJSON(w, http.StatusAccepted, messageBody{Message: resetAccepted})
		return
	case err != nil:
		middleware.WriteError(w, err)
		return
	}

	if h.notifier != nil {
		if err := h.notifier.DeliverPasswordReset(r.Context(), req.Email, token); err != nil {
			h.logger.Error("password reset delivery failed", zap.String("email", logging.MaskEmail(req.Email)), zap.Error(err))
		}
	}
	middleware.WriteJSON(w, http.StatusAccepted, messageBody{Message: resetAccepted})
}

type resetCompleteRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// CompletePasswordReset consumes a reset token and sets the new password.
func (h *Handler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetCompleteRequest
	if err := decode(r, &req); err != nil || req.Token == "" {
		badRequest(w)
		return
	}
	info := teamguard.RequestInfoFromContext(r.Context())
	if err := h.engine.CompletePasswordReset(r.Context(), req.Token, req.NewPassword, info); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.ClearSession(w, h.engine.Config())
	w.WriteHeader(http.StatusNoContent)
}
