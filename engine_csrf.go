package teamguard

import (
	"context"
	"crypto/subtle"

	"github.com/MrEthical07/teamguard/internal"
)

// NewCSRFToken returns a random double-submit token. The adapter stores it in the
// CSRF cookie and the client echoes it in the CSRF header.
func (e *Engine) NewCSRFToken() (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return internal.NewToken(e.random, internal.CSRFTokenSize)
}

// VerifyCSRF compares the cookie and header values of a state-changing request in
// constant time. Rejections are audited as ACCESS_DENIED.
func (e *Engine) VerifyCSRF(ctx context.Context, cookieValue, headerValue string, req RequestInfo) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.CSRF.Enabled {
		return nil
	}

	var err error
	switch {
	case cookieValue == "" || headerValue == "":
		err = ErrCSRFMissing
	case !internal.WellFormedToken(cookieValue, internal.CSRFTokenSize),
		subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) != 1:
		err = ErrCSRFMismatch
	default:
		return nil
	}

	e.metricInc(MetricCSRFRejected)
	reason := "csrf_mismatch"
	if err == ErrCSRFMissing {
		reason = "csrf_missing"
	}
	e.AccessDenied(ctx, "", req, reason, err)
	return err
}
