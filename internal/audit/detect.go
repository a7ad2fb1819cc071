package audit

import (
	"context"
	"time"
)

// Event types read by the detectors. The engine owns the full catalogue.
const (
	TypeAuthFailure  = "AUTH_FAILURE"
	TypeLoginFailure = "LOGIN_FAILURE"
	TypeAccessDenied = "ACCESS_DENIED"
)

// Detection is the result of a read-only analytic over the event log.
type Detection struct {
	Count     int
	Threshold int
	Flagged   bool
}

// DetectSuspiciousAuth counts authentication failures in [now-window, now] whose user id,
// login identifier or source IP equals identity.
func DetectSuspiciousAuth(ctx context.Context, store Store, identity string, now time.Time, window time.Duration, threshold int) (Detection, error) {
	types := []string{TypeAuthFailure, TypeLoginFailure}
	since := now.Add(-window)

	bySubject, err := store.Query(ctx, Filter{Subject: identity, Types: types, Since: since, Until: now})
	if err != nil {
		return Detection{}, err
	}
	byIP, err := store.Query(ctx, Filter{IP: identity, Types: types, Since: since, Until: now})
	if err != nil {
		return Detection{}, err
	}

	seen := make(map[string]struct{}, len(bySubject)+len(byIP))
	for _, list := range [][]Event{bySubject, byIP} {
		for _, e := range list {
			seen[e.ID] = struct{}{}
		}
	}
	return detection(len(seen), threshold), nil
}

// DetectReconnaissance counts ACCESS_DENIED events from ip in [now-window, now].
func DetectReconnaissance(ctx context.Context, store Store, ip string, now time.Time, window time.Duration, threshold int) (Detection, error) {
	events, err := store.Query(ctx, Filter{
		IP:    ip,
		Types: []string{TypeAccessDenied},
		Since: now.Add(-window),
		Until: now,
	})
	if err != nil {
		return Detection{}, err
	}
	return detection(len(events), threshold), nil
}

func detection(count, threshold int) Detection {
	return Detection{
		Count:     count,
		Threshold: threshold,
		Flagged:   threshold > 0 && count >= threshold,
	}
}
