package teamguard

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// SweepReport counts what one sweep reclaimed.
type SweepReport struct {
	InactiveSessions    int
	StaleSessionIndexes int
	RateWindows         int
	ResetIndexEntries   int
	AuditEvents         int
}

// Sweep runs every cleanup once: idle sessions and stale session indexes, empty rate
// windows, expired reset index entries and audit events past retention. A failing
// step does not stop the others; their errors are joined.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	if err := e.ready(); err != nil {
		return SweepReport{}, err
	}
	var (
		report SweepReport
		errs   []error
	)
	now := e.now()

	sctx, cancel := e.storeContext(ctx)
	stats, err := e.sessionStore.Sweep(sctx, now, e.config.Session.IdleTimeout)
	cancel()
	report.InactiveSessions, report.StaleSessionIndexes = stats.Inactive, stats.StaleIndexes
	if err != nil {
		errs = append(errs, e.storeFailure("sessions.sweep", err))
	}

	sctx, cancel = e.storeContext(ctx)
	report.RateWindows, err = e.rateLimiter.Sweep(sctx)
	cancel()
	if err != nil {
		errs = append(errs, e.storeFailure("rate.sweep", err))
	}

	sctx, cancel = e.storeContext(ctx)
	report.ResetIndexEntries, err = e.resetStore.Sweep(sctx, now)
	cancel()
	if err != nil {
		errs = append(errs, e.storeFailure("reset.sweep", err))
	}
	if report.AuditEvents, err = e.PruneEvents(ctx); err != nil {
		errs = append(errs, err)
	}

	return report, errors.Join(errs...)
}

// RunSweeper calls [Engine.Sweep] every Sweep.Interval until ctx ends. A zero interval
// returns immediately.
func (e *Engine) RunSweeper(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	interval := e.config.Sweep.Interval
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := e.Sweep(ctx)
			if err != nil {
				e.metricInc(MetricStoreFailure)
				e.logger.Error("sweep failed", zap.Error(err))
			}
			e.logger.Debug("sweep completed",
				zap.Int("inactive_sessions", report.InactiveSessions),
				zap.Int("stale_session_indexes", report.StaleSessionIndexes),
				zap.Int("rate_windows", report.RateWindows),
				zap.Int("reset_index_entries", report.ResetIndexEntries),
				zap.Int("audit_events", report.AuditEvents),
			)
		}
	}
}
