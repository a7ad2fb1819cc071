package audit

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// FallbackSink appends events to a primary [Store]. When the store rejects an event it
// is written to the fallback writer instead and a warning is logged. Emit never fails.
type FallbackSink struct {
	primary  Store
	fallback *JSONWriterSink
	logger   *zap.Logger
	fellBack atomic.Uint64
}

func NewFallbackSink(primary Store, fallback *JSONWriterSink, logger *zap.Logger) *FallbackSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackSink{primary: primary, fallback: fallback, logger: logger}
}

func (s *FallbackSink) Emit(ctx context.Context, event Event) {
	if s.primary != nil {
		err := s.primary.Append(ctx, event)
		if err == nil {
			return
		}
		s.logger.Warn("audit store append failed, using fallback",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}

	s.fellBack.Add(1)
	if err := s.fallback.Write(event); err != nil {
		s.logger.Error("audit fallback write failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

// FellBack returns how many events bypassed the primary store.
func (s *FallbackSink) FellBack() uint64 {
	return s.fellBack.Load()
}
