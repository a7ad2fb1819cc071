// Package kafkasink forwards security events to a Kafka topic for SIEM pipelines.
package kafkasink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/MrEthical07/teamguard/internal/audit"
)

const defaultWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink implements audit.Sink on a kafka-go writer. Messages are keyed by user id (or
// source IP) so one subject's events stay ordered within a partition.
type Sink struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Kafka sink. It returns nil when brokers or topic are empty.
func New(brokers []string, topic string, logger *zap.Logger) *Sink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return newWithWriter(writer, logger)
}

func newWithWriter(w messageWriter, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{writer: w, timeout: defaultWriteTimeout, logger: logger}
}

// Emit publishes one event. Failures are logged and dropped.
func (s *Sink) Emit(ctx context.Context, event audit.Event) {
	if s == nil || s.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("kafka audit encode failed", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	key := event.UserID
	if key == "" {
		key = event.IP
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
	})
	if err != nil {
		s.logger.Warn("kafka audit emit failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

// Close closes the Kafka writer. Safe on a nil sink.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
