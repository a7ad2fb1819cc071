// Package notify hands password reset tokens to whatever delivers them to the user.
// The engine never sends mail itself; the service publishes a message that a mail
// worker consumes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/MrEthical07/teamguard/internal/logging"
)

// ResetMessage is the payload published for one reset request.
type ResetMessage struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes reset messages keyed by email.
type KafkaNotifier struct {
	writer  messageWriter
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewKafkaNotifier returns a notifier writing to topic. ttl is the token lifetime
// reported to the consumer.
func NewKafkaNotifier(brokers []string, topic string, ttl time.Duration) (*KafkaNotifier, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaNotifier(writer, ttl), nil
}

func newKafkaNotifier(w messageWriter, ttl time.Duration) *KafkaNotifier {
	return &KafkaNotifier{writer: w, ttl: ttl, timeout: 5 * time.Second, now: time.Now}
}

// DeliverPasswordReset publishes one message. Unlike audit fan-out this is not best
// effort: a failed publish is returned so the caller can report it.
func (n *KafkaNotifier) DeliverPasswordReset(ctx context.Context, email, token string) error {
	now := n.now().UTC()
	payload, err := json.Marshal(ResetMessage{Email: email, Token: token, ExpiresAt: now.Add(n.ttl)})
	if err != nil {
		return fmt.Errorf("encode reset message: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.writer.WriteMessages(wctx, kafka.Message{Key: []byte(email), Value: payload, Time: now}); err != nil {
		return fmt.Errorf("publish reset message: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier writes the reset link to the logger. Development only.
type LogNotifier struct {
	Logger  *zap.Logger
	BaseURL string
}

func (n LogNotifier) DeliverPasswordReset(_ context.Context, email, token string) error {
	n.Logger.Info("password reset issued",
		zap.String("email", logging.MaskEmail(email)),
		zap.String("link", n.BaseURL+"/reset?token="+token),
	)
	return nil
}
