package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"taskhub/server/collab/domain"
	commonlog "taskhub/server/common/log"
)

// EmailSender enqueues an outbound email. Rendering and SMTP delivery belong
// to the mailer consuming the queue, so a successful Send means "queued",
// not "delivered".
type EmailSender interface {
	Send(ctx context.Context, recipientEmail, templateKind string, data map[string]any) error
}

type PushSender interface {
	Send(ctx context.Context, userID string, n domain.Notification) error
}

const emailExchange = "notify.email"

type emailMessage struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
	QueuedAt time.Time      `json:"queued_at"`
}

type AMQPEmailSender struct {
	mu      sync.Mutex
	channel *amqp.Channel
}

func NewAMQPEmailSender(conn *amqp.Connection) (*AMQPEmailSender, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(emailExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &AMQPEmailSender{channel: ch}, nil
}

func (s *AMQPEmailSender) Send(ctx context.Context, recipientEmail, templateKind string, data map[string]any) error {
	body, err := json.Marshal(emailMessage{
		To:       recipientEmail,
		Template: templateKind,
		Data:     data,
		QueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishes.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel.PublishWithContext(ctx, emailExchange, "email."+templateKind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

func (s *AMQPEmailSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.channel.Close()
}

// LogEmailSender is the fallback when no broker is configured (dev, tests):
// the email is logged and dropped.
type LogEmailSender struct{}

func (LogEmailSender) Send(_ context.Context, recipientEmail, templateKind string, _ map[string]any) error {
	commonlog.Infof("event=email action=send status=logged_only to=%s template=%s", recipientEmail, templateKind)
	return nil
}

// StubPushSender stands in until a real push transport is integrated; it
// reports success so the preference gating stays exercised.
type StubPushSender struct{}

func (StubPushSender) Send(_ context.Context, userID string, n domain.Notification) error {
	commonlog.Debugf("event=push action=send status=stubbed user_id=%s notification_id=%s kind=%s", userID, n.ID, n.Kind)
	return nil
}
