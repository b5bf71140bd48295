// Package notify publishes account emails and audit activity to RabbitMQ.
// A mail worker consumes the email queues; this package only enqueues.
package notify

import (
	"context"
	"encoding/json"
	"time"

	auth "github.com/goliatone/go-auth-guard"
	goerrors "github.com/goliatone/go-errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	QueueVerificationEmail  = "auth.email.verification"
	QueueWelcomeEmail       = "auth.email.welcome"
	QueuePasswordResetEmail = "auth.email.password_reset"
	QueueAuditActivity      = "auth.audit"
)

// Email kinds carried in EmailMessage.Kind.
const (
	KindVerification  = "verification"
	KindWelcome       = "welcome"
	KindPasswordReset = "password_reset"
)

// Publisher is the subset of *amqp.Channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueDeclarer is the subset of *amqp.Channel used to declare queues.
type QueueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// EmailMessage is the JSON body published for every email.
type EmailMessage struct {
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Token     string    `json:"token,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Option configures an AMQPNotifier.
type Option func(*AMQPNotifier)

// WithExchange publishes to exchange instead of the default exchange.
func WithExchange(exchange string) Option {
	return func(n *AMQPNotifier) {
		n.exchange = exchange
	}
}

// WithLogger sets the logger.
func WithLogger(logger auth.Logger) Option {
	return func(n *AMQPNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithClock sets the clock used for QueuedAt.
func WithClock(clock func() time.Time) Option {
	return func(n *AMQPNotifier) {
		if clock != nil {
			n.now = clock
		}
	}
}

// AMQPNotifier implements auth.Notifier by publishing persistent JSON
// messages routed by email kind.
type AMQPNotifier struct {
	pub      Publisher
	exchange string
	logger   auth.Logger
	now      func() time.Time
}

var _ auth.Notifier = (*AMQPNotifier)(nil)

// NewAMQPNotifier returns a notifier publishing through pub.
func NewAMQPNotifier(pub Publisher, opts ...Option) *AMQPNotifier {
	n := &AMQPNotifier{
		pub:    pub,
		logger: nopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

func (n *AMQPNotifier) SendVerificationEmail(ctx context.Context, to auth.NotificationRecipient, token string) error {
	return n.publish(ctx, QueueVerificationEmail, n.message(KindVerification, to, token))
}

func (n *AMQPNotifier) SendWelcomeEmail(ctx context.Context, to auth.NotificationRecipient) error {
	return n.publish(ctx, QueueWelcomeEmail, n.message(KindWelcome, to, ""))
}

func (n *AMQPNotifier) SendPasswordResetEmail(ctx context.Context, to auth.NotificationRecipient, token string) error {
	return n.publish(ctx, QueuePasswordResetEmail, n.message(KindPasswordReset, to, token))
}

func (n *AMQPNotifier) message(kind string, to auth.NotificationRecipient, token string) EmailMessage {
	return EmailMessage{
		Kind:      kind,
		AccountID: to.AccountID.String(),
		Email:     to.Email,
		FirstName: to.FirstName,
		LastName:  to.LastName,
		Token:     token,
		QueuedAt:  n.now().UTC(),
	}
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, body any) error {
	return publishJSON(ctx, n.pub, n.exchange, key, body, n.now())
}

func publishJSON(ctx context.Context, pub Publisher, exchange, key string, body any, now time.Time) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode message")
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now.UTC(),
		Body:         payload,
	}

	if err := pub.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to publish message").
			WithMetadata(map[string]any{"routing_key": key})
	}
	return nil
}

// DeclareQueues declares every durable queue this package publishes to.
func DeclareQueues(ch QueueDeclarer) error {
	for _, name := range []string{
		QueueVerificationEmail,
		QueueWelcomeEmail,
		QueuePasswordResetEmail,
		QueueAuditActivity,
	} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to declare queue").
				WithMetadata(map[string]any{"queue": name})
		}
	}
	return nil
}

// Dial connects to url, opens a channel and declares the queues. Close
// the connection to release both.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to dial broker")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open channel")
	}

	if err := DeclareQueues(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	return conn, ch, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
