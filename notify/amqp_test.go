package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-guard"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

type MockDeclarer struct {
	mock.Mock
}

func (m *MockDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return amqp.Queue{Name: name}, ret.Error(0)
}

func TestAMQPNotifierRoutesByKind(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	to := auth.NotificationRecipient{AccountID: uuid.New(), Email: "user@example.com", FirstName: "Ada"}

	tests := []struct {
		name  string
		key   string
		kind  string
		token string
		send  func(n *AMQPNotifier) error
	}{
		{
			name:  "verification",
			key:   QueueVerificationEmail,
			kind:  KindVerification,
			token: "verify-token",
			send: func(n *AMQPNotifier) error {
				return n.SendVerificationEmail(context.Background(), to, "verify-token")
			},
		},
		{
			name: "welcome",
			key:  QueueWelcomeEmail,
			kind: KindWelcome,
			send: func(n *AMQPNotifier) error {
				return n.SendWelcomeEmail(context.Background(), to)
			},
		},
		{
			name:  "password reset",
			key:   QueuePasswordResetEmail,
			kind:  KindPasswordReset,
			token: "reset-token",
			send: func(n *AMQPNotifier) error {
				return n.SendPasswordResetEmail(context.Background(), to, "reset-token")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := new(MockPublisher)
			var published amqp.Publishing
			pub.On("PublishWithContext", mock.Anything, "", tt.key, false, false, mock.Anything).
				Run(func(args mock.Arguments) {
					published = args.Get(5).(amqp.Publishing)
				}).
				Return(nil).Once()

			n := NewAMQPNotifier(pub, WithClock(func() time.Time { return now }))
			require.NoError(t, tt.send(n))
			pub.AssertExpectations(t)

			assert.Equal(t, "application/json", published.ContentType)
			assert.Equal(t, amqp.Persistent, published.DeliveryMode)

			var msg EmailMessage
			require.NoError(t, json.Unmarshal(published.Body, &msg))
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, to.AccountID.String(), msg.AccountID)
			assert.Equal(t, "user@example.com", msg.Email)
			assert.Equal(t, tt.token, msg.Token)
			assert.True(t, msg.QueuedAt.Equal(now))
		})
	}
}

func TestAMQPNotifierPublishError(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishWithContext", mock.Anything, "mail", QueueWelcomeEmail, false, false, mock.Anything).
		Return(errors.New("channel closed"))

	n := NewAMQPNotifier(pub, WithExchange("mail"))
	err := n.SendWelcomeEmail(context.Background(), auth.NotificationRecipient{Email: "a@b.co"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish message")
}

func TestDeclareQueues(t *testing.T) {
	ch := new(MockDeclarer)
	for _, q := range []string{QueueVerificationEmail, QueueWelcomeEmail, QueuePasswordResetEmail, QueueAuditActivity} {
		ch.On("QueueDeclare", q, true, false, false, false, amqp.Table(nil)).Return(nil).Once()
	}

	require.NoError(t, DeclareQueues(ch))
	ch.AssertExpectations(t)
}

func TestAuditPublisherNormalizesEntries(t *testing.T) {
	pub := new(MockPublisher)
	var bodies [][]byte
	pub.On("PublishWithContext", mock.Anything, "", QueueAuditActivity, false, false, mock.Anything).
		Run(func(args mock.Arguments) {
			bodies = append(bodies, args.Get(5).(amqp.Publishing).Body)
		}).
		Return(nil)

	sink := NewAuditPublisher(pub)
	err := sink.RecordBatch(context.Background(), []auth.AuditEntry{
		{Action: auth.AuditActionLogin, ResourceID: "user-1", Success: true},
		{Action: auth.AuditActionLogout, ResourceID: "user-1", Success: true},
	})
	require.NoError(t, err)
	require.Len(t, bodies, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &first))
	assert.Equal(t, "auth.login.success", first["verb"])
	assert.Equal(t, "user-1", first["object_id"])
}
