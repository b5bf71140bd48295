package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging contract used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PasswordHasher is the opaque hashing capability. Implementations must
// compare in constant time.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// AccountFinder loads accounts by primary key.
type AccountFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
}

// AccountStore is the durable account store. Lookups return (nil, nil)
// when no record matches. Save must serialize writes per account id.
type AccountStore interface {
	AccountFinder
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByVerificationToken(ctx context.Context, tokenHash string) (*Account, error)
	FindByPasswordResetToken(ctx context.Context, tokenHash string) (*Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	Save(ctx context.Context, account *Account) (*Account, error)
}

// RevocationStore tracks revoked token ids and per-subject revocation
// cut-offs.
type RevocationStore interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	// Consume revokes tokenID and reports whether this call did so. It
	// returns false when tokenID was already revoked.
	Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	RevokeAllForSubject(ctx context.Context, subject string, at time.Time) error
	RevokedSince(ctx context.Context, subject string) (time.Time, bool, error)
}

// LoginHistory returns recent login attempts for an email and, optionally,
// an IP address. Implementations bound the result to a recency window.
type LoginHistory interface {
	RecentAttempts(ctx context.Context, email, ipAddress string) ([]LoginAttempt, error)
}

// LoginAttemptRecorder persists login attempts so LoginHistory has data.
type LoginAttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt LoginAttempt) error
}

// NotificationRecipient is the data handed to a Notifier.
type NotificationRecipient struct {
	AccountID uuid.UUID
	Email     string
	FirstName string
	LastName  string
}

// Notifier dispatches account emails.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to NotificationRecipient, token string) error
	SendWelcomeEmail(ctx context.Context, to NotificationRecipient) error
	SendPasswordResetEmail(ctx context.Context, to NotificationRecipient, token string) error
}

// PasswordHistory checks and records previous password hashes.
type PasswordHistory interface {
	IsReused(ctx context.Context, accountID uuid.UUID, password string, depth int) (bool, error)
	Remember(ctx context.Context, accountID uuid.UUID, passwordHash string) error
}

// OrganizationCreator creates the organization an account registers into.
type OrganizationCreator interface {
	CreateOrganization(ctx context.Context, name string) (*Organization, error)
}

type noopNotifier struct{}

func (noopNotifier) SendVerificationEmail(context.Context, NotificationRecipient, string) error {
	return nil
}

func (noopNotifier) SendWelcomeEmail(context.Context, NotificationRecipient) error {
	return nil
}

func (noopNotifier) SendPasswordResetEmail(context.Context, NotificationRecipient, string) error {
	return nil
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] AUTH " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] AUTH " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] AUTH " + format(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] AUTH " + format(msg, args...))
}

func format(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
