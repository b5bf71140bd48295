package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the account role
type UserRole string

const (
	// RoleGuest is a guest role (ie. view)
	RoleGuest UserRole = "guest"
	// RoleMember is a member (i.e. view, edit)
	RoleMember UserRole = "member"
	// RoleAdmin is an admin role (i.e. view, edit, create)
	RoleAdmin UserRole = "admin"
	// RoleOwner is an owner role (i.e. view, edit, create, delete)
	RoleOwner UserRole = "owner"
)

// Account is the authentication and security record of a user.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID                         uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	OrganizationID             *uuid.UUID `bun:"organization_id,type:uuid" json:"organization_id,omitempty"`
	Email                      string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash               string     `bun:"password_hash,notnull" json:"-"`
	Role                       UserRole   `bun:"user_role,notnull" json:"role"`
	FirstName                  string     `bun:"first_name" json:"first_name,omitempty"`
	LastName                   string     `bun:"last_name" json:"last_name,omitempty"`
	FailedLoginAttempts        int        `bun:"failed_login_attempts,notnull" json:"failed_login_attempts"`
	LockoutCount               int        `bun:"lockout_count,notnull" json:"lockout_count"`
	LockedUntil                *time.Time `bun:"locked_until" json:"locked_until,omitempty"`
	EmailVerified              bool       `bun:"is_email_verified,notnull" json:"email_verified"`
	EmailVerificationToken     *string    `bun:"email_verification_token" json:"-"`
	EmailVerificationExpiresAt *time.Time `bun:"email_verification_expires_at" json:"-"`
	PasswordResetToken         *string    `bun:"password_reset_token" json:"-"`
	PasswordResetExpiresAt     *time.Time `bun:"password_reset_expires_at" json:"-"`
	PasswordChangedAt          *time.Time `bun:"password_changed_at" json:"password_changed_at,omitempty"`
	LastLoginAt                *time.Time `bun:"last_login_at" json:"last_login_at,omitempty"`
	LastLoginIP                string     `bun:"last_login_ip" json:"last_login_ip,omitempty"`
	Active                     bool       `bun:"is_active,notnull" json:"active"`
	Version                    int64      `bun:"version,notnull" json:"-"`
	CreatedAt                  *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
	UpdatedAt                  *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// OrganizationIDString returns the organization id or an empty string.
func (a *Account) OrganizationIDString() string {
	if a == nil || a.OrganizationID == nil || *a.OrganizationID == uuid.Nil {
		return ""
	}
	return a.OrganizationID.String()
}

func (a *Account) recipient() NotificationRecipient {
	return NotificationRecipient{
		AccountID: a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
	}
}

// securitySnapshot is the audit view of the lockout fields.
func (a *Account) securitySnapshot() map[string]any {
	snap := map[string]any{
		"failed_login_attempts": a.FailedLoginAttempts,
		"lockout_count":         a.LockoutCount,
		"locked_until":          nil,
	}
	if a.LockedUntil != nil {
		snap["locked_until"] = a.LockedUntil.UTC()
	}
	return snap
}

// Organization is the tenant an account belongs to.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:org"`

	ID        uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Name      string     `bun:"name,notnull" json:"name"`
	CreatedAt *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
}

// LoginAttempt is a single observed login attempt.
type LoginAttempt struct {
	bun.BaseModel `bun:"table:login_attempts,alias:la"`

	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Email         string    `bun:"email,notnull" json:"email"`
	IPAddress     string    `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent     string    `bun:"user_agent" json:"user_agent,omitempty"`
	Success       bool      `bun:"success,notnull" json:"success"`
	FailureReason string    `bun:"failure_reason" json:"failure_reason,omitempty"`
	OccurredAt    time.Time `bun:"occurred_at,notnull" json:"occurred_at"`
}

// PasswordHistoryEntry is a previously used password hash.
type PasswordHistoryEntry struct {
	bun.BaseModel `bun:"table:password_history,alias:ph"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	AccountID    uuid.UUID `bun:"account_id,notnull,type:uuid"`
	PasswordHash string    `bun:"password_hash,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
