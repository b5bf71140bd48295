package auth

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// VerifyEmail marks the account owning token as verified and sends the
// welcome email.
func (a *Authenticator) VerifyEmail(ctx context.Context, rc RequestContext, token string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email verification")
	default:
		return a.verifyEmail(ctx, rc, token)
	}
}

func (a *Authenticator) verifyEmail(ctx context.Context, rc RequestContext, token string) error {
	if token == "" {
		return ErrVerificationTokenInvalid
	}

	digest := HashOpaqueToken(token)
	account, err := a.accounts.FindByVerificationToken(ctx, digest)
	if err != nil {
		return internalError(err, "failed to load account for email verification")
	}

	now := a.now()
	if account == nil || !verificationTokenValid(account, digest, now) {
		entry := AuditEntry{
			Action:       AuditActionUpdate,
			ErrorMessage: "invalid verification token",
			Metadata:     map[string]any{"operation": "verify_email"},
		}
		if account != nil {
			entry.ResourceID = account.ID.String()
			entry.ErrorMessage = "expired verification token"
		}
		a.emitAudit(ctx, rc, entry)
		return ErrVerificationTokenInvalid
	}

	account, err = a.mutate(ctx, account, func(acc *Account) error {
		if !verificationTokenValid(acc, digest, now) {
			return ErrVerificationTokenInvalid
		}
		acc.EmailVerified = true
		acc.EmailVerificationToken = nil
		acc.EmailVerificationExpiresAt = nil
		acc.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	recipient := account.recipient()
	a.notify(ctx, "welcome", func(ctx context.Context, n Notifier) error {
		return n.SendWelcomeEmail(ctx, recipient)
	})

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionUpdate,
		ResourceID: account.ID.String(),
		Success:    true,
		OldValues:  map[string]any{"email_verified": false},
		NewValues:  map[string]any{"email_verified": true},
		Metadata:   map[string]any{"operation": "verify_email"},
	})

	return nil
}

var errVerificationSkipped = errors.New("account already verified")

// ResendVerification issues a fresh verification token for an unverified
// account. Unknown, inactive and already verified emails are accepted
// silently.
func (a *Authenticator) ResendVerification(ctx context.Context, rc RequestContext, email string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during verification resend")
	default:
	}

	email = NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return validationError(err)
	}

	account, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		return internalError(err, "failed to load account for verification resend")
	}
	if account == nil || account.EmailVerified || !account.Active {
		a.logger.Debug("verification resend skipped", "email", email)
		return nil
	}

	now := a.now()
	rawToken, digest := newOpaqueToken()
	verifyBy := now.Add(a.cfg.verificationTTL())

	account, err = a.mutate(ctx, account, func(acc *Account) error {
		if acc.EmailVerified {
			return errVerificationSkipped
		}
		acc.EmailVerificationToken = &digest
		acc.EmailVerificationExpiresAt = &verifyBy
		acc.UpdatedAt = &now
		return nil
	})
	if errors.Is(err, errVerificationSkipped) {
		a.logger.Debug("verification resend skipped, account verified concurrently", "email", email)
		return nil
	}
	if err != nil {
		return err
	}

	recipient := account.recipient()
	a.notify(ctx, "verification", func(ctx context.Context, n Notifier) error {
		return n.SendVerificationEmail(ctx, recipient, rawToken)
	})

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionUpdate,
		ResourceID: account.ID.String(),
		Success:    true,
		Metadata:   map[string]any{"operation": "resend_verification"},
	})

	return nil
}

func verificationTokenValid(account *Account, digest string, now time.Time) bool {
	if account.EmailVerificationToken == nil || *account.EmailVerificationToken != digest {
		return false
	}
	return account.EmailVerificationExpiresAt != nil && now.Before(*account.EmailVerificationExpiresAt)
}
