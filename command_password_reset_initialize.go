package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// RequestPasswordReset stores a reset token for email and sends it to the
// account owner. Unknown and inactive emails are accepted silently so the
// response does not reveal whether an account exists.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, rc RequestContext, email string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password reset request")
	default:
		return a.requestPasswordReset(ctx, rc, email)
	}
}

func (a *Authenticator) requestPasswordReset(ctx context.Context, rc RequestContext, email string) error {
	email = NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return validationError(err)
	}

	account, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		return internalError(err, "failed to load account for password reset")
	}

	if account == nil || !account.Active {
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionUpdate,
			ErrorMessage: "password reset for unknown or inactive account",
			Metadata:     map[string]any{"operation": "password_reset_request", "email": email},
		})
		return nil
	}

	now := a.now()
	rawToken, digest := newOpaqueToken()
	resetBy := now.Add(a.cfg.resetTTL())

	account, err = a.mutate(ctx, account, func(acc *Account) error {
		acc.PasswordResetToken = &digest
		acc.PasswordResetExpiresAt = &resetBy
		acc.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	recipient := account.recipient()
	a.notify(ctx, "password_reset", func(ctx context.Context, n Notifier) error {
		return n.SendPasswordResetEmail(ctx, recipient, rawToken)
	})

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionUpdate,
		ResourceID: account.ID.String(),
		Success:    true,
		Metadata: map[string]any{
			"operation":  "password_reset_request",
			"expires_at": resetBy.UTC(),
		},
	})

	return nil
}
