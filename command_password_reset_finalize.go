package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ResetPassword sets a new password using a reset token. The token is
// consumed, any lock is cleared and every outstanding token for the account
// is revoked.
func (a *Authenticator) ResetPassword(ctx context.Context, rc RequestContext, msg FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return a.resetPassword(ctx, rc, msg)
	}
}

func (a *Authenticator) resetPassword(ctx context.Context, rc RequestContext, msg FinalizePasswordResetMessage) error {
	if err := msg.Validate(); err != nil {
		return a.rejectMessage(msg, err)
	}

	digest := HashOpaqueToken(msg.Token)
	account, err := a.accounts.FindByPasswordResetToken(ctx, digest)
	if err != nil {
		return internalError(err, "could not retrieve password reset request")
	}

	now := a.now()
	if account == nil || !resetTokenValid(account, digest, now) {
		entry := AuditEntry{
			Action:       AuditActionUpdate,
			ErrorMessage: "invalid password reset token",
			Metadata:     map[string]any{"operation": "password_reset"},
		}
		if account != nil {
			entry.ResourceID = account.ID.String()
			entry.ErrorMessage = "expired password reset token"
		}
		a.emitAudit(ctx, rc, entry)
		return ErrResetTokenInvalid
	}

	if err := a.ensurePasswordNotReused(ctx, account, msg.NewPassword); err != nil {
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionUpdate,
			ResourceID:   account.ID.String(),
			ErrorMessage: err.Error(),
			Metadata:     map[string]any{"operation": "password_reset"},
		})
		return err
	}

	hash, err := a.hasher.HashPassword(msg.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	before := account.securitySnapshot()
	var priorFailures int
	account, err = a.mutate(ctx, account, func(acc *Account) error {
		if !resetTokenValid(acc, digest, now) {
			return ErrResetTokenInvalid
		}
		acc.PasswordHash = hash
		acc.PasswordChangedAt = &now
		acc.PasswordResetToken = nil
		acc.PasswordResetExpiresAt = nil
		acc.UpdatedAt = &now
		priorFailures = a.lockout.ManualUnlock(acc)
		return nil
	})
	if err != nil {
		return err
	}

	a.rememberPassword(ctx, account, hash)

	if err := a.tokens.RevokeAll(ctx, account.ID.String()); err != nil {
		return err
	}

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionUpdate,
		ResourceID: account.ID.String(),
		Success:    true,
		OldValues:  before,
		NewValues:  account.securitySnapshot(),
		Metadata: map[string]any{
			"operation":             "password_reset",
			"prior_failed_attempts": priorFailures,
		},
	})

	return nil
}

// resetTokenValid reports whether account still holds the reset token
// digest and it has not expired.
func resetTokenValid(account *Account, digest string, now time.Time) bool {
	if account.PasswordResetToken == nil || *account.PasswordResetToken != digest {
		return false
	}
	return account.PasswordResetExpiresAt != nil && now.Before(*account.PasswordResetExpiresAt)
}
