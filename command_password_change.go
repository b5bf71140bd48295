package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ChangePassword replaces the password of accountID after checking the
// current one. Every token issued to the account is revoked, so the caller
// has to log in again.
func (a *Authenticator) ChangePassword(ctx context.Context, rc RequestContext, accountID uuid.UUID, msg ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password change")
	default:
		return a.changePassword(ctx, rc, accountID, msg)
	}
}

func (a *Authenticator) changePassword(ctx context.Context, rc RequestContext, accountID uuid.UUID, msg ChangePasswordMessage) error {
	if err := msg.Validate(); err != nil {
		return a.rejectMessage(msg, err)
	}

	account, err := a.accounts.FindByID(ctx, accountID)
	if err != nil {
		return internalError(err, "failed to load account for password change")
	}
	if account == nil {
		return ErrAccountNotFound
	}

	now := a.now()
	if a.lockout.IsLocked(account, now) {
		return newAccountLockedError(*account.LockedUntil, account.LockoutCount)
	}

	if !a.verifier.Verify(msg.CurrentPassword, account.PasswordHash) {
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionUpdate,
			ResourceID:   account.ID.String(),
			ErrorMessage: "invalid current password",
			Metadata:     map[string]any{"operation": "password_change"},
		})
		return ErrInvalidCredentials
	}

	if err := a.ensurePasswordNotReused(ctx, account, msg.NewPassword); err != nil {
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionUpdate,
			ResourceID:   account.ID.String(),
			ErrorMessage: err.Error(),
			Metadata:     map[string]any{"operation": "password_change"},
		})
		return err
	}

	hash, err := a.hasher.HashPassword(msg.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	verifiedHash, verifiedChangedAt := account.PasswordHash, account.PasswordChangedAt
	account, err = a.mutate(ctx, account, func(acc *Account) error {
		if acc.PasswordHash != verifiedHash || !sameInstant(acc.PasswordChangedAt, verifiedChangedAt) {
			return ErrInvalidCredentials
		}
		if a.lockout.IsLocked(acc, now) {
			return newAccountLockedError(*acc.LockedUntil, acc.LockoutCount)
		}
		acc.PasswordHash = hash
		acc.PasswordChangedAt = &now
		acc.UpdatedAt = &now
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
		Metadata:   map[string]any{"operation": "password_change"},
	})

	return nil
}

// ensurePasswordNotReused rejects the current password and, when a history
// is configured, the most recent PasswordHistoryDepth passwords.
func (a *Authenticator) ensurePasswordNotReused(ctx context.Context, account *Account, password string) error {
	if a.verifier.Verify(password, account.PasswordHash) {
		return ErrPasswordReused
	}

	if a.passwords == nil || a.cfg.PasswordHistoryDepth <= 0 {
		return nil
	}

	reused, err := a.passwords.IsReused(ctx, account.ID, password, a.cfg.PasswordHistoryDepth)
	if err != nil {
		return internalError(err, "failed to check password history")
	}
	if reused {
		return ErrPasswordReused
	}
	return nil
}

func (a *Authenticator) rememberPassword(ctx context.Context, account *Account, hash string) {
	if a.passwords == nil {
		return
	}
	if err := a.passwords.Remember(ctx, account.ID, hash); err != nil {
		a.logger.Warn("failed to record password history", "account_id", account.ID, "error", err)
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
