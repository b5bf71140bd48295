package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// maxSaveAttempts bounds the reload-and-retry loop on optimistic lock conflicts.
const maxSaveAttempts = 3

// dummyPassword is hashed once and compared against when the account does
// not exist, so unknown emails cost the same as wrong passwords.
const dummyPassword = "authguard-timing-equalizer"

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Tokens    *TokenPair `json:"tokens"`
	Principal *Principal `json:"principal"`
	Verdict   Verdict    `json:"verdict"`
}

// Authenticator orchestrates registration, login, token and password flows.
// Each call performs a single load, mutate and save cycle against the
// AccountStore; the store is expected to serialize writes per account.
type Authenticator struct {
	cfg              Config
	accounts         AccountStore
	tokens           *TokenManager
	hasher           PasswordHasher
	verifier         *CredentialVerifier
	lockout          LockoutPolicy
	detector         *Detector
	attempts         LoginAttemptRecorder
	passwords        PasswordHistory
	organizations    OrganizationCreator
	txManager        TransactionManager
	notifier         Notifier
	audit            *AuditRecorder
	effects          *sideEffects
	logger           Logger
	now              func() time.Time
	deterministicIDs bool

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator validates cfg and wires an Authenticator over accounts
// and revocations with a bcrypt hasher, the default rule set and no-op
// audit and notification sinks.
func NewAuthenticator(accounts AccountStore, revocations RevocationStore, cfg Config) (*Authenticator, error) {
	if accounts == nil {
		return nil, goerrors.New("account store is required", goerrors.CategoryBadInput)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lockout := cfg.LockoutPolicy()
	logger := Logger(defLogger{})

	tokens, err := NewTokenManager(cfg.TokenConfig(), accounts, revocations,
		WithTokenLockoutPolicy(lockout),
		WithTokenLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	hasher := NewBcryptHasher(cfg.BcryptCost)

	return &Authenticator{
		cfg:      cfg,
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		verifier: NewCredentialVerifier(hasher),
		lockout:  lockout,
		detector: NewDetector(nil, WithDetectorLogger(logger)),
		notifier: noopNotifier{},
		audit:    NewAuditRecorder(nil, logger),
		effects:  newSideEffects(cfg.SideEffectTimeout, logger),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// WithLogger sets the logger on the Authenticator and the components it owns.
func (a *Authenticator) WithLogger(logger Logger) *Authenticator {
	if logger == nil {
		return a
	}
	a.logger = logger
	a.tokens.logger = logger
	a.audit.logger = logger
	a.effects.logger = logger
	if a.detector != nil {
		a.detector.logger = logger
	}
	return a
}

// WithAuditSink configures where audit entries are written.
func (a *Authenticator) WithAuditSink(sink AuditSink) *Authenticator {
	a.audit.sink = normalizeAuditSink(sink)
	return a
}

// WithNotifier configures the email dispatcher.
func (a *Authenticator) WithNotifier(notifier Notifier) *Authenticator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	a.notifier = notifier
	return a
}

// WithLoginHistory configures the history used by the default detector.
// When history also records attempts it is used as the recorder as well.
func (a *Authenticator) WithLoginHistory(history LoginHistory) *Authenticator {
	a.detector = NewDetector(history, WithDetectorLogger(a.logger), WithDetectorClock(a.now))
	if recorder, ok := history.(LoginAttemptRecorder); ok && a.attempts == nil {
		a.attempts = recorder
	}
	return a
}

// WithDetector replaces the suspicious login detector.
func (a *Authenticator) WithDetector(detector *Detector) *Authenticator {
	a.detector = detector
	return a
}

// WithClaimsDecorator sets the decorator applied to every issued token.
func (a *Authenticator) WithClaimsDecorator(decorator ClaimsDecorator) *Authenticator {
	a.tokens.decorator = decorator
	return a
}

// WithLoginAttemptRecorder configures where login attempts are persisted.
func (a *Authenticator) WithLoginAttemptRecorder(recorder LoginAttemptRecorder) *Authenticator {
	a.attempts = recorder
	return a
}

// WithPasswordHistory configures the password reuse check.
func (a *Authenticator) WithPasswordHistory(history PasswordHistory) *Authenticator {
	a.passwords = history
	return a
}

// WithOrganizationCreator enables organization creation during registration.
func (a *Authenticator) WithOrganizationCreator(creator OrganizationCreator) *Authenticator {
	a.organizations = creator
	return a
}

// WithTransactionManager makes registration create the organization and
// the account in one transaction when both stores support it.
func (a *Authenticator) WithTransactionManager(tm TransactionManager) *Authenticator {
	a.txManager = tm
	return a
}

// WithPasswordHasher replaces the bcrypt hasher.
func (a *Authenticator) WithPasswordHasher(hasher PasswordHasher) *Authenticator {
	if hasher == nil {
		return a
	}
	a.hasher = hasher
	a.verifier = NewCredentialVerifier(hasher)
	a.dummyOnce = sync.Once{}
	a.dummyHash = ""
	return a
}

// WithClock injects a custom clock (useful for tests).
func (a *Authenticator) WithClock(clock func() time.Time) *Authenticator {
	if clock == nil {
		return a
	}
	a.now = clock
	a.tokens.now = clock
	a.audit.now = clock
	if a.detector != nil {
		a.detector.now = clock
	}
	return a
}

// WithDeterministicIDs derives account ids from the email address.
func (a *Authenticator) WithDeterministicIDs(enabled bool) *Authenticator {
	a.deterministicIDs = enabled
	return a
}

// TokenManager returns the token manager used by this Authenticator
func (a *Authenticator) TokenManager() *TokenManager {
	return a.tokens
}

// Wait blocks until pending audit and notification side effects finish.
func (a *Authenticator) Wait() {
	a.effects.Wait()
}

// Login authenticates email and password. Unknown accounts and wrong
// passwords yield the same ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, rc RequestContext, msg LoginMessage) (*LoginResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during login")
	default:
	}

	if err := msg.Validate(); err != nil {
		return nil, a.rejectMessage(msg, err)
	}

	email := NormalizeEmail(msg.Email)
	now := a.now()

	account, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError(err, "failed to load account for login")
	}

	if account == nil {
		a.equalizeTiming(msg.Password)
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionLogin,
			ErrorMessage: "user not found",
			Metadata:     a.trackFailure(ctx, rc, email, "user not found", now),
		})
		return nil, ErrInvalidCredentials
	}

	if a.lockout.IsLocked(account, now) {
		meta := a.trackFailure(ctx, rc, email, "account locked", now)
		meta["locked_until"] = account.LockedUntil.UTC()
		meta["lockout_count"] = account.LockoutCount
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionLogin,
			ResourceID:   account.ID.String(),
			ErrorMessage: "account locked",
			Metadata:     meta,
		})
		return nil, newAccountLockedError(*account.LockedUntil, account.LockoutCount)
	}

	if !a.verifier.Verify(msg.Password, account.PasswordHash) {
		return nil, a.loginFailed(ctx, rc, account, now)
	}

	if !account.Active {
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionLogin,
			ResourceID:   account.ID.String(),
			ErrorMessage: "account inactive",
			Metadata:     a.trackFailure(ctx, rc, email, "account inactive", now),
		})
		return nil, ErrAccountInactive
	}

	before := account.securitySnapshot()
	verifiedHash := account.PasswordHash
	account, err = a.mutate(ctx, account, func(acc *Account) error {
		// a concurrent failure may have locked the account, or a concurrent
		// change replaced the password we verified
		if a.lockout.IsLocked(acc, now) {
			return newAccountLockedError(*acc.LockedUntil, acc.LockoutCount)
		}
		if acc.PasswordHash != verifiedHash {
			return ErrInvalidCredentials
		}
		if !acc.Active {
			return ErrAccountInactive
		}
		a.lockout.RecordSuccess(acc, now)
		acc.LastLoginAt = &now
		acc.LastLoginIP = rc.IPAddress
		return nil
	})
	if err != nil {
		return nil, err
	}

	attempt := a.newAttempt(rc, email, true, "", now)
	verdict := a.analyze(ctx, attempt)
	a.storeAttempt(ctx, attempt)

	pair, err := a.tokens.IssuePair(account, msg.RememberMe)
	if err != nil {
		return nil, internalError(err, "failed to issue tokens")
	}

	meta := verdict.metadata()
	meta["email"] = email
	meta["remember_me"] = msg.RememberMe
	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionLogin,
		ResourceID: account.ID.String(),
		Success:    true,
		OldValues:  before,
		NewValues:  account.securitySnapshot(),
		Metadata:   meta,
	})

	principal := principalFromAccount(account)
	principal.TokenID = pair.AccessTokenID
	principal.ExpiresAt = pair.AccessExpiresAt

	return &LoginResult{Tokens: pair, Principal: principal, Verdict: verdict}, nil
}

func (a *Authenticator) loginFailed(ctx context.Context, rc RequestContext, account *Account, now time.Time) error {
	before := account.securitySnapshot()

	var transition LockoutTransition
	saved, err := a.mutate(ctx, account, func(acc *Account) error {
		transition = a.lockout.RecordFailure(acc, now)
		return nil
	})
	if err != nil {
		return err
	}

	meta := a.trackFailure(ctx, rc, saved.Email, "invalid password", now)
	meta["attempts"] = transition.Attempts
	meta["locked"] = transition.Locked()
	if transition.Locked() {
		meta["locked_until"] = transition.LockedUntil.UTC()
		meta["lockout_count"] = saved.LockoutCount
		a.logger.Warn("account locked after failed logins",
			"account_id", saved.ID,
			"lockout_count", saved.LockoutCount,
			"locked_until", transition.LockedUntil,
		)
	}

	a.emitAudit(ctx, rc, AuditEntry{
		Action:       AuditActionLogin,
		ResourceID:   saved.ID.String(),
		ErrorMessage: "invalid password",
		OldValues:    before,
		NewValues:    saved.securitySnapshot(),
		Metadata:     meta,
	})

	return ErrInvalidCredentials
}

// Refresh rotates a refresh token into a new pair.
func (a *Authenticator) Refresh(ctx context.Context, rc RequestContext, refreshToken string) (*TokenPair, *Principal, error) {
	pair, principal, err := a.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		entry := AuditEntry{Action: AuditActionTokenRefresh, ErrorMessage: "refresh rejected"}
		if !IsTokenInvalid(err) {
			entry.ErrorMessage = "refresh failed"
		}
		a.emitAudit(ctx, rc, entry)
		return nil, nil, err
	}

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionTokenRefresh,
		ResourceID: principal.ID.String(),
		Success:    true,
		Metadata:   map[string]any{"access_token_id": pair.AccessTokenID},
	})

	return pair, principal, nil
}

// Authenticate verifies an access token and returns the live principal.
func (a *Authenticator) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	return a.tokens.Verify(ctx, accessToken, TokenKindAccess)
}

// Logout revokes the presented access token and, when given, the refresh
// token issued alongside it.
func (a *Authenticator) Logout(ctx context.Context, rc RequestContext, accessToken, refreshToken string) error {
	principal, err := a.tokens.Verify(ctx, accessToken, TokenKindAccess)
	if err != nil {
		return err
	}

	if err := a.tokens.Revoke(ctx, principal.TokenID, principal.ExpiresAt.Sub(a.now())); err != nil {
		return err
	}

	meta := map[string]any{"access_token_id": principal.TokenID}
	if refreshToken != "" {
		claims, err := a.tokens.RevokeToken(ctx, refreshToken)
		switch {
		case err == nil && claims.Subject == principal.ID.String():
			meta["refresh_token_id"] = claims.TokenID()
		case err != nil && !IsTokenInvalid(err):
			return err
		default:
			a.logger.Debug("logout ignored unusable refresh token", "account_id", principal.ID)
		}
	}

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionLogout,
		ResourceID: principal.ID.String(),
		Success:    true,
		Metadata:   meta,
	})

	return nil
}

// LogoutAll revokes every token issued to the owner of accessToken.
func (a *Authenticator) LogoutAll(ctx context.Context, rc RequestContext, accessToken string) error {
	principal, err := a.tokens.Verify(ctx, accessToken, TokenKindAccess)
	if err != nil {
		return err
	}

	if err := a.tokens.RevokeAll(ctx, principal.ID.String()); err != nil {
		return err
	}

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionLogout,
		ResourceID: principal.ID.String(),
		Success:    true,
		Metadata:   map[string]any{"scope": "all"},
	})

	return nil
}

// rejectMessage records which message failed validation and wraps err.
func (a *Authenticator) rejectMessage(msg interface{ Type() string }, err error) error {
	a.logger.Debug("message rejected", "type", msg.Type(), "error", err)
	return validationError(err)
}

// mutate applies fn and saves. On an optimistic lock conflict the account
// is reloaded and fn applied again. fn sees every reloaded copy and must
// re-check its preconditions on it; an error from fn aborts without saving.
func (a *Authenticator) mutate(ctx context.Context, account *Account, fn func(*Account) error) (*Account, error) {
	for attempt := 1; ; attempt++ {
		if err := fn(account); err != nil {
			return nil, err
		}
		saved, err := a.accounts.Save(ctx, account)
		if err == nil {
			return saved, nil
		}

		if !IsConcurrentUpdate(err) || attempt >= maxSaveAttempts {
			return nil, internalError(err, "failed to save account")
		}

		a.logger.Debug("retrying account save after concurrent update", "account_id", account.ID, "attempt", attempt)
		fresh, ferr := a.accounts.FindByID(ctx, account.ID)
		if ferr != nil {
			return nil, internalError(ferr, "failed to reload account")
		}
		if fresh == nil {
			return nil, ErrAccountNotFound
		}
		account = fresh
	}
}

func (a *Authenticator) equalizeTiming(password string) {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.HashPassword(dummyPassword)
		if err != nil {
			a.logger.Error("failed to build timing equalizer hash", "error", err)
			return
		}
		a.dummyHash = hash
	})
	if a.dummyHash != "" {
		a.verifier.Verify(password, a.dummyHash)
	}
}

func (a *Authenticator) newAttempt(rc RequestContext, email string, success bool, reason string, now time.Time) LoginAttempt {
	return LoginAttempt{
		ID:            uuid.New(),
		Email:         email,
		IPAddress:     rc.IPAddress,
		UserAgent:     rc.UserAgent,
		Success:       success,
		FailureReason: reason,
		OccurredAt:    now.UTC(),
	}
}

// analyze runs the detector before attempt is stored; the verdict is
// advisory and only lands in the audit trail and the login result.
func (a *Authenticator) analyze(ctx context.Context, attempt LoginAttempt) Verdict {
	if a.detector == nil {
		return SafeVerdict()
	}
	return a.detector.AnalyzeLoginAttempt(ctx, attempt)
}

// trackFailure analyzes and stores a failed attempt and returns the audit
// metadata carrying the verdict.
func (a *Authenticator) trackFailure(ctx context.Context, rc RequestContext, email, reason string, now time.Time) map[string]any {
	attempt := a.newAttempt(rc, email, false, reason, now)
	verdict := a.analyze(ctx, attempt)
	a.storeAttempt(ctx, attempt)

	meta := verdict.metadata()
	meta["email"] = email
	return meta
}

func (a *Authenticator) storeAttempt(ctx context.Context, attempt LoginAttempt) {
	if a.attempts == nil {
		return
	}
	if err := a.attempts.RecordAttempt(ctx, attempt); err != nil {
		a.logger.Warn("failed to record login attempt", "email", attempt.Email, "error", err)
	}
}

func (a *Authenticator) emitAudit(ctx context.Context, rc RequestContext, entry AuditEntry) {
	entry.ResourceType = ResourceTypeUser
	entry.ActorID = rc.ActorID
	entry.IPAddress = rc.IPAddress
	entry.UserAgent = rc.UserAgent
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = a.now().UTC()
	}
	for k, v := range rc.metadata() {
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		entry.Metadata[k] = v
	}

	a.effects.Go(ctx, "audit."+string(entry.Action), func(ctx context.Context) error {
		a.audit.Record(ctx, entry)
		return nil
	})
}

func (a *Authenticator) notify(ctx context.Context, name string, fn func(ctx context.Context, n Notifier) error) {
	notifier := a.notifier
	a.effects.Go(ctx, "notify."+name, func(ctx context.Context) error {
		return fn(ctx, notifier)
	})
}
