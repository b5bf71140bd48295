package auth_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-guard"
	"github.com/goliatone/go-auth-guard/revocation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.SigningKey = testSigningKey
	cfg.Issuer = "authguard-test"
	cfg.Audience = []string{"authguard:test"}
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

// testClock is a settable clock shared by every component under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

// memAccounts is an AccountStore with optimistic versioning.
type memAccounts struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]auth.Account
	conflicts int
	findErr   error
	saves     int
	// winner, when set, is applied to the stored account each time a save is
	// failed by conflictNext, standing in for the writer that got there first
	winner func(*auth.Account)
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: map[uuid.UUID]auth.Account{}}
}

// put stores account as-is, bumping nothing. Used to seed fixtures.
func (m *memAccounts) put(account *auth.Account) *auth.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.Version == 0 {
		account.Version = 1
	}
	m.byID[account.ID] = *account
	cp := *account
	return &cp
}

func (m *memAccounts) get(id uuid.UUID) *auth.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.byID[id]
	if !ok {
		return nil
	}
	return &acc
}

// conflictNext makes the next n saves fail as if another writer won.
func (m *memAccounts) conflictNext(n int) {
	m.mu.Lock()
	m.conflicts = n
	m.mu.Unlock()
}

func (m *memAccounts) FindByID(_ context.Context, id uuid.UUID) (*auth.Account, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.get(id), nil
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.find(func(a auth.Account) bool { return a.Email == auth.NormalizeEmail(email) }), nil
}

func (m *memAccounts) FindByVerificationToken(_ context.Context, tokenHash string) (*auth.Account, error) {
	return m.find(func(a auth.Account) bool {
		return a.EmailVerificationToken != nil && *a.EmailVerificationToken == tokenHash
	}), nil
}

func (m *memAccounts) FindByPasswordResetToken(_ context.Context, tokenHash string) (*auth.Account, error) {
	return m.find(func(a auth.Account) bool {
		return a.PasswordResetToken != nil && *a.PasswordResetToken == tokenHash
	}), nil
}

func (m *memAccounts) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	acc, err := m.FindByEmail(ctx, email)
	return acc != nil, err
}

func (m *memAccounts) Create(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	if exists, _ := m.ExistsByEmail(ctx, account.Email); exists {
		return nil, auth.ErrDuplicateAccount
	}
	account.Version = 0
	return m.put(account), nil
}

func (m *memAccounts) Save(_ context.Context, account *auth.Account) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[account.ID]
	if !ok {
		return nil, auth.ErrAccountNotFound
	}

	if m.conflicts > 0 {
		m.conflicts--
		if m.winner != nil {
			m.winner(&stored)
		}
		stored.Version++
		m.byID[account.ID] = stored
		return nil, auth.ErrConcurrentUpdate
	}

	if stored.Version != account.Version {
		return nil, auth.ErrConcurrentUpdate
	}

	m.saves++
	account.Version++
	m.byID[account.ID] = *account
	cp := *account
	return &cp, nil
}

func (m *memAccounts) find(match func(auth.Account) bool) *auth.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.byID {
		if match(acc) {
			cp := acc
			return &cp
		}
	}
	return nil
}

// memHistory records login attempts and serves them back as history.
type memHistory struct {
	mu       sync.Mutex
	attempts []auth.LoginAttempt
}

func (h *memHistory) RecordAttempt(_ context.Context, attempt auth.LoginAttempt) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, attempt)
	return nil
}

func (h *memHistory) RecentAttempts(_ context.Context, email, ip string) ([]auth.LoginAttempt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []auth.LoginAttempt{}
	for _, a := range h.attempts {
		if a.Email == email || (ip != "" && a.IPAddress == ip) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (h *memHistory) all() []auth.LoginAttempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]auth.LoginAttempt(nil), h.attempts...)
}

// memPasswordHistory keeps every remembered hash per account, newest last.
type memPasswordHistory struct {
	mu     sync.Mutex
	hashes map[uuid.UUID][]string
	hasher auth.PasswordHasher
}

func newMemPasswordHistory() *memPasswordHistory {
	return &memPasswordHistory{
		hashes: map[uuid.UUID][]string{},
		hasher: auth.NewBcryptHasher(bcrypt.MinCost),
	}
}

func (p *memPasswordHistory) IsReused(_ context.Context, accountID uuid.UUID, password string, depth int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hashes := p.hashes[accountID]
	if len(hashes) > depth {
		hashes = hashes[len(hashes)-depth:]
	}
	for _, h := range hashes {
		if p.hasher.ComparePasswordAndHash(password, h) == nil {
			return true, nil
		}
	}
	return false, nil
}

func (p *memPasswordHistory) Remember(_ context.Context, accountID uuid.UUID, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hashes[accountID] = append(p.hashes[accountID], hash)
	return nil
}

type sentEmail struct {
	kind  string
	to    auth.NotificationRecipient
	token string
}

// recordingNotifier captures every email dispatched.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, to auth.NotificationRecipient, token string) error {
	return n.record("verification", to, token)
}

func (n *recordingNotifier) SendWelcomeEmail(_ context.Context, to auth.NotificationRecipient) error {
	return n.record("welcome", to, "")
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, to auth.NotificationRecipient, token string) error {
	return n.record("password_reset", to, token)
}

func (n *recordingNotifier) record(kind string, to auth.NotificationRecipient, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEmail{kind: kind, to: to, token: token})
	return nil
}

func (n *recordingNotifier) last(kind string) (sentEmail, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			return n.sent[i], true
		}
	}
	return sentEmail{}, false
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.kind == kind {
			c++
		}
	}
	return c
}

// recordingAudit is an AuditSink that keeps entries in memory.
type recordingAudit struct {
	mu      sync.Mutex
	entries []auth.AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, entry auth.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) RecordBatch(ctx context.Context, entries []auth.AuditEntry) error {
	for _, e := range entries {
		_ = r.Record(ctx, e)
	}
	return nil
}

func (r *recordingAudit) find(action auth.AuditAction, success bool, errMsg string) []auth.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.AuditEntry
	for _, e := range r.entries {
		if e.Action == action && e.Success == success && (errMsg == "" || e.ErrorMessage == errMsg) {
			out = append(out, e)
		}
	}
	return out
}

// recordingLogger keeps debug messages with their key/value pairs.
type recordingLogger struct {
	mu     sync.Mutex
	debugs []string
}

func (l *recordingLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, fmt.Sprintln(append([]any{msg}, args...)...))
}

func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) debugContaining(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.debugs {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// MockRevocationStore mocks auth.RevocationStore
type MockRevocationStore struct {
	mock.Mock
}

func (m *MockRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	args := m.Called(ctx, tokenID, ttl)
	return args.Error(0)
}

func (m *MockRevocationStore) Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, tokenID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationStore) RevokeAllForSubject(ctx context.Context, subject string, at time.Time) error {
	args := m.Called(ctx, subject, at)
	return args.Error(0)
}

func (m *MockRevocationStore) RevokedSince(ctx context.Context, subject string) (time.Time, bool, error) {
	args := m.Called(ctx, subject)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

// MockLoginHistory mocks auth.LoginHistory
type MockLoginHistory struct {
	mock.Mock
}

func (m *MockLoginHistory) RecentAttempts(ctx context.Context, email, ip string) ([]auth.LoginAttempt, error) {
	args := m.Called(ctx, email, ip)
	attempts, _ := args.Get(0).([]auth.LoginAttempt)
	return attempts, args.Error(1)
}

// MockOrganizationCreator mocks auth.OrganizationCreator
type MockOrganizationCreator struct {
	mock.Mock
}

func (m *MockOrganizationCreator) CreateOrganization(ctx context.Context, name string) (*auth.Organization, error) {
	args := m.Called(ctx, name)
	org, _ := args.Get(0).(*auth.Organization)
	return org, args.Error(1)
}

// harness wires an Authenticator over in-memory collaborators.
type harness struct {
	auth        *auth.Authenticator
	accounts    *memAccounts
	revocations *revocation.Memory
	history     *memHistory
	passwords   *memPasswordHistory
	notifier    *recordingNotifier
	audit       *recordingAudit
	clock       *testClock
	hasher      auth.PasswordHasher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := newTestClock(time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC))
	h := &harness{
		accounts:    newMemAccounts(),
		revocations: revocation.NewMemory().WithClock(clock.Now),
		history:     &memHistory{},
		passwords:   newMemPasswordHistory(),
		notifier:    &recordingNotifier{},
		audit:       &recordingAudit{},
		clock:       clock,
		hasher:      auth.NewBcryptHasher(bcrypt.MinCost),
	}

	a, err := auth.NewAuthenticator(h.accounts, h.revocations, testConfig())
	require.NoError(t, err)

	h.auth = a.
		WithClock(clock.Now).
		WithLoginHistory(h.history).
		WithPasswordHistory(h.passwords).
		WithNotifier(h.notifier).
		WithAuditSink(h.audit)

	return h
}

// seed stores an active, verified account with password.
func (h *harness) seed(t *testing.T, email, password string) *auth.Account {
	t.Helper()
	hash, err := h.hasher.HashPassword(password)
	require.NoError(t, err)

	now := h.clock.Now()
	return h.accounts.put(&auth.Account{
		ID:            uuid.New(),
		Email:         auth.NormalizeEmail(email),
		PasswordHash:  hash,
		Role:          auth.RoleMember,
		EmailVerified: true,
		Active:        true,
		CreatedAt:     &now,
	})
}

func rc() auth.RequestContext {
	return auth.NewRequestContext("203.0.113.10", "go-test", auth.WithRequestSession("sess-1"))
}
