// Command authguard is the operator tool for the account-security core. It
// migrates the schema, lifts lockouts, revokes sessions, inspects tokens and
// purges old login attempts.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	auth "github.com/goliatone/go-auth-guard"
	"github.com/goliatone/go-auth-guard/notify"
	"github.com/goliatone/go-auth-guard/revocation"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const usage = `usage: authguard [flags] <command> [args]

commands:
  config                    print the effective configuration
  migrate                   create tables and indexes
  unlock <account-id>       clear an account lockout
  revoke-all <account-id>   revoke every token issued to an account
  verify-token <token>      verify an access token (-refresh for refresh tokens)
  purge-attempts            delete login attempts older than -older-than
`

type options struct {
	envFile   string
	debug     bool
	refresh   bool
	minRole   string
	olderThan time.Duration
}

// App holds the wired dependencies of a single invocation.
type App struct {
	cfg      auth.Config
	logger   *glog.BaseLogger
	db       *bun.DB
	repo     auth.RepositoryManager
	auth     *auth.Authenticator
	closers  []func() error
	settings settings
}

type settings struct {
	DatabaseDSN string `json:"database_dsn"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	RabbitMQURL string `json:"-"`
	Messaging   bool   `json:"messaging"`
}

func main() {
	opts := options{}
	flags := flag.NewFlagSet("authguard", flag.ExitOnError)
	flags.StringVar(&opts.envFile, "env", ".env", "dotenv file to load")
	flags.BoolVar(&opts.debug, "debug", false, "log SQL queries")
	flags.BoolVar(&opts.refresh, "refresh", false, "verify-token: treat the token as a refresh token")
	flags.StringVar(&opts.minRole, "min-role", "", "verify-token: require at least this role")
	flags.DurationVar(&opts.olderThan, "older-than", 30*24*time.Hour, "purge-attempts: retention window")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authguard: %v\n", err)
		os.Exit(1)
	}

	err = app.run(ctx, args[0], args[1:], opts)
	app.close()

	if err != nil {
		app.logger.GetLogger("cli").Error("command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context, opts options) (*App, error) {
	// a missing dotenv file is fine, the environment may already be set
	_ = godotenv.Load(opts.envFile)

	level := glog.Info
	if opts.debug {
		level = glog.Trace
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("authguard"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:    cfg,
		logger: lgr,
		settings: settings{
			DatabaseDSN: envOr("DATABASE_DSN", "file:authguard.db?cache=shared"),
			RedisAddr:   os.Getenv("REDIS_ADDR"),
			RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		},
	}
	app.settings.Messaging = app.settings.RabbitMQURL != ""

	if err := app.setupDB(opts); err != nil {
		return nil, err
	}

	if err := app.setupAuthenticator(ctx); err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

func (a *App) setupDB(opts options) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, a.settings.DatabaseDSN)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open database")
	}

	a.db = bun.NewDB(sqldb, sqlitedialect.New())
	if opts.debug {
		a.db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	a.closers = append(a.closers, a.db.Close)

	hasher := auth.NewBcryptHasher(a.cfg.BcryptCost)
	a.repo = auth.NewRepositoryManager(a.db, hasher)
	a.repo.MustValidate()

	return nil
}

func (a *App) setupAuthenticator(ctx context.Context) error {
	revocations, err := a.revocationStore(ctx)
	if err != nil {
		return err
	}

	authenticator, err := auth.NewAuthenticator(a.repo.Accounts(), revocations, a.cfg)
	if err != nil {
		return err
	}

	var sink auth.AuditSink = a.repo.AuditLog()
	var notifier auth.Notifier

	if a.settings.Messaging {
		conn, ch, err := notify.Dial(a.settings.RabbitMQURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, ch.Close, conn.Close)

		notifier = notify.NewAMQPNotifier(ch, notify.WithLogger(a.logger.GetLogger("notify")))
		sink = auth.MultiAuditSink{a.repo.AuditLog(), notify.NewAuditPublisher(ch)}
	}

	authenticator.
		WithLogger(a.logger.GetLogger("auth")).
		WithAuditSink(sink).
		WithLoginHistory(a.repo.LoginAttempts()).
		WithPasswordHistory(a.repo.PasswordHistory()).
		WithOrganizationCreator(a.repo.Organizations()).
		WithTransactionManager(a.repo)

	if notifier != nil {
		authenticator.WithNotifier(notifier)
	}

	a.auth = authenticator
	return nil
}

func (a *App) revocationStore(ctx context.Context) (auth.RevocationStore, error) {
	if a.settings.RedisAddr == "" {
		return revocation.NewMemory(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.settings.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to reach redis")
	}
	a.closers = append(a.closers, client.Close)

	return revocation.NewRedis(client,
		revocation.WithKeyPrefix(envOr("REDIS_KEY_PREFIX", revocation.DefaultKeyPrefix)),
		revocation.WithSubjectTTL(a.cfg.RevocationHorizon()+time.Hour),
	), nil
}

func (a *App) close() {
	if a.auth != nil {
		a.auth.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && err != amqp.ErrClosed {
			a.logger.GetLogger("cli").Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) run(ctx context.Context, command string, args []string, opts options) error {
	logger := a.logger.GetLogger("cli")
	rc := auth.NewRequestContext("127.0.0.1", "authguard-cli", auth.WithRequestActor("system"))

	switch command {
	case "config":
		fmt.Println(print.MaybeHighlightJSON(struct {
			Auth     auth.Config `json:"auth"`
			Settings settings    `json:"settings"`
		}{a.cfg, a.settings}))
		return nil

	case "migrate":
		if err := a.repo.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema migrated", "dsn", a.settings.DatabaseDSN)
		return nil

	case "unlock":
		id, err := accountArg(args)
		if err != nil {
			return err
		}
		prior, err := a.auth.Unlock(ctx, rc, id)
		if err != nil {
			return err
		}
		logger.Info("account unlocked", "account_id", id, "prior_failed_attempts", prior)
		return nil

	case "revoke-all":
		id, err := accountArg(args)
		if err != nil {
			return err
		}
		if err := a.auth.TokenManager().RevokeAll(ctx, id.String()); err != nil {
			return err
		}
		logger.Info("sessions revoked", "account_id", id)
		return nil

	case "verify-token":
		if len(args) != 1 {
			return errors.New("verify-token expects a token", errors.CategoryBadInput)
		}
		kind := auth.TokenKindAccess
		if opts.refresh {
			kind = auth.TokenKindRefresh
		}
		principal, err := a.auth.TokenManager().Verify(ctx, args[0], kind)
		if err != nil {
			return err
		}
		if opts.minRole != "" {
			role, ok := auth.ParseRole(opts.minRole)
			if !ok {
				return errors.New(fmt.Sprintf("unknown role %q", opts.minRole), errors.CategoryBadInput)
			}
			if !principal.IsAtLeast(role) {
				return errors.New(fmt.Sprintf("principal role %s is below %s", principal.Role, role), errors.CategoryAuthz)
			}
		}
		fmt.Println(print.MaybeHighlightJSON(principal))
		return nil

	case "purge-attempts":
		before := time.Now().UTC().Add(-opts.olderThan)
		n, err := a.repo.LoginAttempts().Purge(ctx, before)
		if err != nil {
			return err
		}
		logger.Info("login attempts purged", "deleted", n, "before", before)
		return nil
	}

	return errors.New(fmt.Sprintf("unknown command %q", command), errors.CategoryBadInput)
}

func accountArg(args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, errors.New("expected a single account id", errors.CategoryBadInput)
	}
	id, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.CategoryBadInput, "invalid account id")
	}
	return id, nil
}

func configFromEnv() (auth.Config, error) {
	cfg := auth.DefaultConfig()
	cfg.SigningKey = os.Getenv("AUTH_SIGNING_KEY")
	cfg.SigningMethod = envOr("AUTH_SIGNING_METHOD", cfg.SigningMethod)
	cfg.Issuer = envOr("AUTH_ISSUER", "authguard")
	if aud := os.Getenv("AUTH_AUDIENCE"); aud != "" {
		cfg.Audience = strings.Split(aud, ",")
	}

	durations := map[string]*time.Duration{
		"AUTH_ACCESS_TOKEN_TTL":       &cfg.AccessTokenTTL,
		"AUTH_REFRESH_TOKEN_TTL":      &cfg.RefreshTokenTTL,
		"AUTH_EXTENDED_REFRESH_TTL":   &cfg.ExtendedRefreshTTL,
		"AUTH_LOCKOUT_BASE_DURATION":  &cfg.LockoutBaseDuration,
		"AUTH_LOCKOUT_MAX_DURATION":   &cfg.LockoutMaxDuration,
		"AUTH_VERIFICATION_TOKEN_TTL": &cfg.VerificationTokenTTL,
		"AUTH_PASSWORD_RESET_TTL":     &cfg.PasswordResetTTL,
	}
	for key, target := range durations {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, errors.Wrap(err, errors.CategoryBadInput, "invalid duration for "+key)
		}
		*target = d
	}

	ints := map[string]*int{
		"AUTH_LOCKOUT_THRESHOLD":      &cfg.LockoutThreshold,
		"AUTH_PASSWORD_HISTORY_DEPTH": &cfg.PasswordHistoryDepth,
		"AUTH_BCRYPT_COST":            &cfg.BcryptCost,
	}
	for key, target := range ints {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, errors.Wrap(err, errors.CategoryBadInput, "invalid integer for "+key)
		}
		*target = n
	}

	if raw := os.Getenv("AUTH_REVOKE_ON_ROTATE"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, errors.Wrap(err, errors.CategoryBadInput, "invalid boolean for AUTH_REVOKE_ON_ROTATE")
		}
		cfg.RevokeOnRotate = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
