package revocation

import (
	"context"
	"errors"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "authguard:"
	// DefaultSubjectTTL bounds how long a per-subject cut-off is kept. It
	// must outlive the longest refresh token.
	DefaultSubjectTTL = 31 * 24 * time.Hour
)

// Redis is a RevocationStore backed by Redis keys with expiry.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	subjectTTL time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithSubjectTTL sets how long subject cut-offs are kept.
func WithSubjectTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.subjectTTL = ttl
		}
	}
}

// NewRedis returns a Redis store using client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		prefix:     DefaultKeyPrefix,
		subjectTTL: DefaultSubjectTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.tokenKey(tokenID)).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check revoked token")
	}
	return n > 0, nil
}

func (r *Redis) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.client.Set(ctx, r.tokenKey(tokenID), "1", ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke token")
	}
	return nil
}

// Consume sets the revocation key only if it does not exist yet.
func (r *Redis) Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := r.client.SetNX(ctx, r.tokenKey(tokenID), "1", ttl).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume token")
	}
	return ok, nil
}

// RevokeAllForSubject stores the cut-off in microseconds. A later cut-off
// already stored is kept.
func (r *Redis) RevokeAllForSubject(ctx context.Context, subject string, at time.Time) error {
	key := r.subjectKey(subject)
	micros := at.UnixMicro()

	current, ok, err := r.RevokedSince(ctx, subject)
	if err != nil {
		return err
	}
	if ok && current.UnixMicro() > micros {
		return nil
	}

	if err := r.client.Set(ctx, key, strconv.FormatInt(micros, 10), r.subjectTTL).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke subject tokens")
	}
	return nil
}

func (r *Redis) RevokedSince(ctx context.Context, subject string) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.subjectKey(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read subject revocation")
	}

	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "malformed subject revocation")
	}
	return time.UnixMicro(micros), true, nil
}

func (r *Redis) tokenKey(tokenID string) string {
	return r.prefix + "revoked:" + tokenID
}

func (r *Redis) subjectKey(subject string) string {
	return r.prefix + "revoked-subject:" + subject
}
