// Package auth is an account-security core: credential login with
// progressive lockout, signed access and refresh tokens with revocation,
// registration with email verification, password reset and change with
// reuse prevention, and suspicious login detection.
//
// Authenticator is the entry point. Every operation takes a
// context.Context and a RequestContext describing the caller (IP address,
// user agent, session id, actor). Durable state lives behind AccountStore;
// token revocation behind RevocationStore (see the revocation package for
// in-memory and Redis backends). The bun repositories in this package
// implement every store plus LoginHistory, PasswordHistory and AuditSink.
//
// Lockout:
//   - LockoutPolicy locks an account after Threshold consecutive failures.
//     Lock durations start at BaseDuration and double until MaxDuration,
//     then keep growing by BaseDuration so each lockout outlasts the last.
//   - An expired lock reads as unlocked without clearing counters. Success
//     and Authenticator.Unlock clear them.
//
// Tokens:
//   - TokenManager signs HMAC tokens only. Verify rejects tokens whose jti is
//     revoked, whose issue time is at or before the subject's revocation
//     cut-off, or whose account is missing, inactive, locked or changed.
//   - ClaimsDecorator may attach Metadata to a token before signing; any
//     other claim mutation fails issuance.
//
// Side effects:
//   - Audit entries and emails are dispatched asynchronously and never fail
//     the operation that produced them. Authenticator.Wait drains them.
package auth
