package auth

import "time"

const (
	// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
	DefaultLockoutThreshold = 5
	// DefaultLockoutBaseDuration is the length of the first lockout.
	DefaultLockoutBaseDuration = 30 * time.Minute
	// DefaultLockoutMultiplier scales each successive lockout.
	DefaultLockoutMultiplier = 2
	// DefaultLockoutMaxDuration is where exponential growth stops.
	DefaultLockoutMaxDuration = 24 * time.Hour
)

// LockState is the lockout state of an account at a point in time.
type LockState string

const (
	LockStateUnlocked LockState = "unlocked"
	LockStateLocked   LockState = "locked"
)

// LockoutPolicy is the account lockout state machine. It only mutates the
// account passed in; persistence is the caller's job.
//
// Lockout durations grow geometrically from BaseDuration by Multiplier.
// Once the next step would exceed MaxDuration, growth continues linearly by
// BaseDuration per escalation so every lockout is longer than the last.
type LockoutPolicy struct {
	Threshold    int
	BaseDuration time.Duration
	Multiplier   int
	MaxDuration  time.Duration
}

// LockoutTransition describes the outcome of RecordFailure.
type LockoutTransition struct {
	From        LockState
	To          LockState
	Attempts    int
	LockedUntil *time.Time
}

// Locked reports whether the failure moved the account into LOCKED.
func (t LockoutTransition) Locked() bool {
	return t.From == LockStateUnlocked && t.To == LockStateLocked
}

// DefaultLockoutPolicy returns the default policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold:    DefaultLockoutThreshold,
		BaseDuration: DefaultLockoutBaseDuration,
		Multiplier:   DefaultLockoutMultiplier,
		MaxDuration:  DefaultLockoutMaxDuration,
	}
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultLockoutThreshold
	}
	if p.BaseDuration <= 0 {
		p.BaseDuration = DefaultLockoutBaseDuration
	}
	if p.Multiplier < 2 {
		p.Multiplier = DefaultLockoutMultiplier
	}
	if p.MaxDuration < p.BaseDuration {
		p.MaxDuration = p.BaseDuration
	}
	return p
}

// Duration returns the lockout length for the given lockout count (1-based).
func (p LockoutPolicy) Duration(lockoutCount int) time.Duration {
	p = p.normalized()
	if lockoutCount < 1 {
		lockoutCount = 1
	}

	d := p.BaseDuration
	step := 1
	for step < lockoutCount {
		next := d * time.Duration(p.Multiplier)
		if next > p.MaxDuration || next <= d {
			break
		}
		d = next
		step++
	}

	if step < lockoutCount {
		d += time.Duration(lockoutCount-step) * p.BaseDuration
	}

	return d
}

// State returns the lock state at now. An expired lock reads as UNLOCKED
// without clearing any counters.
func (p LockoutPolicy) State(account *Account, now time.Time) LockState {
	if p.IsLocked(account, now) {
		return LockStateLocked
	}
	return LockStateUnlocked
}

// IsLocked reports whether account is locked at now.
func (p LockoutPolicy) IsLocked(account *Account, now time.Time) bool {
	if account == nil || account.LockedUntil == nil {
		return false
	}
	return now.Before(*account.LockedUntil)
}

// RecordFailure counts a failed login and locks the account once the
// threshold is reached.
func (p LockoutPolicy) RecordFailure(account *Account, now time.Time) LockoutTransition {
	p = p.normalized()
	from := p.State(account, now)

	account.FailedLoginAttempts++
	transition := LockoutTransition{
		From:     from,
		To:       from,
		Attempts: account.FailedLoginAttempts,
	}

	if from == LockStateLocked {
		transition.LockedUntil = account.LockedUntil
		return transition
	}

	if account.FailedLoginAttempts >= p.Threshold {
		account.LockoutCount++
		until := now.Add(p.Duration(account.LockoutCount))
		account.LockedUntil = &until
		transition.To = LockStateLocked
		transition.LockedUntil = &until
	}

	return transition
}

// RecordSuccess clears the failure counter and lock. LockoutCount is kept
// so future lockouts keep escalating.
func (p LockoutPolicy) RecordSuccess(account *Account, _ time.Time) {
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
}

// ManualUnlock clears the lock and failure counter regardless of time and
// returns the failure count it replaced. LockoutCount is kept.
func (p LockoutPolicy) ManualUnlock(account *Account) int {
	prior := account.FailedLoginAttempts
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	return prior
}
