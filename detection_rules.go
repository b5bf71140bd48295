package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RepeatedFailureWindow          = 15 * time.Minute
	RepeatedFailureHighThreshold   = 5
	RepeatedFailureMediumThreshold = 3

	RapidSuccessionWindow            = time.Minute
	RapidSuccessionCriticalThreshold = 10
	RapidSuccessionHighThreshold     = 5

	RecoveryAfterAbuseWindow    = 30 * time.Minute
	RecoveryAfterAbuseThreshold = 3

	// unusual hours are [23:00, 05:00] UTC
	unusualHourStart = 23
	unusualHourEnd   = 5
)

// DefaultRules returns the baseline rule set.
func DefaultRules() []Rule {
	return []Rule{
		RepeatedFailuresRule(),
		RapidSuccessionRule(),
		UnusualHourRule(),
		RecoveryAfterAbuseRule(),
	}
}

// RepeatedFailuresRule flags failed attempts from the current IP within
// RepeatedFailureWindow.
func RepeatedFailuresRule() Rule {
	return Rule{
		Name: "repeated_failures_same_ip",
		Evaluate: func(current LoginAttempt, history []LoginAttempt) RuleResult {
			if current.IPAddress == "" {
				return RuleResult{}
			}
			failures := countAttempts(current, history, RepeatedFailureWindow, current.OccurredAt, func(a LoginAttempt) bool {
				return !a.Success && a.IPAddress == current.IPAddress
			})
			switch {
			case failures >= RepeatedFailureHighThreshold:
				return RuleResult{
					Triggered: true,
					Risk:      RiskHigh,
					Reason:    fmt.Sprintf("Multiple failed login attempts from IP %s: %d within 15 minutes", current.IPAddress, failures),
					Action:    "Block IP address temporarily",
				}
			case failures >= RepeatedFailureMediumThreshold:
				return RuleResult{
					Triggered: true,
					Risk:      RiskMedium,
					Reason:    fmt.Sprintf("Several failed login attempts from IP %s: %d within 15 minutes", current.IPAddress, failures),
					Action:    "Require CAPTCHA verification",
				}
			}
			return RuleResult{}
		},
	}
}

// RapidSuccessionRule flags bursts of attempts of any outcome for the
// current email or IP within RapidSuccessionWindow.
func RapidSuccessionRule() Rule {
	return Rule{
		Name: "rapid_succession",
		Evaluate: func(current LoginAttempt, history []LoginAttempt) RuleResult {
			attempts := countAttempts(current, history, RapidSuccessionWindow, current.OccurredAt, func(a LoginAttempt) bool {
				return sameEmail(a, current) || (current.IPAddress != "" && a.IPAddress == current.IPAddress)
			})
			switch {
			case attempts >= RapidSuccessionCriticalThreshold:
				return RuleResult{
					Triggered: true,
					Risk:      RiskCritical,
					Reason:    fmt.Sprintf("Possible brute force attack: %d login attempts within 1 minute", attempts),
					Action:    "Lock account and notify user",
				}
			case attempts >= RapidSuccessionHighThreshold:
				return RuleResult{
					Triggered: true,
					Risk:      RiskHigh,
					Reason:    fmt.Sprintf("Rapid login attempts: %d attempts within 1 minute", attempts),
					Action:    "Require additional verification",
				}
			}
			return RuleResult{}
		},
	}
}

// UnusualHourRule flags attempts between 23:00 and 05:00 UTC inclusive.
func UnusualHourRule() Rule {
	return Rule{
		Name: "unusual_hour",
		Evaluate: func(current LoginAttempt, _ []LoginAttempt) RuleResult {
			if current.OccurredAt.IsZero() || !IsUnusualHour(current.OccurredAt) {
				return RuleResult{}
			}
			at := current.OccurredAt.UTC()
			return RuleResult{
				Triggered: true,
				Risk:      RiskMedium,
				Reason:    fmt.Sprintf("Login attempt at unusual hour (%02d:%02d UTC)", at.Hour(), at.Minute()),
				Action:    "Send login notification to user",
			}
		},
	}
}

// RecoveryAfterAbuseRule flags a success that follows several failures for
// the same email within RecoveryAfterAbuseWindow.
func RecoveryAfterAbuseRule() Rule {
	return Rule{
		Name: "recovery_after_abuse",
		Evaluate: func(current LoginAttempt, history []LoginAttempt) RuleResult {
			if !current.Success {
				return RuleResult{}
			}
			failures := countAttempts(current, history, RecoveryAfterAbuseWindow, current.OccurredAt, func(a LoginAttempt) bool {
				return !a.Success && sameEmail(a, current)
			})
			if failures < RecoveryAfterAbuseThreshold {
				return RuleResult{}
			}
			return RuleResult{
				Triggered: true,
				Risk:      RiskMedium,
				Reason:    fmt.Sprintf("Successful login after %d failed attempts within 30 minutes", failures),
				Action:    "Notify user of possible account compromise",
			}
		},
	}
}

// IsUnusualHour reports whether t falls in [23:00, 05:00] UTC.
func IsUnusualHour(t time.Time) bool {
	at := t.UTC()
	h := at.Hour()
	if h >= unusualHourStart || h < unusualHourEnd {
		return true
	}
	return h == unusualHourEnd && at.Minute() == 0 && at.Second() == 0 && at.Nanosecond() == 0
}

// countAttempts counts current plus the history entries matching match that
// occurred within window before now. Entries after now, and history entries
// sharing the current attempt's id, are ignored.
func countAttempts(current LoginAttempt, history []LoginAttempt, window time.Duration, now time.Time, match func(LoginAttempt) bool) int {
	count := 0
	if match(current) {
		count++
	}
	for _, a := range history {
		if current.ID != uuid.Nil && a.ID == current.ID {
			continue
		}
		if !withinWindow(a.OccurredAt, now, window) {
			continue
		}
		if match(a) {
			count++
		}
	}
	return count
}

func withinWindow(at, now time.Time, window time.Duration) bool {
	if at.IsZero() || at.After(now) {
		return false
	}
	return now.Sub(at) <= window
}

func sameEmail(a, b LoginAttempt) bool {
	return a.Email != "" && strings.EqualFold(strings.TrimSpace(a.Email), strings.TrimSpace(b.Email))
}
