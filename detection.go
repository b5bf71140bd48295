package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the ordered severity of a detection verdict.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RuleResult is the outcome of a single Rule.
type RuleResult struct {
	Triggered bool
	Risk      RiskLevel
	Reason    string
	Action    string
}

// Rule is a named, pure check over the current attempt and recent history.
// History may contain attempts for other emails or addresses; rules filter
// what they need.
type Rule struct {
	Name     string
	Evaluate func(current LoginAttempt, history []LoginAttempt) RuleResult
}

// Verdict aggregates every triggered rule. RiskLevel is the maximum risk
// across triggered rules; Reasons and RecommendedActions are parallel.
type Verdict struct {
	IsSuspicious       bool      `json:"is_suspicious"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Reasons            []string  `json:"reasons"`
	RecommendedActions []string  `json:"recommended_actions"`
}

// SafeVerdict is the verdict returned when nothing triggered or detection
// could not run.
func SafeVerdict() Verdict {
	return Verdict{
		RiskLevel:          RiskLow,
		Reasons:            []string{},
		RecommendedActions: []string{},
	}
}

func (v Verdict) metadata() map[string]any {
	return map[string]any{
		"suspicious":          v.IsSuspicious,
		"risk_level":          v.RiskLevel.String(),
		"reasons":             v.Reasons,
		"recommended_actions": v.RecommendedActions,
	}
}

// Evaluate runs rules in order over current and history. A rule that
// panics is skipped.
func Evaluate(current LoginAttempt, history []LoginAttempt, rules []Rule) Verdict {
	return evaluate(current, history, rules, nil)
}

func evaluate(current LoginAttempt, history []LoginAttempt, rules []Rule, onPanic func(rule string, recovered any)) Verdict {
	verdict := SafeVerdict()
	for _, rule := range rules {
		res, ok := runRule(rule, current, history, onPanic)
		if !ok || !res.Triggered {
			continue
		}
		verdict.IsSuspicious = true
		if res.Risk > verdict.RiskLevel {
			verdict.RiskLevel = res.Risk
		}
		verdict.Reasons = append(verdict.Reasons, res.Reason)
		verdict.RecommendedActions = append(verdict.RecommendedActions, res.Action)
	}
	return verdict
}

func runRule(rule Rule, current LoginAttempt, history []LoginAttempt, onPanic func(string, any)) (res RuleResult, ok bool) {
	if rule.Evaluate == nil {
		return RuleResult{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(rule.Name, r)
			}
			res, ok = RuleResult{}, false
		}
	}()
	return rule.Evaluate(current, history), true
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithRules replaces the rule set.
func WithRules(rules ...Rule) DetectorOption {
	return func(d *Detector) {
		d.rules = append([]Rule(nil), rules...)
	}
}

// WithAdditionalRules appends rules after the current set.
func WithAdditionalRules(rules ...Rule) DetectorOption {
	return func(d *Detector) {
		d.rules = append(d.rules, rules...)
	}
}

// WithDetectorLogger sets the logger.
func WithDetectorLogger(logger Logger) DetectorOption {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDetectorClock sets the clock used for attempts with no timestamp.
func WithDetectorClock(clock func() time.Time) DetectorOption {
	return func(d *Detector) {
		if clock != nil {
			d.now = clock
		}
	}
}

// Detector scores login attempts against recent history. It fails open:
// history errors and rule panics yield SafeVerdict and are only logged.
type Detector struct {
	history LoginHistory
	rules   []Rule
	logger  Logger
	now     func() time.Time
}

// NewDetector returns a Detector using DefaultRules unless overridden.
func NewDetector(history LoginHistory, opts ...DetectorOption) *Detector {
	d := &Detector{
		history: history,
		rules:   DefaultRules(),
		logger:  defLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Rules returns a copy of the configured rules.
func (d *Detector) Rules() []Rule {
	return append([]Rule(nil), d.rules...)
}

// AnalyzeLoginAttempt fetches recent history for the attempt and evaluates
// every rule. It never returns an error.
func (d *Detector) AnalyzeLoginAttempt(ctx context.Context, attempt LoginAttempt) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("login analysis panicked", "email", attempt.Email, "panic", r)
			verdict = SafeVerdict()
		}
	}()

	if attempt.OccurredAt.IsZero() {
		attempt.OccurredAt = d.now()
	}

	var history []LoginAttempt
	if d.history != nil {
		var err error
		history, err = d.history.RecentAttempts(ctx, NormalizeEmail(attempt.Email), attempt.IPAddress)
		if err != nil {
			d.logger.Warn("login history unavailable, skipping analysis", "email", attempt.Email, "error", err)
			return SafeVerdict()
		}
	}

	verdict = evaluate(attempt, history, d.rules, func(rule string, recovered any) {
		d.logger.Error("detection rule panicked", "rule", rule, "panic", recovered)
	})

	if verdict.IsSuspicious {
		d.logger.Info("suspicious login attempt",
			"email", attempt.Email,
			"ip", attempt.IPAddress,
			"risk", verdict.RiskLevel.String(),
			"reasons", strings.Join(verdict.Reasons, "; "),
		)
	}

	return verdict
}
