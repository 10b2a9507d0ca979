// Package ratelimit implements in-memory admission control over rolling
// fixed windows. A window's counter lives until the window length elapses,
// then the next request starts a fresh one. Bursts straddling a boundary can
// momentarily pass up to twice the limit; that approximation is documented
// in the README and kept on purpose.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wardenhq/warden/internal/obs"
)

// KeyType selects what a rule counts by.
type KeyType string

const (
	KeyIP     KeyType = "ip"
	KeyUser   KeyType = "user"
	KeyAPIKey KeyType = "api_key"
	KeyGlobal KeyType = "global"
)

// Policy selects what happens once a window is full.
type Policy string

const (
	// PolicyReject denies the request with a retry hint.
	PolicyReject Policy = "reject"
	// PolicyLogOnly admits the request, reports zero remaining and keeps
	// counting. Used to watch a limit before enforcing it.
	PolicyLogOnly Policy = "log_only"
)

// Rule bounds how many requests a key may make per window.
type Rule struct {
	Name        string        `json:"name"`
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
	KeyType     KeyType       `json:"key_type"`
	OnExceed    Policy        `json:"on_exceed"`
}

// ErrInvalidRule reports a rule that cannot be installed.
var ErrInvalidRule = errors.New("ratelimit: invalid rule")

func (r Rule) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("ratelimit: rule name is required")
	}
	if r.Window <= 0 {
		return errors.New("ratelimit: rule window must be positive")
	}
	if r.MaxRequests <= 0 {
		return errors.New("ratelimit: rule max requests must be positive")
	}
	switch r.KeyType {
	case KeyIP, KeyUser, KeyAPIKey, KeyGlobal:
	default:
		return errors.New("ratelimit: unknown key type")
	}
	switch r.OnExceed {
	case PolicyReject, PolicyLogOnly:
	default:
		return errors.New("ratelimit: unknown on-exceed policy")
	}
	return nil
}

// BuiltinRules are the limits the platform ships with. They can be replaced
// or removed at runtime through SetRule/RemoveRule.
func BuiltinRules() []Rule {
	return []Rule{
		{Name: "auth_attempts", Window: 15 * time.Minute, MaxRequests: 5, KeyType: KeyIP, OnExceed: PolicyReject},
		{Name: "api_requests", Window: time.Minute, MaxRequests: 100, KeyType: KeyUser, OnExceed: PolicyReject},
		{Name: "task_spawn", Window: time.Minute, MaxRequests: 10, KeyType: KeyUser, OnExceed: PolicyReject},
		{Name: "global_requests", Window: time.Minute, MaxRequests: 2000, KeyType: KeyGlobal, OnExceed: PolicyLogOnly},
	}
}

// DefaultRule is the fallback applied when a caller names no rule or an
// unknown one.
func DefaultRule() Rule {
	return Rule{Name: "default", Window: time.Minute, MaxRequests: 60, KeyType: KeyIP, OnExceed: PolicyReject}
}

// Result reports one admission decision. RetryAfter is whole seconds and set
// only on denial.
type Result struct {
	Allowed    bool   `json:"allowed"`
	Remaining  int    `json:"remaining"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Rule       string `json:"rule"`
}

type window struct {
	count       int
	windowStart time.Time
	windowDur   time.Duration
}

// Limiter tracks rolling fixed windows per composite key. The read-increment
// of a window is atomic under a single mutex, so concurrent requests cannot
// both slip past the limit.
type Limiter struct {
	logger *zap.Logger
	now    func() time.Time

	// logThrottle bounds over-limit warnings so a flood of denials does
	// not flood the log.
	logThrottle *rate.Limiter

	rulesMu     sync.RWMutex
	rules       map[string]Rule
	defaultRule Rule

	mu      sync.Mutex
	windows map[string]*window
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithLogger attaches a structured logger for over-limit warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRules installs additional named rules at construction.
func WithRules(rules ...Rule) Option {
	return func(l *Limiter) {
		for _, r := range rules {
			if err := r.validate(); err == nil {
				l.rules[r.Name] = r
			}
		}
	}
}

// New constructs a limiter with the given process default and the builtin
// named rules installed.
func New(defaultRule Rule, opts ...Option) (*Limiter, error) {
	if err := defaultRule.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	l := &Limiter{
		logger:      zap.NewNop(),
		now:         time.Now,
		logThrottle: rate.NewLimiter(rate.Limit(1), 5),
		rules:       make(map[string]Rule),
		defaultRule: defaultRule,
		windows:     make(map[string]*window),
	}
	for _, r := range BuiltinRules() {
		l.rules[r.Name] = r
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("ratelimit")
	return l, nil
}

// SetRule installs or replaces a named rule. Open windows are judged against
// the new limits on their next check.
func (l *Limiter) SetRule(r Rule) error {
	if err := r.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	l.rulesMu.Lock()
	l.rules[r.Name] = r
	l.rulesMu.Unlock()
	l.logger.Info("rate limit rule installed",
		zap.String("rule", r.Name),
		zap.Int("max_requests", r.MaxRequests),
		zap.Duration("window", r.Window),
		zap.String("on_exceed", string(r.OnExceed)))
	return nil
}

// RemoveRule deletes a named rule. Callers referencing the name afterwards
// fall back to the default rule.
func (l *Limiter) RemoveRule(name string) {
	l.rulesMu.Lock()
	delete(l.rules, name)
	l.rulesMu.Unlock()
}

// Rules lists the installed named rules.
func (l *Limiter) Rules() []Rule {
	l.rulesMu.RLock()
	defer l.rulesMu.RUnlock()
	out := make([]Rule, 0, len(l.rules))
	for _, r := range l.rules {
		out = append(out, r)
	}
	return out
}

func (l *Limiter) resolve(name string) (Rule, string) {
	l.rulesMu.RLock()
	defer l.rulesMu.RUnlock()
	if name == "" {
		return l.defaultRule, l.defaultRule.Name
	}
	if r, ok := l.rules[name]; ok {
		return r, name
	}
	return l.defaultRule, name
}

func compositeKey(name string, rule Rule, key string) string {
	if rule.KeyType == KeyGlobal {
		key = "global"
	}
	if key == "" {
		key = "unknown"
	}
	return name + ":" + string(rule.KeyType) + ":" + key
}

// Check admits or denies one request for the named rule. Unknown names fall
// back to the default rule but keep their own windows.
func (l *Limiter) Check(name, key string) Result {
	rule, resolvedName := l.resolve(name)
	ckey := compositeKey(resolvedName, rule, key)
	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[ckey]
	if !ok || now.Sub(w.windowStart) >= rule.Window {
		w = &window{windowStart: now, windowDur: rule.Window}
		l.windows[ckey] = w
		obs.SetActiveWindows(len(l.windows))
	}

	if w.count < rule.MaxRequests {
		w.count++
		remaining := rule.MaxRequests - w.count
		l.mu.Unlock()
		obs.RateLimitDecision(resolvedName, "allowed")
		return Result{Allowed: true, Remaining: remaining, Rule: resolvedName}
	}

	if rule.OnExceed == PolicyLogOnly {
		w.count++
		count := w.count
		l.mu.Unlock()
		obs.RateLimitDecision(resolvedName, "log_only")
		if l.logThrottle.Allow() {
			l.logger.Warn("rate limit exceeded (log only)",
				zap.String("rule", resolvedName),
				zap.String("key", key),
				zap.Int("count", count),
				zap.Int("max_requests", rule.MaxRequests))
		}
		return Result{Allowed: true, Remaining: 0, Rule: resolvedName}
	}

	retryAfter := ceilSeconds(w.windowStart.Add(w.windowDur).Sub(now))
	l.mu.Unlock()
	obs.RateLimitDecision(resolvedName, "rejected")
	if l.logThrottle.Allow() {
		l.logger.Warn("rate limit exceeded",
			zap.String("rule", resolvedName),
			zap.String("key", key),
			zap.Int("max_requests", rule.MaxRequests),
			zap.Int("retry_after", retryAfter))
	}
	return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter, Rule: resolvedName}
}

// CheckMultiple evaluates every named rule for the same caller. The first
// denial wins; otherwise the result with the least headroom is returned.
func (l *Limiter) CheckMultiple(names []string, key string) Result {
	if len(names) == 0 {
		return Result{Allowed: true, Remaining: -1}
	}
	var tightest Result
	for i, name := range names {
		res := l.Check(name, key)
		if !res.Allowed {
			return res
		}
		if i == 0 || res.Remaining < tightest.Remaining {
			tightest = res
		}
	}
	return tightest
}

// Reset deletes the window for a rule/key pair immediately.
func (l *Limiter) Reset(name, key string) {
	rule, resolvedName := l.resolve(name)
	ckey := compositeKey(resolvedName, rule, key)
	l.mu.Lock()
	delete(l.windows, ckey)
	obs.SetActiveWindows(len(l.windows))
	l.mu.Unlock()
}

// Sweep removes every expired window and reports how many were dropped.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	removed := 0
	for k, w := range l.windows {
		if now.Sub(w.windowStart) >= w.windowDur {
			delete(l.windows, k)
			removed++
		}
	}
	active := len(l.windows)
	obs.SetActiveWindows(active)
	l.mu.Unlock()

	if removed > 0 {
		l.logger.Debug("rate limit sweep",
			zap.Int("removed", removed),
			zap.Int("active", active))
	}
	return removed
}

// StartSweep runs Sweep at the given interval until the returned stop
// function is called.
func (l *Limiter) StartSweep(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
	return cancel
}

// ActiveWindows reports how many windows are currently tracked.
func (l *Limiter) ActiveWindows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
