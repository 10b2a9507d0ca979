package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Security-plane metrics. Registered once by Init; the request-serving layer
// exposes the default registry.
var (
	auditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_audit_entries_total",
			Help: "Audit ledger entries recorded, by level.",
		},
		[]string{"level"},
	)

	auditVerifyFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_audit_verify_failures_total",
			Help: "Ledger verifications that found a broken link or signature.",
		},
	)

	rateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_ratelimit_decisions_total",
			Help: "Rate limiter decisions, by rule and outcome.",
		},
		[]string{"rule", "outcome"},
	)

	rateLimitActiveWindows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_ratelimit_active_windows",
			Help: "Rate windows currently tracked in memory.",
		},
	)

	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_auth_attempts_total",
			Help: "Credential checks, by method (password/jwt/api_key) and outcome.",
		},
		[]string{"method", "outcome"},
	)
)

var initOnce sync.Once

// Init registers the security metrics with the default prometheus registry.
// Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			auditEntriesTotal,
			auditVerifyFailuresTotal,
			rateLimitDecisionsTotal,
			rateLimitActiveWindows,
			authAttemptsTotal,
		)
	})
}

// AuditEntryRecorded counts one persisted ledger entry.
func AuditEntryRecorded(level string) {
	auditEntriesTotal.WithLabelValues(level).Inc()
}

// AuditVerifyFailed counts a failed ledger verification.
func AuditVerifyFailed() {
	auditVerifyFailuresTotal.Inc()
}

// RateLimitDecision counts a limiter decision. Outcome is one of
// allowed|rejected|log_only.
func RateLimitDecision(rule, outcome string) {
	rateLimitDecisionsTotal.WithLabelValues(rule, outcome).Inc()
}

// SetActiveWindows reports the current rate-window count.
func SetActiveWindows(n int) {
	rateLimitActiveWindows.Set(float64(n))
}

// AuthAttempt counts one credential check.
func AuthAttempt(method, outcome string) {
	authAttemptsTotal.WithLabelValues(method, outcome).Inc()
}
