// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for go-passkey ceremonies.
// It exposes ceremony counters, verification failure counters, security event
// counters, latency histograms, and pending challenge gauges to enable
// monitoring of passkey server health.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics
	Namespace = "passkey"

	// Label names
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelReason     = "reason"
	LabelEvent      = "event"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpRegistration   = "registration"
	OpAuthentication = "authentication"

	// Failure reasons
	ReasonUnknownChallenge = "unknown_challenge"
	ReasonCeremonyMismatch = "ceremony_mismatch"
	ReasonOriginMismatch   = "origin_mismatch"
	ReasonMalformed        = "malformed_response"
	ReasonDuplicate        = "duplicate_credential"
	ReasonNotFound         = "credential_not_found"
	ReasonBadSignature     = "signature_invalid"
	ReasonCounter          = "counter_regression"
	ReasonInternal         = "internal"

	// Security event names
	EventReplayAttempt     = "replay_attempt"
	EventCounterRegression = "counter_regression"
	EventCloneWarning      = "clone_warning"
	EventSignatureFailure  = "signature_failure"
)

var (
	// CeremoniesTotal tracks completed ceremonies by operation and outcome.
	// Use RecordCeremony to increment this counter with the appropriate labels.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of completed ceremonies by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// CeremonyDuration tracks the wall time of ceremony verification in seconds.
	// Buckets are tuned for typical signature verification latencies.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of ceremony verification in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation},
	)

	// VerifyFailuresTotal tracks verification failures by operation and reason.
	// Reasons should be specific (e.g., "unknown_challenge", "origin_mismatch").
	VerifyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verify_failures_total",
			Help:      "Total number of verification failures by operation and reason",
		},
		[]string{LabelOperation, LabelReason},
	)

	// SecurityEventsTotal tracks security relevant events such as replay
	// attempts and authenticator clone indicators.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "security_events_total",
			Help:      "Total number of security relevant events by event type",
		},
		[]string{LabelEvent},
	)

	// PendingChallenges tracks the number of live entries in the challenge ledger.
	PendingChallenges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pending_challenges",
			Help:      "Current number of pending challenges awaiting verification",
		},
	)

	// CredentialsTotal tracks the number of credentials held by the store.
	CredentialsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "credentials_total",
			Help:      "Total number of stored credentials",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremony records a completed ceremony with its duration and outcome.
//
// Parameters:
//   - operation: The ceremony name (use Op* constants)
//   - status: The outcome (use Status* constants)
//   - duration: The ceremony duration in seconds
func RecordCeremony(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(operation, status).Inc()
	CeremonyDuration.WithLabelValues(operation).Observe(duration)
}

// RecordVerifyFailure records a verification failure with its reason.
//
// Parameters:
//   - operation: The ceremony during which the failure occurred (use Op* constants)
//   - reason: A specific reason identifier (use Reason* constants)
func RecordVerifyFailure(operation, reason string) {
	if !enabled.Load() {
		return
	}
	VerifyFailuresTotal.WithLabelValues(operation, reason).Inc()
}

// RecordSecurityEvent records a security relevant event such as a replay
// attempt or a signature counter regression.
func RecordSecurityEvent(event string) {
	if !enabled.Load() {
		return
	}
	SecurityEventsTotal.WithLabelValues(event).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
//
// Parameters:
//   - method: The HTTP method (GET, POST, etc.)
//   - statusCode: The HTTP status code as a string
//   - duration: The request duration in seconds
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetPendingChallenges sets the current pending challenge gauge.
func SetPendingChallenges(count float64) {
	if !enabled.Load() {
		return
	}
	PendingChallenges.Set(count)
}

// SetCredentialsTotal sets the stored credential gauge.
func SetCredentialsTotal(count float64) {
	if !enabled.Load() {
		return
	}
	CredentialsTotal.Set(count)
}

// SetEnabled enables or disables metrics collection at runtime.
// When disabled, all Record* and Set* functions become no-ops.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
