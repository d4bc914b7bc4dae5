// Package metrics exposes Prometheus counters for the auth workflows and
// the summarizer.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/digest/internal/apperror"
)

// Auth operations.
const (
	OpSignup   = "signup"
	OpLogin    = "login"
	OpLogout   = "logout"
	OpOAuth    = "oauth_callback"
	OpVerify   = "verify"
	OpResend   = "resend_verification"
	OpStatus   = "status"
	OpSweep    = "sweep"
)

const (
	OutcomeOK  = "ok"
	outcomeErr = "error"
)

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing, which keeps tests that don't care about metrics short.
type Metrics struct {
	authOps           *prometheus.CounterVec
	summarizeDuration *prometheus.HistogramVec
	sweptRecords      prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digest",
			Name:      "auth_operations_total",
			Help:      "Auth workflow invocations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		summarizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "digest",
			Name:      "summarize_duration_seconds",
			Help:      "Latency of summarization requests by outcome.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),
		sweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digest",
			Name:      "verification_swept_total",
			Help:      "Expired verification records removed by the sweeper.",
		}),
	}

	reg.MustRegister(m.authOps, m.summarizeDuration, m.sweptRecords)
	return m
}

// ObserveAuth counts one invocation of op with the outcome derived from err.
func (m *Metrics) ObserveAuth(op string, err error) {
	if m == nil {
		return
	}
	m.authOps.WithLabelValues(op, Classify(err)).Inc()
}

// ObserveSummarize records the latency of one summarization.
func (m *Metrics) ObserveSummarize(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.summarizeDuration.WithLabelValues(Classify(err)).Observe(d.Seconds())
}

// AddSwept adds n purged verification records.
func (m *Metrics) AddSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptRecords.Add(float64(n))
}

// Classify maps an error to a low-cardinality outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, apperror.ErrValidation):
		return "validation"
	case errors.Is(err, apperror.ErrConflict):
		return "conflict"
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperror.ErrExpired):
		return "expired"
	case errors.Is(err, apperror.ErrMismatch):
		return "mismatch"
	case errors.Is(err, apperror.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperror.ErrPersistence):
		return "persistence"
	case errors.Is(err, apperror.ErrExternal):
		return "external"
	default:
		return outcomeErr
	}
}
