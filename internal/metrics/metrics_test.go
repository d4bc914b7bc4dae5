package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sakif/digest/internal/apperror"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, OutcomeOK},
		{"validation", apperror.ValidationFailed("email", "bad"), "validation"},
		{"conflict", apperror.Conflict("already exists"), "conflict"},
		{"not found", apperror.NotFound("none"), "not_found"},
		{"expired", apperror.Expired("late"), "expired"},
		{"mismatch", apperror.Mismatch("wrong"), "mismatch"},
		{"unauthorized", apperror.Unauthorized("no"), "unauthorized"},
		{"forbidden", apperror.Forbidden("no"), "forbidden"},
		{"persistence", apperror.Persistence("op", errors.New("x")), "persistence"},
		{"external", apperror.External("mail service", errors.New("x")), "external"},
		{"wrapped external", fmt.Errorf("handler: %w", apperror.External("cohere", errors.New("x"))), "external"},
		{"deadline", context.DeadlineExceeded, "canceled"},
		{"unknown", errors.New("boom"), "error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("expected outcome %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveAuth(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAuth(OpLogin, nil)
	m.ObserveAuth(OpLogin, nil)
	m.ObserveAuth(OpLogin, apperror.Unauthorized("incorrect credentials"))

	if got := testutil.ToFloat64(m.authOps.WithLabelValues(OpLogin, OutcomeOK)); got != 2 {
		t.Fatalf("expected 2 successful logins, got %v", got)
	}
	if got := testutil.ToFloat64(m.authOps.WithLabelValues(OpLogin, "unauthorized")); got != 1 {
		t.Fatalf("expected 1 rejected login, got %v", got)
	}
}

func TestObserveSummarizeAndSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSummarize(300*time.Millisecond, nil)
	m.AddSwept(3)
	m.AddSwept(0)

	if got := testutil.ToFloat64(m.sweptRecords); got != 3 {
		t.Fatalf("expected 3 swept, got %v", got)
	}

	expected := `
# HELP digest_verification_swept_total Expired verification records removed by the sweeper.
# TYPE digest_verification_swept_total counter
digest_verification_swept_total 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "digest_verification_swept_total"); err != nil {
		t.Fatal(err)
	}

	if n := testutil.CollectAndCount(m.summarizeDuration); n != 1 {
		t.Fatalf("expected 1 histogram series, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAuth(OpSignup, nil)
	m.ObserveSummarize(time.Second, nil)
	m.AddSwept(1)
}
