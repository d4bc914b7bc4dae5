package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/digest/internal/metrics"
)

type fakeLedger struct {
	calls  atomic.Int32
	purged int
	err    error
}

func (f *fakeLedger) Sweep(context.Context) (int, error) {
	f.calls.Add(1)
	return f.purged, f.err
}

type fakeSessions struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSessions) DeleteExpired() (int64, error) {
	f.calls.Add(1)
	return 2, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledger := &fakeLedger{purged: 3}
	sessions := &fakeSessions{}
	s := New(ledger, sessions, time.Hour, metrics.New(reg), discard())

	s.RunOnce()

	assert.Equal(t, int32(1), ledger.calls.Load())
	assert.Equal(t, int32(1), sessions.calls.Load())

	expected := `
# HELP digest_verification_swept_total Expired verification records removed by the sweeper.
# TYPE digest_verification_swept_total counter
digest_verification_swept_total 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "digest_verification_swept_total"))
}

func TestRunOnceLedgerFailureStillPurgesSessions(t *testing.T) {
	ledger := &fakeLedger{purged: 1, err: errors.New("datastore: unavailable")}
	sessions := &fakeSessions{}
	s := New(ledger, sessions, time.Hour, nil, discard())

	s.RunOnce()

	assert.Equal(t, int32(1), sessions.calls.Load())
}

func TestRunOnceWithoutSessions(t *testing.T) {
	ledger := &fakeLedger{}
	s := New(ledger, nil, time.Hour, nil, discard())

	assert.NotPanics(t, s.RunOnce)
	assert.Equal(t, int32(1), ledger.calls.Load())
}

func TestStartStop(t *testing.T) {
	ledger := &fakeLedger{}
	s := New(ledger, nil, 5*time.Millisecond, nil, discard())

	s.Start()
	s.Start()

	require.Eventually(t, func() bool { return ledger.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := ledger.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ledger.calls.Load(), "no sweeps after Stop")

	// A second Stop returns immediately.
	s.Stop()
}
