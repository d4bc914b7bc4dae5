// Package sweeper runs the periodic cleanup of expired verification
// records and sessions.
//
// Expiry is also enforced lazily when a link is opened or a session is
// loaded, so the sweeper only keeps storage from growing; correctness never
// depends on it running.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/digest/internal/metrics"
)

// Ledger purges expired verification records together with the
// unverified accounts they belong to.
type Ledger interface {
	Sweep(ctx context.Context) (int, error)
}

// SessionPurger deletes expired server-side sessions.
type SessionPurger interface {
	DeleteExpired() (int64, error)
}

// Sweeper calls its targets every interval until stopped.
type Sweeper struct {
	ledger   Ledger
	sessions SessionPurger // optional
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a stopped Sweeper. sessions and m may be nil.
func New(ledger Ledger, sessions SessionPurger, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	timeout := interval / 2
	if timeout > time.Minute || timeout <= 0 {
		timeout = time.Minute
	}
	return &Sweeper{
		ledger:   ledger,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling it more than once is a no-op.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting expiry sweeper", slog.Duration("interval", s.interval))
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the loop and waits for a sweep in progress to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down expiry sweeper")
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs a single sweep. Failures are logged and retried on the
// next tick.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	purged, err := s.ledger.Sweep(ctx)
	s.metrics.AddSwept(purged)
	s.metrics.ObserveAuth(metrics.OpSweep, err)
	if err != nil {
		s.logger.Error("verification sweep failed",
			slog.Int("purged", purged),
			slog.String("error", err.Error()),
		)
	} else if purged > 0 {
		s.logger.Info("expired verifications purged", slog.Int("purged", purged))
	}

	if s.sessions == nil {
		return
	}
	n, err := s.sessions.DeleteExpired()
	if err != nil {
		s.logger.Error("session sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Debug("expired sessions purged", slog.Int64("purged", n))
	}
}
