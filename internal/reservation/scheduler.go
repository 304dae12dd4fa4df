// Package reservation runs the periodic sweep that releases lapsed slot holds.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"pkt.systems/pslog"
)

// DefaultInterval is used when no sweep interval is configured.
const DefaultInterval = 30 * time.Second

// Expirer releases lapsed reservations and reports how many it released.
type Expirer interface {
	ExpireReservations(ctx context.Context) (int, error)
}

// ExpiryScheduler periodically reverts RESERVED slots whose hold has lapsed.
type ExpiryScheduler struct {
	cron     *cron.Cron
	expirer  Expirer
	interval time.Duration
	logger   pslog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	running bool
}

// NewExpiryScheduler creates a scheduler sweeping every interval.
func NewExpiryScheduler(expirer Expirer, interval time.Duration, logger pslog.Logger) *ExpiryScheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < time.Second {
		interval = time.Second
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &ExpiryScheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		expirer:  expirer,
		interval: interval,
		logger:   logger,
		timeout:  interval,
	}
}

// Interval returns the effective sweep interval.
func (s *ExpiryScheduler) Interval() time.Duration {
	return s.interval
}

// Start schedules the sweep and starts the cron runner.
func (s *ExpiryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("expiry scheduler already running")
	}

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("reservation.scheduler.started", "interval", s.interval.String())
	return nil
}

// Stop stops the runner and waits for an in-flight sweep to finish.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("reservation.scheduler.stopped")
}

// Sweep runs one expiry pass and returns the number of released holds.
func (s *ExpiryScheduler) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.expirer.ExpireReservations(ctx)
	if err != nil {
		s.logger.Error("reservation.sweep.failed", "error", err, "released", n)
		return n
	}
	if n > 0 {
		s.logger.Debug("reservation.sweep.completed", "released", n)
	}
	return n
}
