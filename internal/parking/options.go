package parking

import (
	"time"

	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/storage/models"
)

// DefaultHoldDuration is how long a booking holds a slot before it lapses.
const DefaultHoldDuration = 30 * time.Minute

// Metrics records core outcomes. The metrics package provides the Prometheus implementation.
type Metrics interface {
	SlotTransitioned(status models.SlotStatus)
	CapacityConflict()
	ReservationsExpired(n int)
}

type nopMetrics struct{}

func (nopMetrics) SlotTransitioned(models.SlotStatus) {}
func (nopMetrics) CapacityConflict()                  {}
func (nopMetrics) ReservationsExpired(int)            {}

type options struct {
	clock   func() time.Time
	hold    time.Duration
	logger  pslog.Logger
	metrics Metrics
}

// Option configures an Engine or a Reconciler.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithHoldDuration sets how long a booking holds a slot.
func WithHoldDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.hold = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger pslog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:   func() time.Time { return time.Now().UTC() },
		hold:    DefaultHoldDuration,
		logger:  pslog.NoopLogger(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) now() time.Time {
	return o.clock().UTC()
}
