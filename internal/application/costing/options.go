package costing

import (
	"time"

	"github.com/erp/costing/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultWorkers bounds fan-out when no worker count is configured
const DefaultWorkers = 8

// Clock supplies "now" for deciding whether a reference date is historical
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now returns f()
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock
func SystemClock() Clock { return ClockFunc(time.Now) }

type options struct {
	logger   *zap.Logger
	metrics  *telemetry.CostingMetrics
	clock    Clock
	workers  int
	location *time.Location
}

// Option configures a costing service
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		clock:    SystemClock(),
		workers:  DefaultWorkers,
		location: time.UTC,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the instruments; nil disables recording
func WithMetrics(m *telemetry.CostingMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock injects the clock used to tell live from historical valuations
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithWorkers bounds concurrent per-product work during warm-up and valuation
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLocation sets the business timezone that calendar days are counted in
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}
