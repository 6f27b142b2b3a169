package authcheck

import (
	"time"

	"github.com/platinummonkey/authcheck/pkg/observability"
)

// DefaultInterval is how often identities are re-verified. It is also the
// staleness cutoff of a sweep and the expiry of the tasks it enqueues.
const DefaultInterval = time.Hour

// Option configures a Sweeper or a Reconciler
type Option func(*options)

type options struct {
	clock   func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

func newOptions(opts []Option) options {
	o := options{
		clock:  time.Now,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}
