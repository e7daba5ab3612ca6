// Package pool provides a thread-safe connection pool for
// github.com/lirix-data/firebirdsql: min/max sizing, lifetime expiry,
// generation-based invalidation, timed acquisition, and a scoped guard
// that returns its connection on Close.
package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a Pool. Build one with the With* functional options
// below; fields no option sets take the defaults New applies, and an
// option that sets a field to zero keeps it at zero.
type Options struct {
	MinSize            int
	MaxSize            int
	ConnectionLifetime time.Duration
	AcquireTimeout     time.Duration
	Validate           bool
	MetricsRegisterer  prometheus.Registerer
}

// Option mutates Options; pass any number to New.
type Option func(*Options)

// WithMinSize sets the number of connections eagerly created at pool
// construction time.
func WithMinSize(n int) Option {
	return func(o *Options) { o.MinSize = n }
}

// WithMaxSize caps the total number of connections (idle + in-use) the
// pool will ever hold.
func WithMaxSize(n int) Option {
	return func(o *Options) { o.MaxSize = n }
}

// WithConnectionLifetime sets how long a pooled connection may sit idle or
// in use before it is treated as stale and discarded on its next return or
// acquisition attempt.
func WithConnectionLifetime(d time.Duration) Option {
	return func(o *Options) { o.ConnectionLifetime = d }
}

// WithAcquireTimeout bounds how long Get will wait for a connection to
// become available before returning a Pool-kind timeout error.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *Options) { o.AcquireTimeout = d }
}

// WithValidate enables a round-trip ping (SELECT 1 FROM RDB$DATABASE)
// before handing out a pooled connection, discarding and replacing it
// silently on failure rather than returning a dead connection to the
// caller.
func WithValidate(v bool) Option {
	return func(o *Options) { o.Validate = v }
}

// WithMetrics publishes the pool's Prometheus metrics (occupancy gauges,
// acquire-wait histogram, discard counters) to reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) { o.MetricsRegisterer = reg }
}

const (
	defaultMinSize            = 1
	defaultMaxSize            = 10
	defaultConnectionLifetime = 30 * time.Minute
	defaultAcquireTimeout     = 10 * time.Second
)

func resolveOptions(opts []Option) Options {
	o := Options{
		MinSize:            defaultMinSize,
		MaxSize:            defaultMaxSize,
		ConnectionLifetime: defaultConnectionLifetime,
		AcquireTimeout:     defaultAcquireTimeout,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.MaxSize < o.MinSize {
		o.MaxSize = o.MinSize
	}
	return o
}
