// Package event delivers Firebird POST_EVENT notifications. An Alerter
// keeps a dedicated connection on its own goroutine, queues an Event
// Parameter Block for the registered names, and invokes a callback with
// the positive delta each time the server reports new counts.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	firebirdsql "github.com/lirix-data/firebirdsql"
	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/metrics"
	"github.com/lirix-data/firebirdsql/internal/protocol"
)

// MaxEvents is the most event names a single alerter may register.
const MaxEvents = protocol.MaxEvents

// Callback receives one notification per changed event per poll cycle.
// delta is always >= 1. The callback runs on the alerter's worker
// goroutine and must be safe to call from there.
type Callback func(name string, delta uint32)

// Alerter listens for POST_EVENT notifications over its own dedicated
// connection.
type Alerter struct {
	dsn       string
	label     string
	collector *metrics.Collector

	mu      sync.Mutex
	epb     *protocol.EPBBuilder
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures an Alerter.
type Option func(*Alerter)

// WithMetrics publishes per-event delivery counters to reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(a *Alerter) { a.collector = metrics.New(reg) }
}

// NewAlerter builds an alerter for the database named by dsn. The
// connection is not opened until Start.
func NewAlerter(dsn string, options ...Option) (*Alerter, error) {
	opts, err := firebirdsql.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	a := &Alerter{
		dsn:   dsn,
		label: opts.Addr() + "/" + opts.Database,
	}
	for _, fn := range options {
		fn(a)
	}
	return a, nil
}

// Register names the events to listen for. At most MaxEvents names are
// accepted; more fail without touching the previous registration.
func (a *Alerter) Register(names ...string) error {
	epb, err := protocol.NewEPBBuilder(names)
	if err != nil {
		return fberr.Wrap(fberr.Pool, err, "registering events")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fberr.New(fberr.Pool, "cannot register events while the alerter is running")
	}
	a.epb = epb
	return nil
}

// Events returns the registered event names in their fixed order.
func (a *Alerter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epb == nil {
		return nil
	}
	return a.epb.Names()
}

// Running reports whether the worker goroutine is live.
func (a *Alerter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start opens the dedicated connection and begins delivering notifications
// to cb. Register must have been called first.
func (a *Alerter) Start(cb Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epb == nil {
		return fberr.New(fberr.Pool, "no events registered")
	}
	if a.running {
		return fberr.New(fberr.Pool, "alerter already running")
	}

	conn, err := firebirdsql.Connect(context.Background(), a.dsn)
	if err != nil {
		return err
	}

	a.running = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(conn, a.epb, cb)
	return nil
}

// Stop cancels the pending event request, closes the dedicated connection,
// and joins the worker. Safe to call when already stopped.
func (a *Alerter) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	stop, done := a.stop, a.done
	a.mu.Unlock()

	close(stop)
	<-done

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

func (a *Alerter) run(conn *firebirdsql.Connection, epb *protocol.EPBBuilder, cb Callback) {
	done := a.done
	defer func() {
		_ = conn.Close()
		// The worker may die on its own (connection loss); reflect that in
		// Running so callers are not left believing deliveries continue.
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		close(done)
	}()

	counts := make(map[string]uint32)
	localID := int32(1)

	for {
		select {
		case <-a.stop:
			return
		default:
		}

		// Queue with the last observed counts so the server only reports
		// increments past what the callback has already seen.
		id, err := conn.QueueEvents(epb.BuildWithCounts(counts), localID)
		if err != nil {
			slog.Error("queueing events failed", "database", a.label, "err", err)
			return
		}
		localID++

		ev, err := a.waitForEvent(conn, id)
		if err != nil {
			slog.Error("waiting for event failed", "database", a.label, "err", err)
			return
		}
		if ev == nil { // stopped while waiting
			_ = conn.CancelEvents(id)
			return
		}

		newCounts, err := protocol.ParseEPBCounts(ev.ResultEPB)
		if err != nil {
			slog.Error("malformed event parameter block", "database", a.label, "err", err)
			return
		}
		deltas := protocol.DiffEventCounts(counts, newCounts)
		for _, name := range epb.Names() {
			if d, ok := deltas[name]; ok {
				cb(name, d)
				a.collector.EventsDelivered(a.label, name, d)
			}
		}
		for name, n := range newCounts {
			counts[name] = n
		}
	}
}

// waitForEvent polls at 1-second granularity so a Stop is observed between
// polls. Returns (nil, nil) on stop.
func (a *Alerter) waitForEvent(conn *firebirdsql.Connection, id int32) (*firebirdsql.Event, error) {
	for {
		select {
		case <-a.stop:
			return nil, nil
		default:
		}

		ev, err := conn.WaitForEvent(time.Second)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue
		}
		if ev.ID != id {
			// A notification for an already-cancelled request; keep waiting.
			continue
		}
		return ev, nil
	}
}
