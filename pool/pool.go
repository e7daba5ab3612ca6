package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	firebirdsql "github.com/lirix-data/firebirdsql"
	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/metrics"
)

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Idle       int
	InUse      int
	Waiting    int
	Generation uint64
	MinSize    int
	MaxSize    int
}

// Pool is a thread-safe pool of firebirdsql connections. Connections are
// handed out exclusively through a Guard; a Connection is never shared
// between two holders. The monitor invariant, held whenever mu is free:
// len(available) + inUse <= MaxSize.
type Pool struct {
	opts  Options
	label string // host:port/db, the metrics and log identity

	// connect dials one physical connection. Tests substitute a stub.
	connect func(ctx context.Context) (*firebirdsql.Connection, error)

	mu         sync.Mutex
	cond       *sync.Cond
	available  []*entry // FIFO: pop front on Get, push back on return
	inUse      int
	waiting    int
	generation uint64
	closed     bool

	collector *metrics.Collector
}

// entry is one pooled physical connection with the bookkeeping the
// staleness checks need.
type entry struct {
	id         string
	conn       *firebirdsql.Connection
	createdAt  time.Time
	generation uint64
}

// New parses dsn, applies options, and eagerly creates MinSize connections.
// A dial failure during warm-up closes whatever was already created and
// fails construction — a pool that cannot reach its server is better
// reported at startup than on the first Get.
func New(ctx context.Context, dsn string, options ...Option) (*Pool, error) {
	connOpts, err := firebirdsql.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	opts := resolveOptions(options)

	p := &Pool{
		opts:  opts,
		label: connOpts.Addr() + "/" + connOpts.Database,
		connect: func(ctx context.Context) (*firebirdsql.Connection, error) {
			return firebirdsql.ConnectWithOptions(ctx, connOpts)
		},
	}
	p.cond = sync.NewCond(&p.mu)
	if opts.MetricsRegisterer != nil {
		p.collector = metrics.New(opts.MetricsRegisterer)
	}

	for i := 0; i < opts.MinSize; i++ {
		conn, err := p.connect(ctx)
		if err != nil {
			p.Close()
			return nil, fberr.Wrap(fberr.Pool, err, "warming up connection %d of %d", i+1, opts.MinSize)
		}
		p.mu.Lock()
		p.available = append(p.available, p.newEntry(conn))
		p.mu.Unlock()
	}
	slog.Debug("firebirdsql pool ready", "database", p.label, "min", opts.MinSize, "max", opts.MaxSize)

	return p, nil
}

// newEntry must be called with p.mu held (it reads p.generation).
func (p *Pool) newEntry(conn *firebirdsql.Connection) *entry {
	return &entry{
		id:         uuid.NewString(),
		conn:       conn,
		createdAt:  time.Now(),
		generation: p.generation,
	}
}

// Get acquires a connection, waiting up to AcquireTimeout (or the context
// deadline, whichever is earlier) for one to free up when the pool is at
// MaxSize. The returned Guard must be closed to return the connection.
func (p *Pool) Get(ctx context.Context) (*Guard, error) {
	start := time.Now()
	deadline := start.Add(p.opts.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, fberr.Wrap(fberr.Pool, ctx.Err(), "acquiring connection")
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fberr.New(fberr.Pool, "pool is closed")
		}

		// Pop idle entries front-first, discarding stale ones.
		for len(p.available) > 0 {
			e := p.available[0]
			p.available = p.available[1:]

			if reason := p.staleReason(e); reason != "" {
				p.discard(e, reason)
				continue
			}
			if p.opts.Validate {
				if err := e.conn.Ping(ctx); err != nil {
					slog.Warn("pooled connection failed validation", "database", p.label, "conn", e.id, "err", err)
					p.discard(e, "validate_failed")
					continue
				}
			}

			p.inUse++
			p.observeAcquire(start)
			p.mu.Unlock()
			return &Guard{pool: p, e: e}, nil
		}

		// Room for a new physical connection: reserve the slot before
		// releasing the lock so concurrent Gets cannot overshoot MaxSize.
		if len(p.available)+p.inUse < p.opts.MaxSize {
			p.inUse++
			p.mu.Unlock()

			conn, err := p.connect(ctx)

			p.mu.Lock()
			if err != nil {
				p.inUse--
				p.cond.Signal()
				p.mu.Unlock()
				return nil, fberr.Wrap(fberr.Pool, err, "creating connection for %s", p.label)
			}
			e := p.newEntry(conn)
			p.observeAcquire(start)
			p.mu.Unlock()
			return &Guard{pool: p, e: e}, nil
		}

		// Pool exhausted: wait for a return, a timeout wake, or Close.
		p.collector.Exhausted(p.label)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, fberr.New(fberr.Pool, "acquire timed out after %s for %s", p.opts.AcquireTimeout, p.label)
		}

		p.waiting++
		timer := time.AfterFunc(remaining, func() {
			p.cond.Broadcast()
		})
		p.cond.Wait() // releases mu, waits, reacquires mu
		timer.Stop()
		p.waiting--

		if !p.closed && time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, fberr.New(fberr.Pool, "acquire timed out after %s for %s", p.opts.AcquireTimeout, p.label)
		}
		// Loop: re-check closed, idle entries, and capacity under mu.
	}
}

// staleReason must be called with p.mu held.
func (p *Pool) staleReason(e *entry) string {
	if e.generation < p.generation {
		return "invalidated"
	}
	if p.opts.ConnectionLifetime > 0 && time.Since(e.createdAt) > p.opts.ConnectionLifetime {
		return "expired"
	}
	return ""
}

// discard must be called with p.mu held. The close runs on a goroutine so
// a slow or dead peer cannot stall the pool's critical section.
func (p *Pool) discard(e *entry, reason string) {
	p.collector.Discarded(p.label, reason)
	slog.Debug("discarding pooled connection", "database", p.label, "conn", e.id, "reason", reason)
	go func() { _ = e.conn.Close() }()
}

// observeAcquire must be called with p.mu held.
func (p *Pool) observeAcquire(start time.Time) {
	p.collector.AcquireDuration(p.label, time.Since(start))
	p.collector.UpdatePoolStats(p.label, len(p.available), p.inUse, p.waiting)
}

// put returns a guard's connection. In-use entries that outlived their
// generation or lifetime are discarded here rather than re-queued.
func (p *Pool) put(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse--
	if p.closed {
		p.discard(e, "closed")
	} else if reason := p.staleReason(e); reason != "" {
		p.discard(e, reason)
	} else {
		// Re-tag so the entry survives until the next Invalidate.
		e.generation = p.generation
		p.available = append(p.available, e)
	}
	p.collector.UpdatePoolStats(p.label, len(p.available), p.inUse, p.waiting)
	p.cond.Signal()
}

// forget drops an entry taken out of the pool entirely (Guard.Take): the
// slot frees up but the connection is no longer the pool's to manage.
func (p *Pool) forget() {
	p.mu.Lock()
	p.inUse--
	p.collector.UpdatePoolStats(p.label, len(p.available), p.inUse, p.waiting)
	p.cond.Signal()
	p.mu.Unlock()
}

// Invalidate bumps the generation: every connection created before this
// call is discarded lazily — idle entries on their next pop, in-use ones
// when their guard returns them.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	p.generation++
	slog.Info("pool invalidated", "database", p.label, "generation", p.generation)
	p.mu.Unlock()
}

// Clear bumps the generation and immediately drops every idle connection.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.generation++
	for _, e := range p.available {
		p.discard(e, "cleared")
	}
	p.available = nil
	p.collector.UpdatePoolStats(p.label, 0, p.inUse, p.waiting)
	p.mu.Unlock()
}

// Close shuts the pool down: idle connections are closed, waiters in Get
// are woken to fail with a pool-closed error, and returning guards discard
// their connections. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, e := range p.available {
		p.discard(e, "closed")
	}
	p.available = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	slog.Debug("pool closed", "database", p.label)
}

// Stats snapshots the pool's occupancy counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:       len(p.available),
		InUse:      p.inUse,
		Waiting:    p.waiting,
		Generation: p.generation,
		MinSize:    p.opts.MinSize,
		MaxSize:    p.opts.MaxSize,
	}
}

// Guard is scoped ownership of one pooled connection. Exactly one of Close
// or Take should be called; Close is idempotent and safe on all exit paths
// (defer it immediately after Get).
type Guard struct {
	pool *Pool
	e    *entry

	mu   sync.Mutex
	done bool
}

// Connection returns the guarded connection. The caller must not retain it
// past Close.
func (g *Guard) Connection() *firebirdsql.Connection {
	return g.e.conn
}

// Close returns the connection to the pool.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	g.mu.Unlock()
	g.pool.put(g.e)
}

// Take detaches the connection from the pool: the pool's slot frees up and
// the caller assumes ownership, including the eventual Close.
func (g *Guard) Take() *firebirdsql.Connection {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return nil
	}
	g.done = true
	g.mu.Unlock()
	g.pool.forget()
	return g.e.conn
}
