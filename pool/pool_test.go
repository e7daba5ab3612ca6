package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/fbtest"
)

func startPool(t *testing.T, options ...Option) *Pool {
	t.Helper()
	srv, err := fbtest.Start()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)

	p, err := New(context.Background(), srv.URL(), options...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return p
}

func poolKind(t *testing.T, err error) fberr.Kind {
	t.Helper()
	var fe *fberr.Error
	if !errors.As(err, &fe) {
		t.Fatalf("not a library error: %v", err)
	}
	return fe.Kind
}

func TestPoolWarmUp(t *testing.T) {
	p := startPool(t, WithMinSize(3), WithMaxSize(5))
	s := p.Stats()
	if s.Idle != 3 || s.InUse != 0 {
		t.Fatalf("after warm-up: %+v", s)
	}
}

func TestPoolGetAndReturn(t *testing.T) {
	p := startPool(t, WithMinSize(1), WithMaxSize(2))

	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if g.Connection() == nil {
		t.Fatal("guard holds no connection")
	}
	if s := p.Stats(); s.InUse != 1 || s.Idle != 0 {
		t.Fatalf("while held: %+v", s)
	}

	g.Close()
	if s := p.Stats(); s.InUse != 0 || s.Idle != 1 {
		t.Fatalf("after return: %+v", s)
	}

	// A second Close is a no-op, not a double return.
	g.Close()
	if s := p.Stats(); s.InUse != 0 || s.Idle != 1 {
		t.Fatalf("after double close: %+v", s)
	}
}

// The pool cap invariant: available + in-use never exceeds MaxSize, even
// with every connection held and more claimants waiting.
func TestPoolCap(t *testing.T) {
	const maxSize = 4
	p := startPool(t, WithMaxSize(maxSize), WithAcquireTimeout(200*time.Millisecond))

	guards := make([]*Guard, 0, maxSize)
	for i := 0; i < maxSize; i++ {
		g, err := p.Get(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		guards = append(guards, g)
	}

	if s := p.Stats(); s.Idle+s.InUse != maxSize {
		t.Fatalf("cap violated: %+v", s)
	}

	_, err := p.Get(context.Background())
	if poolKind(t, err) != fberr.Pool {
		t.Fatalf("expected a pool timeout, got %v", err)
	}

	for _, g := range guards {
		g.Close()
	}
	if s := p.Stats(); s.Idle != maxSize || s.InUse != 0 {
		t.Fatalf("after returning all: %+v", s)
	}
}

// Scenario: five guards held, a sixth Get blocks, then succeeds promptly
// once one guard is dropped.
func TestPoolBlockedGetWakesOnReturn(t *testing.T) {
	p := startPool(t, WithMinSize(1), WithMaxSize(5), WithAcquireTimeout(10*time.Second))

	guards := make([]*Guard, 5)
	for i := range guards {
		g, err := p.Get(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		guards[i] = g
	}

	acquired := make(chan error, 1)
	go func() {
		g, err := p.Get(context.Background())
		if err == nil {
			g.Close()
		}
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("sixth Get finished while all five were held: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	guards[0].Close()
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("sixth Get did not wake within 1s of the drop")
	}

	for _, g := range guards[1:] {
		g.Close()
	}
}

func TestPoolInvalidateDiscardsOnReturn(t *testing.T) {
	p := startPool(t, WithMinSize(0), WithMaxSize(3))

	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Invalidate()
	g.Close()

	if s := p.Stats(); s.Idle != 0 || s.InUse != 0 {
		t.Fatalf("invalidated connection must not return to the queue: %+v", s)
	}
}

func TestPoolInvalidateDiscardsIdleOnNextGet(t *testing.T) {
	p := startPool(t, WithMinSize(2), WithMaxSize(3))

	p.Invalidate()
	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	// Both stale idles were discarded; the handed-out connection is fresh.
	if s := p.Stats(); s.Idle != 0 || s.InUse != 1 {
		t.Fatalf("after get: %+v", s)
	}
}

func TestPoolClear(t *testing.T) {
	p := startPool(t, WithMinSize(3), WithMaxSize(5))
	p.Clear()
	if s := p.Stats(); s.Idle != 0 {
		t.Fatalf("after clear: %+v", s)
	}
}

func TestPoolLifetimeExpiry(t *testing.T) {
	p := startPool(t, WithMinSize(1), WithMaxSize(2), WithConnectionLifetime(10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	// The warm-up connection aged out; this one was dialed fresh.
	if s := p.Stats(); s.Idle != 0 || s.InUse != 1 {
		t.Fatalf("expired idle must be discarded: %+v", s)
	}
}

func TestPoolClosed(t *testing.T) {
	p := startPool(t, WithMinSize(1), WithMaxSize(2))
	p.Close()

	_, err := p.Get(context.Background())
	if poolKind(t, err) != fberr.Pool {
		t.Fatalf("expected a pool-closed error, got %v", err)
	}
	// Closing twice is fine.
	p.Close()
}

func TestPoolCloseWakesWaiters(t *testing.T) {
	p := startPool(t, WithMaxSize(1), WithAcquireTimeout(10*time.Second))

	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Get(context.Background())
		waiterErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	p.Close()
	select {
	case err := <-waiterErr:
		if poolKind(t, err) != fberr.Pool {
			t.Fatalf("waiter got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
	g.Close()
}

func TestGuardTake(t *testing.T) {
	p := startPool(t, WithMinSize(0), WithMaxSize(1))

	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	conn := g.Take()
	if conn == nil {
		t.Fatal("Take returned nil")
	}
	defer conn.Close()

	// The slot is free again even though the connection was never returned.
	if s := p.Stats(); s.InUse != 0 || s.Idle != 0 {
		t.Fatalf("after take: %+v", s)
	}
	g2, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	g2.Close()

	if g.Take() != nil {
		t.Fatal("second Take must return nil")
	}
}

func TestPoolValidateOnAcquire(t *testing.T) {
	p := startPool(t, WithMinSize(1), WithMaxSize(2), WithValidate(true))

	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	g.Close()
}

func TestPoolConcurrentChurn(t *testing.T) {
	p := startPool(t, WithMinSize(2), WithMaxSize(4), WithAcquireTimeout(5*time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				g, err := p.Get(context.Background())
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				g.Close()
			}
		}()
	}
	wg.Wait()

	s := p.Stats()
	if s.InUse != 0 {
		t.Fatalf("leaked in-use connections: %+v", s)
	}
	if s.Idle > s.MaxSize {
		t.Fatalf("cap violated: %+v", s)
	}
}

func TestPoolContextCancellation(t *testing.T) {
	p := startPool(t, WithMaxSize(1), WithAcquireTimeout(10*time.Second))

	g, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := p.Get(ctx); err == nil {
		t.Fatal("expected a timeout from the context deadline")
	}
}
