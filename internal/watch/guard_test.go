package watch

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuard_MutualExclusion(t *testing.T) {
	t.Parallel()

	for round := 0; round < 50; round++ {
		g := NewGuard()
		var (
			wins  atomic.Int32
			wg    sync.WaitGroup
			start = make(chan struct{})
			mu    sync.Mutex
			held  []*Token
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if tok, ok := g.TryAcquire(1234); ok {
					wins.Add(1)
					mu.Lock()
					held = append(held, tok)
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("round %d: %d acquirers won", round, wins.Load())
		}

		held[0].Release()
		tok, ok := g.TryAcquire(1234)
		if !ok {
			t.Fatalf("round %d: re-acquire after release failed", round)
		}
		tok.Release()
	}
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	a, ok := g.TryAcquire(1)
	if !ok {
		t.Fatalf("acquire 1")
	}
	a.Release()
	b, ok := g.TryAcquire(1)
	if !ok {
		t.Fatalf("acquire 1 again")
	}
	// A stale token must not free the new holder's slot.
	a.Release()
	if !g.Held(1) {
		t.Fatalf("stale release freed a live token")
	}
	b.Release()
	var nilTok *Token
	nilTok.Release()
}

func TestGuard_IndependentContests(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	a, okA := g.TryAcquire(2)
	b, okB := g.TryAcquire(1)
	if !okA || !okB {
		t.Fatalf("different contests must not conflict")
	}
	if got := g.Active(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Active=%v", got)
	}
	a.Release()
	b.Release()
	if got := g.Active(); len(got) != 0 {
		t.Fatalf("Active after release=%v", got)
	}
}

func TestGuard_ReleasedOnPanic(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	func() {
		defer func() { _ = recover() }()
		tok, _ := g.TryAcquire(9)
		defer tok.Release()
		panic("boom")
	}()
	if g.Held(9) {
		t.Fatalf("token leaked after panic")
	}
}
