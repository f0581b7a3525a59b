package watch

import (
	"sort"
	"sync"
)

// Guard is the process-wide set of contests currently being watched.
// At most one Token per contest id is live at any time.
type Guard struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func NewGuard() *Guard {
	return &Guard{active: map[int64]struct{}{}}
}

// Token owns one contest id in a Guard until Release.
type Token struct {
	g    *Guard
	id   int64
	once sync.Once
}

// TryAcquire claims contestID. It returns false without waiting when another
// watch already holds it. Callers must `defer tok.Release()` right away.
func (g *Guard) TryAcquire(contestID int64) (*Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, taken := g.active[contestID]; taken {
		return nil, false
	}
	g.active[contestID] = struct{}{}
	return &Token{g: g, id: contestID}, true
}

func (t *Token) ContestID() int64 { return t.id }

// Release frees the slot. Safe to call more than once and on a nil token.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.g.mu.Lock()
		delete(t.g.active, t.id)
		t.g.mu.Unlock()
	})
}

// Active returns the held contest ids in ascending order.
func (g *Guard) Active() []int64 {
	g.mu.Lock()
	out := make([]int64, 0, len(g.active))
	for id := range g.active {
		out = append(out, id)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Held reports whether contestID is currently being watched.
func (g *Guard) Held(contestID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[contestID]
	return ok
}
