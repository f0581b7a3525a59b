package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/natsukagami/youmubot-sub000/internal/contest"
	"github.com/natsukagami/youmubot-sub000/internal/eventbus"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
)

var audience = kit.ChatTarget{ChatID: -100}

type standingsResult struct {
	snap contest.Snapshot
	err  error
}

type fakeSource struct {
	mu        sync.Mutex
	meta      []func() (contest.Meta, error)
	metaCalls int
	standings []standingsResult
	calls     int
	handles   [][]string
}

func (f *fakeSource) ContestMeta(context.Context, int64) (contest.Meta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.metaCalls, len(f.meta)-1)
	f.metaCalls++
	return f.meta[i]()
}

func (f *fakeSource) Standings(_ context.Context, _ int64, handles []string) (contest.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = append(f.handles, handles)
	if f.calls >= len(f.standings) {
		return contest.Snapshot{}, errors.New("no more snapshots")
	}
	r := f.standings[f.calls]
	f.calls++
	return r.snap, r.err
}

type fakeRoster []Participant

func (f fakeRoster) SavedParticipants(context.Context, kit.ChatTarget) ([]Participant, error) {
	return f, nil
}

type fakeIdentity map[int64]Identity

func (f fakeIdentity) ResolveIdentity(_ context.Context, _ kit.ChatTarget, userID int64) (Identity, error) {
	id, ok := f[userID]
	if !ok {
		return Identity{}, kit.ErrMemberNotFound
	}
	return id, nil
}

type post struct {
	phase contest.Phase
	text  string
}

type fakeSink struct {
	mu    sync.Mutex
	posts []post
	err   error
	panic bool
}

func (f *fakeSink) Post(_ context.Context, _ kit.ChatTarget, phase contest.Phase, text string) error {
	if f.panic {
		panic("sink exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, post{phase: phase, text: text})
	return f.err
}

func (f *fakeSink) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.posts))
	for _, p := range f.posts {
		out = append(out, p.text)
	}
	return out
}

type fakeTable struct {
	called bool
	meta   contest.Meta
	rows   []FinalRow
}

func (f *fakeTable) RenderFinal(_ context.Context, _ kit.ChatTarget, meta contest.Meta, _ []contest.Problem, rows []FinalRow) error {
	f.called = true
	f.meta = meta
	f.rows = rows
	return nil
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type harness struct {
	guard  *Guard
	source *fakeSource
	sink   *fakeSink
	table  *fakeTable
	clock  *fakeClock
	w      *Watcher
}

func newHarness(source *fakeSource, roster fakeRoster, ids fakeIdentity, opts ...Option) *harness {
	h := &harness{
		guard:  NewGuard(),
		source: source,
		sink:   &fakeSink{},
		table:  &fakeTable{},
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)},
	}
	deps := Deps{Source: source, Roster: roster, Identity: ids, Sink: h.sink, Table: h.table}
	opts = append([]Option{WithClock(h.clock.Now, h.clock.Sleep)}, opts...)
	h.w = New(h.guard, deps, Config{PollInterval: time.Minute, StartGrace: 30 * time.Second, StartupRetries: 1}, opts...)
	return h
}

func metaOK(m contest.Meta) func() (contest.Meta, error) {
	return func() (contest.Meta, error) { return m, nil }
}

func metaErr(err error) func() (contest.Meta, error) {
	return func() (contest.Meta, error) { return contest.Meta{}, err }
}

var problems = []contest.Problem{{Index: "A", Name: "Apples"}, {Index: "B", Name: "Bananas"}}

func res(points float64, rejected int, typ contest.ResultType) contest.ProblemResult {
	return contest.ProblemResult{Points: points, RejectedAttempts: rejected, Type: typ}
}

func snap(phase contest.Phase, rows ...contest.Row) standingsResult {
	return standingsResult{snap: contest.Snapshot{
		Meta:     contest.Meta{ID: 1, Name: "Round 1", Phase: phase},
		Problems: problems,
		Rows:     rows,
	}}
}

func TestWatch_AlreadyWatching(t *testing.T) {
	t.Parallel()

	src := &fakeSource{meta: []func() (contest.Meta, error){metaOK(contest.Meta{Phase: contest.PhaseCoding})}}
	h := newHarness(src, nil, nil)

	tok, _ := h.guard.TryAcquire(1)
	defer tok.Release()

	if out := h.w.Watch(context.Background(), 1, audience); out != AlreadyWatching {
		t.Fatalf("outcome=%v", out)
	}
	if src.metaCalls != 0 {
		t.Fatalf("rejected watch must not fetch")
	}
	if texts := h.sink.texts(); len(texts) != 1 || !strings.Contains(texts[0], "already being watched") {
		t.Fatalf("posts=%v", texts)
	}
	if !h.guard.Held(1) {
		t.Fatalf("rejected watch released someone else's token")
	}
}

func TestWatch_ContestNotFound(t *testing.T) {
	t.Parallel()

	src := &fakeSource{meta: []func() (contest.Meta, error){metaErr(ErrContestNotFound)}}
	h := newHarness(src, nil, nil)

	if out := h.w.Watch(context.Background(), 7, audience); out != ContestNotFound {
		t.Fatalf("outcome=%v", out)
	}
	if src.metaCalls != 1 {
		t.Fatalf("not-found must not be retried, calls=%d", src.metaCalls)
	}
	if h.guard.Held(7) {
		t.Fatalf("guard not released")
	}
	if texts := h.sink.texts(); len(texts) != 1 || !strings.Contains(texts[0], "not found") {
		t.Fatalf("posts=%v", texts)
	}
}

func TestWatch_TransientMetaRetriedThenNotFound(t *testing.T) {
	t.Parallel()

	src := &fakeSource{meta: []func() (contest.Meta, error){metaErr(errors.New("502"))}}
	h := newHarness(src, nil, nil)

	if out := h.w.Watch(context.Background(), 7, audience); out != ContestNotFound {
		t.Fatalf("outcome=%v", out)
	}
	if src.metaCalls != 2 {
		t.Fatalf("calls=%d want 2 (1 + 1 retry)", src.metaCalls)
	}
}

func TestWatch_TransientMetaRecovers(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		meta: []func() (contest.Meta, error){
			metaErr(errors.New("timeout")),
			metaOK(contest.Meta{Name: "Round 1", Phase: contest.PhaseFinished}),
		},
		standings: []standingsResult{snap(contest.PhaseFinished)},
	}
	h := newHarness(src, nil, nil)
	if out := h.w.Watch(context.Background(), 1, audience); out != Completed {
		t.Fatalf("outcome=%v", out)
	}
}

func TestWatch_StartTimeUnknown(t *testing.T) {
	t.Parallel()

	src := &fakeSource{meta: []func() (contest.Meta, error){metaOK(contest.Meta{Name: "Round 9", Phase: contest.PhaseBefore})}}
	h := newHarness(src, nil, nil)

	if out := h.w.Watch(context.Background(), 9, audience); out != StartTimeUnknown {
		t.Fatalf("outcome=%v", out)
	}
	if h.guard.Held(9) {
		t.Fatalf("guard not released")
	}
	if texts := h.sink.texts(); len(texts) != 1 || !strings.Contains(texts[0], "no known start time") {
		t.Fatalf("posts=%v", texts)
	}
	if src.calls != 0 {
		t.Fatalf("standings fetched before start")
	}
}

func TestWatch_FullContest(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 14, 35, 0, 0, time.UTC)
	alice := []string{"alice"}
	bob := []string{"Bob"}
	src := &fakeSource{
		meta: []func() (contest.Meta, error){metaOK(contest.Meta{Name: "Round 1", Phase: contest.PhaseBefore, StartTime: &start})},
		standings: []standingsResult{
			// tick 1: alice passes A; bob is not in the standings yet.
			snap(contest.PhaseCoding,
				contest.Row{Rank: 2, Handles: alice, Results: []contest.ProblemResult{res(480, 0, contest.Preliminary), res(0, 0, contest.Preliminary)}},
			),
			// tick 2: transient failure.
			{err: errors.New("codeforces is down")},
			// tick 3: alice hacks and fails B once; bob appears with B.
			snap(contest.PhaseCoding,
				contest.Row{Rank: 1, SuccessfulHacks: 1, Handles: alice, Results: []contest.ProblemResult{res(480, 0, contest.Preliminary), res(0, 1, contest.Preliminary)}},
				contest.Row{Rank: 3, Handles: bob, Results: []contest.ProblemResult{res(0, 0, contest.Preliminary), res(900, 0, contest.Preliminary)}},
			),
			// tick 4: finished; bob's B becomes final.
			snap(contest.PhaseFinished,
				contest.Row{Rank: 1, SuccessfulHacks: 1, Handles: alice, Results: []contest.ProblemResult{res(480, 0, contest.Final), res(0, 1, contest.Preliminary)}},
				contest.Row{Rank: 2, Handles: bob, Results: []contest.ProblemResult{res(0, 0, contest.Preliminary), res(900, 0, contest.Final)}},
			),
		},
	}
	roster := fakeRoster{{UserID: 1, Handle: "alice"}, {UserID: 2, Handle: "bob"}, {UserID: 3, Handle: "ghost"}}
	ids := fakeIdentity{1: {UserID: 1, DisplayName: "Alice"}, 2: {UserID: 2, DisplayName: "Bob"}}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	h := newHarness(src, roster, ids, WithBus(bus))
	if out := h.w.Watch(context.Background(), 1, audience); out != Completed {
		t.Fatalf("outcome=%v", out)
	}
	if h.guard.Held(1) {
		t.Fatalf("guard not released")
	}

	// Sleep until start+grace, then three poll intervals (none after Finished).
	wantSleeps := []time.Duration{35*time.Minute + 30*time.Second, time.Minute, time.Minute, time.Minute}
	if len(h.clock.sleeps) != len(wantSleeps) {
		t.Fatalf("sleeps=%v want %v", h.clock.sleeps, wantSleeps)
	}
	for i := range wantSleeps {
		if h.clock.sleeps[i] != wantSleeps[i] {
			t.Fatalf("sleeps=%v want %v", h.clock.sleeps, wantSleeps)
		}
	}

	// ghost has no identity and must not be polled for.
	for _, hs := range src.handles {
		if strings.Join(hs, ",") != "alice,bob" {
			t.Fatalf("handles=%v", hs)
		}
	}

	posts := h.sink.posts
	wantContains := []string{
		"35 minutes from now",        // waiting
		"Watching",                   // roster
		"Contest is running",         // Before -> Coding
		"passed pretests on problem", // alice A
		"successful hack",            // alice row event first
		"another attempt on problem", // alice B
		"passed pretests on problem", // bob B
		"Contest is over",            // Coding -> Finished
		"got Accepted on problem",    // alice A final
		"got Accepted on problem",    // bob B final
	}
	if len(posts) != len(wantContains) {
		t.Fatalf("posts(%d):\n%s", len(posts), strings.Join(h.sink.texts(), "\n"))
	}
	for i, want := range wantContains {
		if !strings.Contains(posts[i].text, want) {
			t.Fatalf("post %d=%q want containing %q", i, posts[i].text, want)
		}
	}

	// Quiet phases never ping; finished phase mentions.
	for _, p := range posts {
		pings := strings.Contains(p.text, "tg://user")
		if p.phase.Quiet() && pings {
			t.Fatalf("quiet phase pinged: %+v", p)
		}
		if p.phase == contest.PhaseFinished && strings.Contains(p.text, "Accepted") && !pings {
			t.Fatalf("finished phase should mention: %+v", p)
		}
	}

	if !h.table.called || len(h.table.rows) != 2 {
		t.Fatalf("table=%+v", h.table)
	}
	if h.table.rows[0].Handle != "alice" || h.table.rows[1].Handle != "bob" {
		t.Fatalf("table order=%v,%v", h.table.rows[0].Handle, h.table.rows[1].Handle)
	}
	if h.table.meta.Phase != contest.PhaseFinished {
		t.Fatalf("table meta phase=%v", h.table.meta.Phase)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if types[0] != eventbus.WatchStarted || types[len(types)-1] != eventbus.WatchFinished {
		t.Fatalf("event types=%v", types)
	}
}

func TestWatch_PhaseChangeWithoutRowChanges(t *testing.T) {
	t.Parallel()

	row := contest.Row{Rank: 5, Handles: []string{"alice"}, Results: []contest.ProblemResult{res(0, 0, contest.Preliminary), res(0, 0, contest.Preliminary)}}
	src := &fakeSource{
		meta:      []func() (contest.Meta, error){metaOK(contest.Meta{Name: "Round 1", Phase: contest.PhaseCoding})},
		standings: []standingsResult{snap(contest.PhaseCoding, row), snap(contest.PhaseFinished, row)},
	}
	h := newHarness(src, fakeRoster{{UserID: 1, Handle: "alice"}}, fakeIdentity{1: {UserID: 1, DisplayName: "Alice"}})

	if out := h.w.Watch(context.Background(), 1, audience); out != Completed {
		t.Fatalf("outcome=%v", out)
	}
	texts := h.sink.texts()
	// roster announcement + exactly one phase change.
	if len(texts) != 2 || !strings.Contains(texts[1], "Contest is over") {
		t.Fatalf("posts=%v", texts)
	}
}

func TestWatch_AlreadyFinishedIsSilent(t *testing.T) {
	t.Parallel()

	row := contest.Row{Rank: 3, Handles: []string{"alice"}, Results: []contest.ProblemResult{res(500, 0, contest.Final), res(1000, 0, contest.Final)}}
	src := &fakeSource{
		meta:      []func() (contest.Meta, error){metaOK(contest.Meta{Name: "Round 1", Phase: contest.PhaseFinished})},
		standings: []standingsResult{snap(contest.PhaseFinished, row)},
	}
	h := newHarness(src, fakeRoster{{UserID: 1, Handle: "alice"}}, fakeIdentity{1: {UserID: 1, DisplayName: "Alice"}})

	if out := h.w.Watch(context.Background(), 1, audience); out != Completed {
		t.Fatalf("outcome=%v", out)
	}
	if texts := h.sink.texts(); len(texts) != 1 {
		t.Fatalf("expected only the roster announcement, got %v", texts)
	}
	if len(h.table.rows) != 1 || h.table.rows[0].Row.Rank != 3 {
		t.Fatalf("table rows=%+v", h.table.rows)
	}
	if len(h.clock.sleeps) != 0 {
		t.Fatalf("sleeps=%v", h.clock.sleeps)
	}
}

func TestWatch_SinkFailuresDoNotStopTheLoop(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		meta: []func() (contest.Meta, error){metaOK(contest.Meta{Name: "Round 1", Phase: contest.PhaseCoding})},
		standings: []standingsResult{
			snap(contest.PhaseCoding, contest.Row{Rank: 1, Handles: []string{"alice"}, Results: []contest.ProblemResult{res(500, 0, contest.Preliminary), res(0, 0, contest.Preliminary)}}),
			snap(contest.PhaseFinished, contest.Row{Rank: 1, Handles: []string{"alice"}, Results: []contest.ProblemResult{res(500, 0, contest.Final), res(0, 0, contest.Preliminary)}}),
		},
	}
	h := newHarness(src, fakeRoster{{UserID: 1, Handle: "alice"}}, fakeIdentity{1: {UserID: 1, DisplayName: "Alice"}})
	h.sink.err = errors.New("telegram down")

	if out := h.w.Watch(context.Background(), 1, audience); out != Completed {
		t.Fatalf("outcome=%v", out)
	}
	if !h.table.called || h.table.rows[0].Row.Results[0].Type != contest.Final {
		t.Fatalf("roster state not folded: %+v", h.table.rows)
	}
}

func TestWatch_PanicReleasesGuard(t *testing.T) {
	t.Parallel()

	src := &fakeSource{meta: []func() (contest.Meta, error){metaErr(ErrContestNotFound)}}
	h := newHarness(src, nil, nil)
	h.sink.panic = true

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		h.w.Watch(context.Background(), 3, audience)
	}()
	if h.guard.Held(3) {
		t.Fatalf("guard leaked after panic")
	}
}

func TestWatch_CancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	start := time.Now().Add(time.Hour)
	src := &fakeSource{meta: []func() (contest.Meta, error){metaOK(contest.Meta{Name: "Round 1", Phase: contest.PhaseBefore, StartTime: &start})}}
	sink := &fakeSink{}
	g := NewGuard()
	w := New(g, Deps{Source: src, Roster: fakeRoster{}, Identity: fakeIdentity{}, Sink: sink, Table: &fakeTable{}}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- w.Watch(ctx, 5, audience) }()

	deadline := time.After(5 * time.Second)
	for len(sink.texts()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("watch never announced the wait")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case out := <-done:
		if out != Interrupted {
			t.Fatalf("outcome=%v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop on cancel")
	}
	if g.Held(5) {
		t.Fatalf("guard not released")
	}
}
