// Package watch runs contest watches: it polls standings, diffs each
// registered participant against their previous row and narrates the changes
// to a chat until the contest is over.
package watch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/natsukagami/youmubot-sub000/internal/contest"
	"github.com/natsukagami/youmubot-sub000/internal/eventbus"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
	"github.com/natsukagami/youmubot-sub000/pkg/tgui"
)

// Outcome is how a watch ended.
type Outcome int

const (
	Completed Outcome = iota
	AlreadyWatching
	StartTimeUnknown
	ContestNotFound
	// Interrupted means ctx was cancelled (process shutdown) mid-watch.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case AlreadyWatching:
		return "already_watching"
	case StartTimeUnknown:
		return "start_time_unknown"
	case ContestNotFound:
		return "contest_not_found"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Config holds the timing knobs of a watch.
type Config struct {
	PollInterval time.Duration
	// StartGrace is added to the scheduled start before polling begins.
	StartGrace time.Duration
	// StartupRetries is how many times a transient metadata failure is retried
	// before the contest is reported as not found.
	StartupRetries int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.StartGrace < 0 {
		c.StartGrace = 0
	}
	if c.StartupRetries < 0 {
		c.StartupRetries = 0
	}
	return c
}

// DefaultConfig is used when the config file leaves the watch section empty.
func DefaultConfig() Config {
	return Config{PollInterval: 60 * time.Second, StartGrace: 30 * time.Second, StartupRetries: 3}
}

// Deps are the collaborators of a Watcher. All are required.
type Deps struct {
	Source   ContestSource
	Roster   RosterSource
	Identity IdentityResolver
	Sink     Sink
	Table    TableRenderer
}

type Option func(*Watcher)

func WithLogger(l logx.Logger) Option { return func(w *Watcher) { w.log = l } }

func WithBus(b eventbus.Bus) Option { return func(w *Watcher) { w.bus = b } }

// WithClock replaces time.Now and the ctx-aware sleep. Tests use it to run
// watches without waiting.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// Watcher starts watches. It is safe for concurrent use; every Watch call
// runs on the caller's goroutine.
type Watcher struct {
	guard *Guard
	deps  Deps

	mu  sync.RWMutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(guard *Guard, deps Deps, cfg Config, opts ...Option) *Watcher {
	w := &Watcher{
		guard: guard,
		deps:  deps,
		cfg:   cfg.withDefaults(),
		bus:   eventbus.Nop{},
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With(logx.String("comp", "watch"))
	return w
}

// Apply swaps the timing config. Running watches keep the config they
// started with.
func (w *Watcher) Apply(cfg Config) {
	w.mu.Lock()
	w.cfg = cfg.withDefaults()
	w.mu.Unlock()
}

func (w *Watcher) config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Watcher) Guard() *Guard { return w.guard }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Watch narrates contestID into audience until the contest finishes.
// It blocks for the whole contest; run it on its own goroutine.
func (w *Watcher) Watch(ctx context.Context, contestID int64, audience kit.ChatTarget) Outcome {
	r := &run{
		w:         w,
		cfg:       w.config(),
		id:        uuid.NewString(),
		contestID: contestID,
		audience:  audience,
	}
	r.log = w.log.With(
		logx.String("run", r.id),
		logx.Int64("contest_id", contestID),
		logx.Int64("chat_id", audience.ChatID),
	)

	tok, ok := w.guard.TryAcquire(contestID)
	if !ok {
		r.log.Info("contest already being watched")
		r.post(ctx, "", tgui.Sprintf("👀 Contest %s is already being watched.", tgui.Code(formatID(contestID))))
		return AlreadyWatching
	}
	defer tok.Release()

	r.publish(eventbus.WatchStarted, eventbus.WatchData{})
	out := r.exec(ctx)
	r.publish(eventbus.WatchFinished, eventbus.WatchData{Outcome: out.String()})
	r.log.Info("watch finished", logx.String("outcome", out.String()))
	return out
}

// run is the state of one watch. It is owned by a single goroutine.
type run struct {
	w   *Watcher
	cfg Config
	log logx.Logger

	id        string
	contestID int64
	audience  kit.ChatTarget

	meta     contest.Meta
	problems []contest.Problem
	entries  []RosterEntry
}

func (r *run) exec(ctx context.Context) Outcome {
	meta, out, ok := r.fetchMeta(ctx)
	if !ok {
		return out
	}
	r.meta = meta

	if meta.Phase == contest.PhaseBefore {
		if meta.StartTime == nil {
			r.post(ctx, meta.Phase, tgui.Sprintf("🤔 Found contest %s, but it has no known start time.", tgui.B(meta.Name)))
			return StartTimeUnknown
		}
		now := r.w.now()
		r.post(ctx, meta.Phase, narrateWaiting(meta, *meta.StartTime, now))
		wait := meta.StartTime.Add(r.cfg.StartGrace).Sub(now)
		r.log.Info("waiting for contest start", logx.Time("start", *meta.StartTime), logx.Duration("wait", wait))
		if wait > 0 {
			if err := r.w.sleep(ctx, wait); err != nil {
				return Interrupted
			}
		}
	}

	r.buildRoster(ctx)
	r.post(ctx, meta.Phase, narrateRoster(meta.Name, r.entries))

	if meta.Phase == contest.PhaseFinished {
		if !r.seedFinished(ctx) {
			return Interrupted
		}
	} else if !r.poll(ctx) {
		return Interrupted
	}

	r.finalize(ctx)
	return Completed
}

// fetchMeta loads the contest metadata, retrying transient failures.
func (r *run) fetchMeta(ctx context.Context) (contest.Meta, Outcome, bool) {
	for attempt := 0; ; attempt++ {
		meta, err := r.w.deps.Source.ContestMeta(ctx, r.contestID)
		if err == nil {
			if meta.ID == 0 {
				meta.ID = r.contestID
			}
			return meta, Completed, true
		}
		if ctx.Err() != nil {
			return contest.Meta{}, Interrupted, false
		}
		if !errors.Is(err, ErrContestNotFound) && attempt < r.cfg.StartupRetries {
			r.log.Warn("contest lookup failed; retrying", logx.Err(err), logx.Int("attempt", attempt+1))
			if r.w.sleep(ctx, r.cfg.PollInterval) != nil {
				return contest.Meta{}, Interrupted, false
			}
			continue
		}
		r.log.Warn("contest lookup failed", logx.Err(err))
		r.post(ctx, "", tgui.Sprintf("❓ Contest %s not found.", tgui.Code(formatID(r.contestID))))
		return contest.Meta{}, ContestNotFound, false
	}
}

func (r *run) buildRoster(ctx context.Context) {
	parts, err := r.w.deps.Roster.SavedParticipants(ctx, r.audience)
	if err != nil {
		r.log.Warn("loading saved participants failed", logx.Err(err))
	}
	seen := map[int64]bool{}
	for _, p := range parts {
		if p.Handle == "" || seen[p.UserID] {
			continue
		}
		id, err := r.w.deps.Identity.ResolveIdentity(ctx, r.audience, p.UserID)
		if err != nil {
			r.log.Debug("dropping participant", logx.Int64("user_id", p.UserID), logx.String("handle", p.Handle), logx.Err(err))
			continue
		}
		seen[p.UserID] = true
		r.entries = append(r.entries, RosterEntry{Participant: p, Identity: id})
	}
	r.log.Info("roster built", logx.Int("saved", len(parts)), logx.Int("resolved", len(r.entries)))
}

func (r *run) handles() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Handle)
	}
	return out
}

// poll runs ticks until the contest is finished. It returns false when ctx
// is cancelled.
func (r *run) poll(ctx context.Context) bool {
	prev := r.meta.Phase
	for {
		snap, err := r.w.deps.Source.Standings(ctx, r.contestID, r.handles())
		switch {
		case err != nil && ctx.Err() != nil:
			return false
		case err != nil:
			r.log.Warn("standings fetch failed", logx.Err(err))
		default:
			prev = r.tick(ctx, snap, prev)
		}
		if prev == contest.PhaseFinished {
			return true
		}
		if r.w.sleep(ctx, r.cfg.PollInterval) != nil {
			return false
		}
	}
}

// tick folds one snapshot into the roster, posting every event, and returns
// the phase to compare the next snapshot against.
func (r *run) tick(ctx context.Context, snap contest.Snapshot, prev contest.Phase) contest.Phase {
	r.adopt(snap)
	phase := snap.Meta.Phase
	if phase == "" {
		phase = prev
	}

	if phase != prev {
		r.log.Info("phase changed", logx.String("from", string(prev)), logx.String("to", string(phase)))
		r.post(ctx, phase, narratePhase(r.meta.Name, phase))
		r.publish(eventbus.WatchPhase, eventbus.WatchData{Phase: string(phase)})
	}

	for i := range r.entries {
		e := &r.entries[i]
		row, ok := snap.FindRow(e.Handle)
		if !ok {
			continue
		}
		old := contest.BaselineRow(len(r.problems))
		if e.Last != nil {
			old = *e.Last
		}
		rowEvents, changes := contest.Diff(r.problems, old, row, phase)
		for _, ev := range rowEvents {
			r.post(ctx, phase, narrateRow(e, ev, row, phase))
			r.publish(eventbus.WatchEvent, eventbus.WatchData{Phase: string(phase), Handle: e.Handle, Kind: ev.String()})
		}
		for _, ch := range changes {
			r.post(ctx, phase, narrateProblem(e, ch, phase))
			r.publish(eventbus.WatchEvent, eventbus.WatchData{Phase: string(phase), Handle: e.Handle, Problem: ch.Problem.Index, Kind: ch.Event.String()})
		}
		e.Last = &row
	}
	r.meta.Phase = phase
	return phase
}

// adopt takes the problem list from the first snapshot that has one and
// keeps the contest name fresh.
func (r *run) adopt(snap contest.Snapshot) {
	if r.problems == nil && len(snap.Problems) > 0 {
		r.problems = append([]contest.Problem(nil), snap.Problems...)
	}
	if snap.Meta.Name != "" {
		r.meta.Name = snap.Meta.Name
	}
	if snap.Meta.StartTime != nil {
		r.meta.StartTime = snap.Meta.StartTime
	}
	if snap.Meta.Duration > 0 {
		r.meta.Duration = snap.Meta.Duration
	}
}

// seedFinished fills the roster of an already finished contest without
// narrating anything. It retries like fetchMeta and gives up quietly.
func (r *run) seedFinished(ctx context.Context) bool {
	for attempt := 0; ; attempt++ {
		snap, err := r.w.deps.Source.Standings(ctx, r.contestID, r.handles())
		if err == nil {
			r.adopt(snap)
			for i := range r.entries {
				if row, ok := snap.FindRow(r.entries[i].Handle); ok {
					r.entries[i].Last = &row
				}
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		r.log.Warn("standings fetch failed", logx.Err(err), logx.Int("attempt", attempt+1))
		if attempt >= r.cfg.StartupRetries {
			return true
		}
		if r.w.sleep(ctx, r.cfg.PollInterval) != nil {
			return false
		}
	}
}

// finalize hands every participant that was seen to the table renderer,
// ordered by rank.
func (r *run) finalize(ctx context.Context) {
	rows := make([]FinalRow, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Last == nil {
			continue
		}
		rows = append(rows, FinalRow{Identity: e.Identity, Handle: e.Handle, Row: *e.Last})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Row.Rank < rows[j].Row.Rank })

	if err := r.w.deps.Table.RenderFinal(ctx, r.audience, r.meta, r.problems, rows); err != nil {
		r.log.Warn("final table failed", logx.Err(err))
	}
}

func (r *run) post(ctx context.Context, phase contest.Phase, text tgui.H) {
	if err := r.w.deps.Sink.Post(ctx, r.audience, phase, text.String()); err != nil {
		r.log.Warn("post failed", logx.Err(err))
	}
}

func (r *run) publish(typ string, d eventbus.WatchData) {
	d.RunID = r.id
	d.ContestID = r.contestID
	d.ChatID = r.audience.ChatID
	r.w.bus.Publish(eventbus.Event{Type: typ, Data: d})
}
