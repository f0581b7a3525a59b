// Package contestbot is the chat-facing side of the contest watcher: the
// registration and watch commands, the auto-watch job, and the adapters that
// plug storage, member lookup and delivery into the watch loop.
package contestbot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/natsukagami/youmubot-sub000/internal/codeforces"
	"github.com/natsukagami/youmubot-sub000/internal/contest"
	"github.com/natsukagami/youmubot-sub000/internal/storage"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	"github.com/natsukagami/youmubot-sub000/internal/watch"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

// Contests is the Codeforces lookup the commands need.
type Contests interface {
	ResolveHandle(ctx context.Context, handle string) (codeforces.User, error)
	Upcoming(ctx context.Context, horizon time.Duration) ([]contest.Meta, error)
}

// Watcher runs one watch to completion.
type Watcher interface {
	Watch(ctx context.Context, contestID int64, audience kit.ChatTarget) watch.Outcome
	Guard() *watch.Guard
}

// Spawner runs long-lived goroutines; the app supervisor implements it.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Runtime reports process state for /status.
type Runtime interface {
	// NextAutoWatch is the next auto-watch run, zero when none is scheduled.
	NextAutoWatch() time.Time
	// LastDelivery is when a message last went out, zero if none has.
	LastDelivery() time.Time
}

// AutoConfig controls the auto-watch job.
type AutoConfig struct {
	Enabled bool
	Horizon time.Duration
	Target  kit.ChatTarget
}

type Deps struct {
	Store    storage.Store
	Contests Contests
	Watcher  Watcher
	Spawner  Spawner
	// Members is optional; without it /roster shows user ids.
	Members kit.MemberResolver
	// Runtime is optional; without it /status only counts watches.
	Runtime Runtime
}

type Bot struct {
	d   Deps
	log logx.Logger
	now func() time.Time

	mu   sync.RWMutex
	auto AutoConfig
}

type Option func(*Bot)

func WithClock(now func() time.Time) Option {
	return func(b *Bot) {
		if now != nil {
			b.now = now
		}
	}
}

func New(d Deps, log logx.Logger, opts ...Option) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		d:   d,
		log: log.With(logx.String("comp", "contestbot")),
		now: time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetAuto replaces the auto-watch settings; used on config reload.
func (b *Bot) SetAuto(cfg AutoConfig) {
	b.mu.Lock()
	b.auto = cfg
	b.mu.Unlock()
}

func (b *Bot) autoConfig() AutoConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.auto
}

// StartWatch runs a watch of contestID into audience on its own supervised
// goroutine and records the outcome. It returns immediately.
func (b *Bot) StartWatch(contestID int64, audience kit.ChatTarget, actorID int64, trigger string) {
	name := "watch." + strconv.FormatInt(contestID, 10)
	b.d.Spawner.Go(name, func(ctx context.Context) error {
		started := b.now()
		out := b.d.Watcher.Watch(ctx, contestID, audience)
		b.audit(ctx, storage.AuditEntry{
			ActorID:  actorID,
			ChatID:   audience.ChatID,
			Action:   "watch",
			Target:   strconv.FormatInt(contestID, 10),
			Outcome:  out.String(),
			TookMS:   b.now().Sub(started).Milliseconds(),
			MetaJSON: `{"trigger":` + strconv.Quote(trigger) + `}`,
		})
		return nil
	})
}

// audit appends e; failures are logged. It outlives ctx cancellation so a
// watch interrupted by shutdown is still recorded.
func (b *Bot) audit(ctx context.Context, e storage.AuditEntry) {
	if b.d.Store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = b.now()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.d.Store.AppendAudit(actx, e); err != nil {
		b.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
