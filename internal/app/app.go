// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, the command router, the Codeforces client and the
// watcher, plus hot reload and ordered shutdown.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/natsukagami/youmubot-sub000/internal/codeforces"
	"github.com/natsukagami/youmubot-sub000/internal/config"
	"github.com/natsukagami/youmubot-sub000/internal/contestbot"
	"github.com/natsukagami/youmubot-sub000/internal/eventbus"
	"github.com/natsukagami/youmubot-sub000/internal/notifier"
	"github.com/natsukagami/youmubot-sub000/internal/runtime/supervisor"
	"github.com/natsukagami/youmubot-sub000/internal/storage"
	"github.com/natsukagami/youmubot-sub000/internal/task/scheduler"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	telegram "github.com/natsukagami/youmubot-sub000/internal/transport/telegram/adapter"
	"github.com/natsukagami/youmubot-sub000/internal/transport/telegram/router"
	"github.com/natsukagami/youmubot-sub000/internal/watch"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
	"github.com/natsukagami/youmubot-sub000/pkg/systemd"
)

const autoWatchJob = "watch.auto"

type App struct {
	cfgm *config.ConfigManager

	// sup runs the app loops and cancels everything on a fatal error.
	// watches runs contest watches; a failing watch never stops the app.
	sup     *supervisor.Supervisor
	watches *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *systemd.Notifier

	adapter *telegram.Adapter
	cf      *codeforces.Client
	watcher *watch.Watcher
	bot     *contestbot.Bot
	sched   *scheduler.Service
	notif   *notifier.Service
	cmdm    *router.CommandManager

	updates chan kit.Update

	// watching counts running watches from bus events; owned by the
	// eventbus.log goroutine.
	watching int
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off: Apply() warns when it is enabled
	// without a target, so set the target first.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	setLogTarget(logSvc, cfg)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	var store storage.Store
	if enabled {
		if store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		store = storage.NewMemory()
		log.Warn("storage disabled; registrations are kept in memory and lost on restart")
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)

	cfCfg, listTTL, err := mapCodeforcesConfig(cfg)
	if err != nil {
		return nil, err
	}
	cf := codeforces.New(cfCfg, log)
	src := codeforces.NewSource(cf, listTTL)

	wcfg, err := mapWatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	watcher := watch.New(watch.NewGuard(), contestbot.WatchDeps(src, store, ad, notifSvc), wcfg,
		watch.WithLogger(log.With(logx.String("comp", "watch"))),
		watch.WithBus(bus),
	)

	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled || cfg.Watch.Auto.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sd:      systemd.NewNotifier(log),
		adapter: ad,
		cf:      cf,
		watcher: watcher,
		sched:   schedSvc,
		notif:   notifSvc,
		cmdm:    router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs),
		updates: make(chan kit.Update, 256),
	}
	a.bot = contestbot.New(contestbot.Deps{
		Store:    store,
		Contests: src,
		Watcher:  watcher,
		Spawner:  watchSpawner{a},
		Members:  ad,
		Runtime:  runtimeInfo{a},
	}, log)
	if err := a.applyAuto(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// runtimeInfo feeds /status from the scheduler and the notifier history.
type runtimeInfo struct{ a *App }

func (r runtimeInfo) NextAutoWatch() time.Time {
	for _, s := range r.a.sched.Snapshot().Schedules {
		if s.Name == autoWatchJob {
			return s.Next
		}
	}
	return time.Time{}
}

func (r runtimeInfo) LastDelivery() time.Time {
	h := r.a.notif.Snapshot()
	if len(h) == 0 {
		return time.Time{}
	}
	return h[len(h)-1].At
}

// watchSpawner defers to the watch supervisor, which only exists after Start.
type watchSpawner struct{ a *App }

func (s watchSpawner) Go(name string, fn func(ctx context.Context) error) {
	if s.a.watches == nil {
		s.a.log.Warn("watch requested before start", logx.String("name", name))
		return
	}
	s.a.watches.Go(name, fn)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.watches = supervisor.NewSupervisor(a.sup.Context(),
		supervisor.WithLogger(a.log.With(logx.String("comp", "watches"))),
		supervisor.WithCancelOnError(false),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	cmds := a.bot.Commands()
	menu := a.cmdm.SetRegistry(a.sup.Context(), cmds)
	a.log.Info("commands registered", logx.Int("commands", len(cmds)), logx.Int("menu", len(menu)))

	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				newCfg = latest(sub, newCfg)
				a.reload(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", a.sd.RunWatchdog)

	a.sd.Ready()
	a.sd.Status(watchStatus(0))
	a.log.Info("app started")
	return nil
}

// latest drains queued configs so a burst of saves is applied once.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.WatchData:
		fields := []logx.Field{
			logx.String("type", e.Type),
			logx.String("run", d.RunID),
			logx.Int64("contest_id", d.ContestID),
		}
		switch e.Type {
		case eventbus.WatchStarted:
			a.watching++
			a.sd.Status(watchStatus(a.watching))
		case eventbus.WatchFinished:
			a.watching = max(a.watching-1, 0)
			a.sd.Status(watchStatus(a.watching))
			a.log.Info("event", append(fields, logx.String("outcome", d.Outcome))...)
			return
		}
		a.log.Debug("event", fields...)
	case eventbus.DeliveryData:
		if e.Type == eventbus.NotifierFailed {
			a.log.Warn("event", logx.String("type", e.Type), logx.Int64("chat_id", d.ChatID), logx.Int("attempts", d.Attempts), logx.String("err", d.Err))
			return
		}
		a.log.Debug("event", logx.String("type", e.Type), logx.Int64("chat_id", d.ChatID))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// watchStatus is the systemd status line.
func watchStatus(n int) string {
	switch n {
	case 0:
		return "idle"
	case 1:
		return "watching 1 contest"
	}
	return fmt.Sprintf("watching %d contests", n)
}

// reload applies a validated config. Storage and the bot token need a restart.
func (a *App) reload(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.sd.Reloading()
	defer a.sd.Ready()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	setLogTarget(a.logs, newCfg)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if cfCfg, _, err := mapCodeforcesConfig(newCfg); err != nil {
		a.log.Warn("invalid codeforces config; keeping previous", logx.Err(err))
	} else {
		a.cf.Apply(cfCfg)
	}

	if wcfg, err := mapWatchConfig(newCfg); err != nil {
		a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
	} else {
		a.watcher.Apply(wcfg)
	}

	a.sched.Apply(scheduler.Config{
		Enabled:  newCfg.Scheduler.Enabled || newCfg.Watch.Auto.Enabled,
		Timezone: newCfg.Scheduler.Timezone,
	})
	if err := a.applyAuto(newCfg); err != nil {
		a.log.Warn("invalid auto-watch config; keeping previous", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

// applyAuto installs or removes the auto-watch schedule.
func (a *App) applyAuto(cfg *config.Config) error {
	auto, schedule, err := mapAutoConfig(cfg)
	if err != nil {
		return err
	}
	if !auto.Enabled {
		a.bot.SetAuto(auto)
		a.sched.Remove(autoWatchJob)
		return nil
	}
	if err := a.sched.AddSchedule(autoWatchJob, schedule, 2*time.Minute, a.bot.AutoWatch); err != nil {
		return err
	}
	a.bot.SetAuto(auto)
	return nil
}

// validateAutoSchedule rejects schedules that can leave a gap longer than
// the horizon: a contest starting inside that gap would never be picked up.
func validateAutoSchedule(schedule string, horizon time.Duration) error {
	sched, err := scheduler.ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("watch.auto.schedule: %w", err)
	}
	if gap := scheduler.MaxGap(sched, time.Now(), 8*24*time.Hour); gap > horizon {
		return fmt.Errorf("watch.auto.schedule: runs up to %s apart, longer than watch.auto.horizon %s", gap, horizon)
	}
	return nil
}

func setLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

// validate runs the checks that need other packages' parsers, on top of
// config.Validate which the manager already ran.
func validate(cfg *config.Config) error {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if auto, schedule, err := mapAutoConfig(cfg); err != nil {
		return err
	} else if auto.Enabled {
		if err := validateAutoSchedule(schedule, auto.Horizon); err != nil {
			return err
		}
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapCodeforcesConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWatchConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context first so watches and loops start unwinding.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Interrupted watches still write their audit entry, so wait for them
	// before the store closes.
	a.step(ctx, "watches", 3*time.Second, func(c context.Context) error { return a.watches.Wait(c) })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step with an upper bound so one component cannot
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it does not, report when it finally returns.
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
