package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/natsukagami/youmubot-sub000/internal/codeforces"
	"github.com/natsukagami/youmubot-sub000/internal/config"
	"github.com/natsukagami/youmubot-sub000/internal/contestbot"
	"github.com/natsukagami/youmubot-sub000/internal/notifier"
	"github.com/natsukagami/youmubot-sub000/internal/storage"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	"github.com/natsukagami/youmubot-sub000/internal/watch"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

const (
	defaultAutoSchedule = "*/15 * * * *"
	defaultAutoHorizon  = time.Hour
	defaultListTTL      = 10 * time.Minute
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	case "memory":
		return storage.Config{Driver: "memory"}, true, nil
	case "file":
		if path == "" {
			path = "./data/youmubot"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier()
	if cfg != nil && cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.HistorySize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		HistorySize:   nc.HistorySize,
	}, nil
}

// mapCodeforcesConfig returns the client config and the contest list cache TTL.
func mapCodeforcesConfig(cfg *config.Config) (codeforces.Config, time.Duration, error) {
	cc := cfg.Codeforces
	minInterval, err := config.ParseDurationOrDefault("codeforces.min_interval", cc.MinInterval, 2*time.Second)
	if err != nil {
		return codeforces.Config{}, 0, err
	}
	timeout, err := config.ParseDurationOrDefault("codeforces.timeout", cc.Timeout, 15*time.Second)
	if err != nil {
		return codeforces.Config{}, 0, err
	}
	ttl, err := config.ParseDurationOrDefault("codeforces.contest_list_ttl", cc.ContestListTTL, defaultListTTL)
	if err != nil {
		return codeforces.Config{}, 0, err
	}
	retries := cc.RetryMax
	if retries == 0 {
		retries = 3
	}
	return codeforces.Config{
		BaseURL:     strings.TrimSpace(cc.BaseURL),
		MinInterval: minInterval,
		Timeout:     timeout,
		RetryMax:    retries,
	}, ttl, nil
}

func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	def := watch.DefaultConfig()
	wc := cfg.Watch
	poll, err := config.ParseDurationOrDefault("watch.poll_interval", wc.PollInterval, def.PollInterval)
	if err != nil {
		return watch.Config{}, err
	}
	// An explicit "0s" grace is allowed, so only an empty value falls back.
	grace := def.StartGrace
	if strings.TrimSpace(wc.StartGrace) != "" {
		if grace, err = config.ParseDurationField("watch.start_grace", wc.StartGrace); err != nil {
			return watch.Config{}, err
		}
	}
	retries := wc.StartupRetries
	if retries == 0 {
		retries = def.StartupRetries
	}
	return watch.Config{PollInterval: poll, StartGrace: grace, StartupRetries: retries}, nil
}

// mapAutoConfig returns the auto-watch settings and the cron schedule that
// triggers them.
func mapAutoConfig(cfg *config.Config) (contestbot.AutoConfig, string, error) {
	ac := cfg.Watch.Auto
	horizon, err := config.ParseDurationOrDefault("watch.auto.horizon", ac.Horizon, defaultAutoHorizon)
	if err != nil {
		return contestbot.AutoConfig{}, "", err
	}
	schedule := strings.TrimSpace(ac.Schedule)
	if schedule == "" {
		schedule = defaultAutoSchedule
	}
	return contestbot.AutoConfig{
		Enabled: ac.Enabled,
		Horizon: horizon,
		Target:  kit.ChatTarget{ChatID: ac.ChatID, ThreadID: ac.ThreadID},
	}, schedule, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}
