package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks structural constraints that do not need other packages:
// duration fields parse, counts are non-negative, required ids are present.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	nonNeg := func(path string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s: must be >= 0", path))
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	dur("codeforces.min_interval", cfg.Codeforces.MinInterval)
	dur("codeforces.timeout", cfg.Codeforces.Timeout)
	dur("codeforces.contest_list_ttl", cfg.Codeforces.ContestListTTL)
	nonNeg("codeforces.retry_max", cfg.Codeforces.RetryMax)
	if u := strings.TrimSpace(cfg.Codeforces.BaseURL); u != "" &&
		!strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Errorf("codeforces.base_url: must be an http(s) URL"))
	}

	dur("watch.poll_interval", cfg.Watch.PollInterval)
	dur("watch.start_grace", cfg.Watch.StartGrace)
	nonNeg("watch.startup_retries", cfg.Watch.StartupRetries)
	if cfg.Watch.Auto.Enabled {
		dur("watch.auto.horizon", cfg.Watch.Auto.Horizon)
		if cfg.Watch.Auto.ChatID == 0 {
			errs = append(errs, errors.New("watch.auto.chat_id: required when auto-watch is enabled"))
		}
		if strings.TrimSpace(cfg.Watch.Auto.Schedule) == "" {
			errs = append(errs, errors.New("watch.auto.schedule: required when auto-watch is enabled"))
		}
	}

	if n := cfg.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		nonNeg("notifier.rate_per_sec", n.RatePerSec)
		nonNeg("notifier.retry_max", n.RetryMax)
		nonNeg("notifier.history_size", n.HistorySize)
	}
	if s := cfg.Storage; s != nil {
		dur("storage.busy_timeout", s.BusyTimeout)
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite", "sqlite3", "memory":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}
	return errors.Join(errs...)
}
