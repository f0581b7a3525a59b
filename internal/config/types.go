package config

// Config is the root of the bot configuration file (JSON or YAML).
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Codeforces CodeforcesConfig `json:"codeforces"`
	Watch      WatchConfig      `json:"watch"`

	// Scheduler controls cron triggers (auto-watch).
	Scheduler SchedulerConfig `json:"scheduler"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CodeforcesConfig controls the Codeforces API client.
//
// Defaults (when fields are omitted/zero):
//   - base_url: "https://codeforces.com/api"
//   - min_interval: "2s" (the API asks for at most one call per 2 seconds)
//   - timeout: "15s"
//   - retry_max: 3
//   - contest_list_ttl: "10m"
type CodeforcesConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	MinInterval    string `json:"min_interval,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	ContestListTTL string `json:"contest_list_ttl,omitempty"`
}

// WatchConfig controls contest watches.
//
// Changes apply to watches started after the reload; running watches keep
// the settings they were started with.
//
// Defaults:
//   - poll_interval: "60s"
//   - start_grace: "30s"
//   - startup_retries: 3
type WatchConfig struct {
	PollInterval   string          `json:"poll_interval,omitempty"`
	StartGrace     string          `json:"start_grace,omitempty"`
	StartupRetries int             `json:"startup_retries,omitempty"`
	Auto           AutoWatchConfig `json:"auto"`
}

// AutoWatchConfig starts watches for upcoming contests on a schedule.
//
// Example:
//
//	"auto": { "enabled": true, "schedule": "*/15 * * * *", "horizon": "1h", "chat_id": -100123 }
type AutoWatchConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression (seconds optional) or "@every <dur>".
	Schedule string `json:"schedule,omitempty"`
	// Horizon is how far ahead a contest may start to be picked up.
	Horizon  string `json:"horizon,omitempty"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// SchedulerConfig controls the cron trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls chat delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// StorageConfig controls the persistence layer for registrations.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./youmu.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
