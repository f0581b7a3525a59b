package notifier

import "time"

// Config controls delivery.
type Config struct {
	Enabled       bool
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	HistorySize   int
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}
