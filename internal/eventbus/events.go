package eventbus

// Event types published by the bot.
const (
	WatchStarted  = "watch.started"
	WatchPhase    = "watch.phase"
	WatchEvent    = "watch.event"
	WatchFinished = "watch.finished"

	NotifierSent   = "notifier.sent"
	NotifierFailed = "notifier.failed"

	ConfigReloaded = "config.reloaded"
)

// WatchData is the payload of every watch.* event.
type WatchData struct {
	RunID     string `json:"run_id"`
	ContestID int64  `json:"contest_id"`
	ChatID    int64  `json:"chat_id"`
	Phase     string `json:"phase,omitempty"`
	Handle    string `json:"handle,omitempty"`
	Problem   string `json:"problem,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// DeliveryData is the payload of notifier.* events.
type DeliveryData struct {
	ChatID   int64  `json:"chat_id"`
	Attempts int    `json:"attempts"`
	Err      string `json:"err,omitempty"`
}
