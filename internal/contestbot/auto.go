package contestbot

import (
	"context"
	"fmt"

	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

// AutoWatch starts a watch for every contest that begins within the
// configured horizon. It is the body of the auto-watch cron job; contests
// already held by the guard are skipped, and the guard catches any race.
func (b *Bot) AutoWatch(ctx context.Context) error {
	cfg := b.autoConfig()
	if !cfg.Enabled || cfg.Target.ChatID == 0 {
		return nil
	}
	list, err := b.d.Contests.Upcoming(ctx, cfg.Horizon)
	if err != nil {
		return fmt.Errorf("auto-watch: %w", err)
	}
	guard := b.d.Watcher.Guard()
	started := 0
	for _, m := range list {
		if guard.Held(m.ID) {
			continue
		}
		b.log.Info("auto-watch starting", logx.Int64("contest_id", m.ID), logx.String("name", m.Name))
		b.StartWatch(m.ID, cfg.Target, 0, "auto")
		started++
	}
	b.log.Debug("auto-watch pass done", logx.Int("upcoming", len(list)), logx.Int("started", started))
	return nil
}
