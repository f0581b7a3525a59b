package contestbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/natsukagami/youmubot-sub000/internal/codeforces"
	"github.com/natsukagami/youmubot-sub000/internal/storage"
	"github.com/natsukagami/youmubot-sub000/internal/transport/telegram/router"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
	"github.com/natsukagami/youmubot-sub000/pkg/tgui"
)

const (
	defaultContestsHorizon = 48 * time.Hour
	maxContestsHorizon     = 30 * 24 * time.Hour
)

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "register",
			Description: "link your Codeforces handle in this chat",
			Usage:       "/register <handle>",
			Access:      router.AccessGroupOnly,
			Timeout:     45 * time.Second,
			Handle:      b.handleRegister,
		},
		{
			Route:       "unregister",
			Description: "remove your Codeforces handle from this chat",
			Usage:       "/unregister",
			Access:      router.AccessGroupOnly,
			Handle:      b.handleUnregister,
		},
		{
			Route:       "roster",
			Aliases:     []string{"handles"},
			Description: "list the handles registered in this chat",
			Usage:       "/roster",
			Access:      router.AccessGroupOnly,
			Handle:      b.handleRoster,
		},
		{
			Route:       "watch",
			Description: "narrate a contest into this chat",
			Usage:       "/watch <contest_id>",
			Access:      router.AccessOwnerOnly,
			Handle:      b.handleWatch,
		},
		{
			Route:       "watching",
			Description: "list contests being watched",
			Usage:       "/watching",
			Handle:      b.handleWatching,
		},
		{
			Route:       "status",
			Description: "watch and delivery status",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle:      b.handleStatus,
		},
		{
			Route:       "contests",
			Aliases:     []string{"upcoming"},
			Description: "upcoming Codeforces contests",
			Usage:       "/contests [--horizon=48h]",
			Timeout:     45 * time.Second,
			Handle:      b.handleContests,
		},
	}
}

func (b *Bot) handleRegister(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return router.Userf("Usage: /register <handle>")
	}
	u, err := b.d.Contests.ResolveHandle(ctx, req.Args[0])
	if errors.Is(err, codeforces.ErrHandleNotFound) {
		return router.Userf("Codeforces has no user named %q.", req.Args[0])
	}
	if err != nil {
		return fmt.Errorf("resolve handle: %w", err)
	}

	prev, err := b.d.Store.GetMember(ctx, req.Chat.ChatID, req.FromID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		prev = storage.Member{}
	case err != nil:
		return fmt.Errorf("get member: %w", err)
	}

	m := storage.Member{ChatID: req.Chat.ChatID, UserID: req.FromID, Handle: u.Handle, RegisteredAt: b.now()}
	if err := b.d.Store.PutMember(ctx, m); err != nil {
		return fmt.Errorf("put member: %w", err)
	}
	b.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: "register", Target: u.Handle, Outcome: "ok"})
	req.Logger.Info("handle registered", logx.String("handle", u.Handle))

	bl := tgui.New()
	if prev.Handle != "" && !strings.EqualFold(prev.Handle, u.Handle) {
		bl.HTML(tgui.Sprintf("✅ Switched from %s to %s.", tgui.Code(prev.Handle), profileLink(u.Handle)))
	} else {
		bl.HTML(tgui.Sprintf("✅ Registered as %s.", profileLink(u.Handle)))
	}
	if u.Rank != "" {
		bl.KV("Rank", fmt.Sprintf("%s (%d, max %d)", u.Rank, u.Rating, u.MaxRating))
	}
	_, err = bl.Build().Send(ctx, req.Sender, req.Chat)
	return err
}

func (b *Bot) handleUnregister(ctx context.Context, req *router.Request) error {
	m, err := b.d.Store.GetMember(ctx, req.Chat.ChatID, req.FromID)
	if errors.Is(err, storage.ErrNotFound) {
		return router.Userf("You have no handle registered in this chat.")
	}
	if err != nil {
		return fmt.Errorf("get member: %w", err)
	}
	if err := b.d.Store.DeleteMember(ctx, req.Chat.ChatID, req.FromID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete member: %w", err)
	}
	b.audit(ctx, storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: "unregister", Target: m.Handle, Outcome: "ok"})
	return req.ReplyHTML(ctx, tgui.Sprintf("👋 Unlinked %s.", tgui.Code(m.Handle)).String())
}

func (b *Bot) handleRoster(ctx context.Context, req *router.Request) error {
	ms, err := b.d.Store.ListMembers(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	if len(ms) == 0 {
		return router.Userf("Nobody has registered here yet. Use /register <handle>.")
	}

	bl := tgui.New().Title("👥", fmt.Sprintf("Registered handles (%d)", len(ms)))
	now := b.now()
	for _, m := range ms {
		name := "user " + strconv.FormatInt(m.UserID, 10)
		if b.d.Members != nil {
			if mem, err := b.d.Members.ResolveMember(ctx, req.Chat.ChatID, m.UserID); err == nil && mem.DisplayName != "" {
				name = mem.DisplayName
			}
		}
		bl.HTML(tgui.Sprintf("• %s: %s, %s", tgui.B(name), profileLink(m.Handle), humanize.RelTime(m.RegisteredAt, now, "ago", "from now")))
	}
	_, err = bl.Build().Send(ctx, req.Sender, req.Chat)
	return err
}

func (b *Bot) handleWatch(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return router.Userf("Usage: /watch <contest_id>")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(req.Args[0]), 10, 64)
	if err != nil || id <= 0 {
		return router.Userf("%q is not a contest id.", req.Args[0])
	}
	if b.d.Watcher.Guard().Held(id) {
		return req.ReplyHTML(ctx, tgui.Sprintf("👀 Contest %s is already being watched.", tgui.Code(req.Args[0])).String())
	}
	b.StartWatch(id, req.Chat, req.FromID, "command")
	return nil
}

func (b *Bot) handleWatching(ctx context.Context, req *router.Request) error {
	ids := b.d.Watcher.Guard().Active()
	if len(ids) == 0 {
		return req.Reply(ctx, "No contests are being watched.", nil)
	}
	bl := tgui.New().Title("👀", "Watching")
	for _, id := range ids {
		s := strconv.FormatInt(id, 10)
		bl.HTML("• " + tgui.Link(s, contestURL(id)))
	}
	_, err := bl.Build().Send(ctx, req.Sender, req.Chat)
	return err
}

func (b *Bot) handleStatus(ctx context.Context, req *router.Request) error {
	now := b.now()
	rel := func(t time.Time) string { return humanize.RelTime(t, now, "ago", "from now") }

	bl := tgui.New().Title("📊", "Status")
	bl.KV("Watching", strconv.Itoa(len(b.d.Watcher.Guard().Active())))
	auto := "off"
	if b.autoConfig().Enabled {
		auto = "on"
		if b.d.Runtime != nil {
			if next := b.d.Runtime.NextAutoWatch(); !next.IsZero() {
				auto = "next run " + rel(next)
			}
		}
	}
	bl.KV("Auto-watch", auto)
	if b.d.Runtime != nil {
		last := "none yet"
		if t := b.d.Runtime.LastDelivery(); !t.IsZero() {
			last = rel(t)
		}
		bl.KV("Last delivery", last)
	}
	_, err := bl.Build().Send(ctx, req.Sender, req.Chat)
	return err
}

func (b *Bot) handleContests(ctx context.Context, req *router.Request) error {
	horizon := defaultContestsHorizon
	if v, ok := req.Flags["horizon"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return router.Userf("Invalid --horizon %q, want a duration like 48h.", v)
		}
		horizon = min(d, maxContestsHorizon)
	}

	list, err := b.d.Contests.Upcoming(ctx, horizon)
	if err != nil {
		return fmt.Errorf("upcoming contests: %w", err)
	}
	if len(list) == 0 {
		return req.Reply(ctx, "No contests start within "+horizon.String()+".", nil)
	}

	bl := tgui.New().Title("📅", "Upcoming contests")
	now := b.now()
	for _, m := range list {
		when := "at an unknown time"
		if m.StartTime != nil {
			when = humanize.RelTime(*m.StartTime, now, "ago", "from now") + " (" + m.StartTime.UTC().Format("Jan 2 15:04") + " UTC)"
		}
		bl.HTML(tgui.Sprintf("• %s %s, %s, %s",
			tgui.Link(m.Name, contestURL(m.ID)), tgui.Code(strconv.FormatInt(m.ID, 10)), when, formatLength(m.Duration)))
	}
	_, err = bl.Build().Send(ctx, req.Sender, req.Chat)
	return err
}

func profileLink(handle string) tgui.H {
	return tgui.Link(handle, "https://codeforces.com/profile/"+handle)
}

func formatLength(d time.Duration) string {
	if d <= 0 {
		return "length unknown"
	}
	h, m := int(d.Hours()), int(d.Minutes())%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
