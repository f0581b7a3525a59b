// Package router turns incoming chat messages into command invocations.
//
// Commands live in a token tree ("watch", "watch stop"), may carry root-level
// aliases, and run on a bounded worker pool behind a middleware chain.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "github.com/natsukagami/youmubot-sub000/internal/runtime/supervisor"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

const (
	defaultTimeout = 30 * time.Second
	jobQueueSize   = 256
)

type CommandManager struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	owners atomic.Pointer[[]int64]

	log    logx.Logger
	sender Sender
	menu   kit.CommandMenuUpdater // optional

	jobs chan func()
}

// NewCommandManager builds a manager that replies through sender. If sender
// also implements kit.CommandMenuUpdater the platform command menu is kept in
// sync with the registry.
func NewCommandManager(log logx.Logger, sender Sender, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		root:   newRoot(),
		alias:  map[string]*cmdNode{},
		log:    log.With(logx.String("comp", "telegram.router")),
		sender: sender,
		jobs:   make(chan func(), jobQueueSize),
	}
	m.menu, _ = sender.(kit.CommandMenuUpdater)
	m.SetOwners(owners)
	return m
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.owners.Store(&cp)
}

func (m *CommandManager) isOwner(id int64) bool {
	p := m.owners.Load()
	return p != nil && slices.Contains(*p, id)
}

// SetRegistry replaces the command set. /help is always added.
// The returned menu lists what was pushed to the platform (if supported).
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) []kit.BotCommand {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [cmd] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(slices.Clone(cmds), helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	leaves := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		leaves = append(leaves, c)

		// Multi-token routes get a /a_b shortcut for Telegram autocomplete.
		// The canonical single-token name must not be aliased, or
		// "/watch stop" would short-circuit at "watch".
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	menu := buildTelegramMenuCommands(root, leaves)
	if m.menu != nil {
		uctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := m.menu.UpdateMenuCommands(uctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}
	return menu
}

// tryEnqueue hands fn to the worker pool without blocking.
func (m *CommandManager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	// Middleware already recovers handler panics; this keeps the worker alive
	// if the job wrapper itself fails.
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) reply(ctx context.Context, msg *kit.Message, text string, opt *kit.SendOptions) {
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := m.sender.SendText(ctx, to, text, opt); err != nil {
		m.log.Debug("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(ctx, msg, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		// Groups share the command namespace with other bots; stay quiet there.
		if !msg.IsGroup {
			m.reply(ctx, msg, "Unknown command. Try /help", nil)
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		if strings.HasPrefix(args[0], "-") {
			break
		}
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}

	// Container node without handler: show help for that path.
	if cur.cmd == nil {
		m.reply(ctx, msg, m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}
	m.enqueueCommand(ctx, msg, *cur.cmd, path, args)
}

func (m *CommandManager) enqueueCommand(ctx context.Context, msg *kit.Message, cmd Command, path []string, raw []string) {
	owner := m.isOwner(msg.FromID)
	switch {
	case cmd.Access == AccessOwnerOnly && !owner:
		m.reply(ctx, msg, "This command is for bot owners only.", nil)
		return
	case cmd.Access == AccessGroupOnly && !msg.IsGroup:
		m.reply(ctx, msg, "This command only works in groups.", nil)
		return
	}

	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Message:   msg,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:    msg.FromID,
		Path:      path,
		Command:   strings.Join(path, " "),
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Sender:    m.sender,
		Owner:     owner,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWRequestLog(m.log),
		MWReplyError(),
		MWPanicRecover(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.reply(ctx, msg, "Busy, try again in a moment.", nil)
	}
}
