package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

type recSender struct {
	mu   sync.Mutex
	msgs []string
	menu []kit.BotCommand
}

func (r *recSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (r *recSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	r.menu = cmds
	return nil
}

func (r *recSender) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.msgs) >= n {
			out := append([]string(nil), r.msgs...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{`/watch 1900`, []string{"/watch", "1900"}},
		{`/register "my handle" --force`, []string{"/register", "my handle", "--force"}},
		{`/x a\ b 'c d'`, []string{"/x", "a b", "c d"}},
		{"   ", nil},
	}
	for _, tc := range cases {
		if got := tokenizeCommandLine(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"1900", "--horizon=48h", "-5", "--gym", "-v", "x", "-ab"})
	if !reflect.DeepEqual(pos, []string{"1900", "-5"}) {
		t.Fatalf("pos=%q", pos)
	}
	if flags["horizon"] != "48h" || flags["v"] != "x" {
		t.Fatalf("flags=%v", flags)
	}
	if !bools["gym"] || !bools["a"] || !bools["b"] {
		t.Fatalf("bools=%v", bools)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"watch":          "watch",
		"Watch Stop":     "watch_stop",
		"cf-upcoming":    "cf_upcoming",
		"__x__":          "x",
		"9lives":         "cmd_9lives",
		"!!!":            "",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q)=%q, want %q", in, got, want)
		}
	}
}

func newTestManager(t *testing.T, cmds []Command) (*CommandManager, *recSender, chan kit.Update) {
	t.Helper()
	rs := &recSender{}
	m := NewCommandManager(logx.Nop(), rs, []int64{1})
	m.SetRegistry(context.Background(), cmds)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, rs, updates
}

func msg(from int64, group bool, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, FromID: from, IsGroup: group, Text: text}}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	var gotArgs []string
	var gotFlags map[string]string
	cmds := []Command{
		{Route: "watch", Description: "Watch a contest", Handle: func(ctx context.Context, req *Request) error {
			gotArgs, gotFlags = req.Args, req.Flags
			return req.Reply(ctx, "watching", nil)
		}},
		{Route: "watch stop", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "stopped", nil)
		}},
		{Route: "register", Aliases: []string{"reg"}, Access: AccessGroupOnly, Handle: func(ctx context.Context, req *Request) error {
			return Userf("handle %q not found", req.Args[0])
		}},
		{Route: "boom", Handle: func(context.Context, *Request) error { panic("x") }},
		{Route: "fail", Handle: func(context.Context, *Request) error { return errors.New("db down") }},
	}
	_, rs, updates := newTestManager(t, cmds)

	steps := []struct {
		up   kit.Update
		want string
	}{
		{msg(2, true, "/watch@youmubot 1900 --chat=5"), "watching"},
		{msg(2, true, "/watch stop"), "This command is for bot owners only."},
		{msg(1, true, "/watch_stop"), "stopped"},
		{msg(2, false, "/reg tourist"), "This command only works in groups."},
		{msg(2, true, "/reg nobody"), `handle "nobody" not found`},
		{msg(2, true, "/boom"), "Something went wrong, please try again later."},
		{msg(2, true, "/fail"), "Something went wrong, please try again later."},
		{msg(2, false, "/nope"), "Unknown command. Try /help"},
	}
	for i, st := range steps {
		updates <- st.up
		got := rs.waitFor(t, i+1)
		if got[i] != st.want {
			t.Fatalf("step %d: got %q, want %q", i, got[i], st.want)
		}
	}
	if !reflect.DeepEqual(gotArgs, []string{"1900"}) || gotFlags["chat"] != "5" {
		t.Fatalf("args=%q flags=%v", gotArgs, gotFlags)
	}

	// Unknown commands in groups are ignored; a plain message is too.
	updates <- msg(2, true, "/nope")
	updates <- msg(2, true, "hello")
	updates <- msg(2, true, "/help")
	got := rs.waitFor(t, len(steps)+1)
	if !strings.Contains(got[len(steps)], "<b>Commands</b>") {
		t.Fatalf("expected help, got %q", got[len(steps)])
	}
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Request) error { return nil }
	rs := &recSender{}
	m := NewCommandManager(logx.Nop(), rs, nil)
	menu := m.SetRegistry(context.Background(), []Command{
		{Route: "watch", Description: "Watch a contest", Usage: "/watch <id>", Handle: noop},
		{Route: "watch stop", Description: "Stop watching", Access: AccessOwnerOnly, Handle: noop},
		{Route: "roster", Aliases: []string{"ranks"}, Description: "Registered handles", Handle: noop},
	})
	if !reflect.DeepEqual(rs.menu, menu) {
		t.Fatalf("menu not pushed")
	}
	var names []string
	for _, c := range menu {
		names = append(names, c.Command)
	}
	if !reflect.DeepEqual(names, []string{"help", "roster", "watch", "watch_stop"}) {
		t.Fatalf("menu=%q", names)
	}

	top := m.helpText(nil)
	for _, want := range []string{"<code>/watch</code> - Watch a contest", "<code>/roster</code>"} {
		if !strings.Contains(top, want) {
			t.Fatalf("top help missing %q:\n%s", want, top)
		}
	}

	node := m.helpText([]string{"watch"})
	for _, want := range []string{"<code>/watch &lt;id&gt;</code>", "<code>/watch stop</code> - Stop watching"} {
		if !strings.Contains(node, want) {
			t.Fatalf("node help missing %q:\n%s", want, node)
		}
	}
	if alias := m.helpText([]string{"ranks"}); !strings.Contains(alias, "/roster") {
		t.Fatalf("alias help: %s", alias)
	}
	if unk := m.helpText([]string{"zzz"}); !strings.Contains(unk, "Unknown command") {
		t.Fatalf("unknown help: %s", unk)
	}
}
