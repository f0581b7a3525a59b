package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

type sent struct {
	to   tele.Recipient
	text string
	opt  *tele.SendOptions
}

type fakeBot struct {
	sent     []sent
	member   *tele.ChatMember
	memErr   error
	commands [][]tele.Command
	handler  tele.HandlerFunc
}

func (f *fakeBot) Handle(_ any, h tele.HandlerFunc, _ ...tele.MiddlewareFunc) { f.handler = h }
func (f *fakeBot) Start()                                                    {}
func (f *fakeBot) Stop()                                                     {}

func (f *fakeBot) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	s := sent{to: to, text: what.(string)}
	if len(opts) > 0 {
		s.opt, _ = opts[0].(*tele.SendOptions)
	}
	f.sent = append(f.sent, s)
	return &tele.Message{ID: len(f.sent)}, nil
}

func (f *fakeBot) ChatMemberOf(_, _ tele.Recipient) (*tele.ChatMember, error) {
	return f.member, f.memErr
}

func (f *fakeBot) SetCommands(opts ...any) error {
	f.commands = append(f.commands, opts[0].([]tele.Command))
	return nil
}

func TestSendTextOptionsAndSplit(t *testing.T) {
	t.Parallel()
	fb := &fakeBot{}
	a := newWithBot(Config{Token: "x"}, fb, logx.Nop())

	long := strings.Repeat("line of text\n", 600)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -100, ThreadID: 7}, long,
		&kit.SendOptions{ParseMode: "HTML", Silent: true, DisablePreview: true})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fb.sent) < 2 {
		t.Fatalf("expected split, got %d messages", len(fb.sent))
	}
	if ref.MessageID != 1 || ref.ThreadID != 7 {
		t.Fatalf("ref=%+v", ref)
	}
	for _, s := range fb.sent {
		if !s.opt.DisableNotification || s.opt.ThreadID != 7 || s.opt.ParseMode != "HTML" {
			t.Fatalf("options not mapped: %+v", s.opt)
		}
		if s.to.Recipient() != "-100" {
			t.Fatalf("recipient=%s", s.to.Recipient())
		}
	}
}

func TestSplitTelegramTextAvoidsTags(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 8) + "<b>bold</b>"
	parts := splitTelegramText(s, 10, "HTML")
	if parts[0] != strings.Repeat("a", 8) {
		t.Fatalf("split inside tag: %q", parts)
	}
	if strings.Join(parts, "") != s {
		t.Fatalf("content lost: %q", parts)
	}
}

func TestResolveMember(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		member  *tele.ChatMember
		err     error
		want    kit.Member
		wantErr error
	}{
		{
			name:   "present",
			member: &tele.ChatMember{Role: tele.Member, User: &tele.User{ID: 5, FirstName: "Ada", LastName: "L", Username: "ada"}},
			want:   kit.Member{UserID: 5, Username: "ada", DisplayName: "Ada L"},
		},
		{
			name:   "left",
			member: &tele.ChatMember{Role: tele.Left, User: &tele.User{ID: 5, Username: "ada"}},
			want:   kit.Member{UserID: 5, Username: "ada", DisplayName: "ada", Left: true},
		},
		{
			name:    "unknown",
			err:     errors.New("telegram: Bad Request: user not found (400)"),
			wantErr: kit.ErrMemberNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBot{member: tc.member, memErr: tc.err}
			a := newWithBot(Config{Token: "x"}, fb, logx.Nop())
			got, err := a.ResolveMember(context.Background(), 1, 5)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got (%+v, %v), want %+v", got, err, tc.want)
			}
		})
	}
}

func TestUpdateMenuCommandsOnlyOnChange(t *testing.T) {
	t.Parallel()
	fb := &fakeBot{}
	a := newWithBot(Config{Token: "x"}, fb, logx.Nop())
	cmds := []kit.BotCommand{{Command: "watch", Description: "Watch a contest"}, {Command: "roster"}}

	for i := 0; i < 2; i++ {
		if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if len(fb.commands) != 1 {
		t.Fatalf("setMyCommands called %d times, want 1", len(fb.commands))
	}
	if got := fb.commands[0][1]; got.Text != "roster" || got.Description != "roster" {
		t.Fatalf("command=%+v", got)
	}
}

func TestMessageFrom(t *testing.T) {
	t.Parallel()
	m := messageFrom(&tele.Message{
		ID:       3,
		ThreadID: 9,
		Text:     "/watch 1900",
		Chat:     &tele.Chat{ID: -5, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, FirstName: "Grace", Username: "gh"},
	})
	if m.ChatID != -5 || m.ThreadID != 9 || m.FromID != 42 || m.FromName != "Grace" || !m.IsGroup {
		t.Fatalf("message=%+v", m)
	}
}
