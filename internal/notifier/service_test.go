package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/natsukagami/youmubot-sub000/internal/eventbus"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	opts  []*kit.SendOptions
	calls int
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("flood")
	}
	f.sent = append(f.sent, text)
	f.opts = append(f.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func fastConfig() Config {
	return Config{
		Enabled:       true,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		HistorySize:   2,
	}
}

func TestDeliverOrderAndHistory(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(fastConfig(), fs, logx.Nop(), nil)

	ctx := context.Background()
	for _, txt := range []string{"a", "b", "c"} {
		opt := &kit.SendOptions{Silent: txt == "b"}
		if err := s.Deliver(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: 5}, Text: txt, Options: opt}); err != nil {
			t.Fatalf("deliver %s: %v", txt, err)
		}
	}
	if got := fs.sent; len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("sent=%v", got)
	}
	if !fs.opts[1].Silent {
		t.Fatalf("options not passed through")
	}
	h := s.Snapshot()
	if len(h) != 2 || h[0].Text != "b" || h[1].Text != "c" || h[1].ChatID != 5 {
		t.Fatalf("history=%+v", h)
	}
}

func TestDeliverRetries(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	fs := &fakeSender{fails: 2}
	s := New(fastConfig(), fs, logx.Nop(), bus)
	if err := s.Deliver(context.Background(), kit.Notification{Text: "x"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fs.calls != 3 {
		t.Fatalf("calls=%d, want 3", fs.calls)
	}
	ev := <-ch
	d, ok := ev.Data.(eventbus.DeliveryData)
	if ev.Type != eventbus.NotifierSent || !ok || d.Attempts != 3 {
		t.Fatalf("event=%+v", ev)
	}
}

func TestDeliverGivesUp(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	fs := &fakeSender{fails: 10}
	s := New(fastConfig(), fs, logx.Nop(), bus)
	err := s.Deliver(context.Background(), kit.Notification{Text: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if fs.calls != 3 {
		t.Fatalf("calls=%d, want 3", fs.calls)
	}
	ev := <-ch
	if ev.Type != eventbus.NotifierFailed {
		t.Fatalf("event=%+v", ev)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("failed send recorded in history")
	}
}

func TestDeliverDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	if err := s.Deliver(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v, want ErrDisabled", err)
	}
	s.Apply(fastConfig())
	if !s.Enabled() {
		t.Fatalf("Apply did not enable")
	}
	s2 := New(fastConfig(), nil, logx.Nop(), nil)
	if err := s2.Deliver(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err=%v, want ErrNoSender", err)
	}
}

func TestDeliverCanceled(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.RetryBase = time.Hour
	cfg.RetryMaxDelay = time.Hour
	s := New(cfg, &fakeSender{fails: 10}, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Deliver(ctx, kit.Notification{Text: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter window", d)
	}
}

func TestPriorityPrefix(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(fastConfig(), fs, logx.Nop(), nil)
	_ = s.Deliver(context.Background(), kit.Notification{Priority: 9, Text: "down"})
	if fs.sent[0] != "🚨 down" {
		t.Fatalf("got %q", fs.sent[0])
	}
}
