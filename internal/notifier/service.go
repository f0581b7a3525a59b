package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/natsukagami/youmubot-sub000/internal/eventbus"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled = errors.New("notifier disabled")
	ErrNoSender = errors.New("notifier has no sender")
)

const sendTimeout = 10 * time.Second

// Sender is the part of the chat adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service delivers notifications with a shared rate limit and retries.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Deliver sends n and blocks until it was accepted or retries ran out.
// The returned error is the last send error.
func (s *Service) Deliver(ctx context.Context, n kit.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// config snapshot for this send
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if sender == nil {
		return ErrNoSender
	}

	text := prefixForPriority(n.Priority) + n.Text
	if text == "" {
		return nil
	}

	maxAttempts := 1 + cfg.RetryMax

	var (
		lastErr  error
		attempts int
	)
send:
	for attempts < maxAttempts {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := sender.SendText(callCtx, n.Target, text, n.Options)
		cancel()
		if err == nil {
			s.appendHistory(n.Target.ChatID, text, cfg.HistorySize)
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifierSent, Time: time.Now(), Data: eventbus.DeliveryData{ChatID: n.Target.ChatID, Attempts: attempts}})
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Any("err", err), logx.Int("attempt", attempts), logx.Int("max", maxAttempts))

		if attempts >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempts)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break send
		}
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierFailed, Time: time.Now(), Data: eventbus.DeliveryData{ChatID: n.Target.ChatID, Attempts: attempts, Err: lastErr.Error()}})
	return lastErr
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(chatID int64, text string, max int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	default:
		return ""
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
