package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		next time.Time
	}{
		{raw: "*/15 * * * *", next: time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)},
		{raw: "0 30 9 * * *", next: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
		{raw: "@hourly", next: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{raw: " @every 5m ", next: from.Add(5 * time.Minute)},
	}
	for _, tt := range tests {
		sched, err := ParseSchedule(tt.raw)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
		}
		if got := sched.Next(from); !got.Equal(tt.next) {
			t.Fatalf("%q: next=%v want %v", tt.raw, got, tt.next)
		}
	}
	for _, bad := range []string{"", "every tuesday", "61 * * * *", "10m", "@every"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("%q: want error", bad)
		}
	}
}

func TestMaxGap(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "*/15 * * * *", want: 15 * time.Minute},
		{raw: "@every 40m", want: 40 * time.Minute},
		{raw: "0 9,21 * * *", want: 12 * time.Hour},
		{raw: "0 0 * * 1-5", want: 3 * 24 * time.Hour},
		{raw: "* * * * * *", want: time.Second},
	}
	for _, tt := range tests {
		sched, err := ParseSchedule(tt.raw)
		if err != nil {
			t.Fatalf("%q: %v", tt.raw, err)
		}
		if got := MaxGap(sched, from, week); got != tt.want {
			t.Fatalf("%q: gap=%v want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAddScheduleValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.AddSchedule("", "@hourly", 0, noop); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := s.AddSchedule("x", "@hourly", 0, nil); err == nil {
		t.Fatalf("expected error for nil job")
	}
	if err := s.AddSchedule("x", "61 * * * *", 0, noop); err == nil {
		t.Fatalf("expected error for bad cron")
	}
	if err := s.AddSchedule("auto", "0 */6 * * *", time.Minute, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Upsert by name.
	if err := s.AddSchedule("auto", "@every 30m", time.Minute, noop); err != nil {
		t.Fatalf("replace: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 30m" || snap.Running {
		t.Fatalf("snapshot=%+v", snap)
	}
	if !s.Remove("auto") || s.Remove("auto") {
		t.Fatalf("remove semantics")
	}
}

func TestScheduledJobRuns(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		s.Stop(sctx)
	}()

	ran := make(chan struct{}, 4)
	err := s.AddSchedule("tick", "* * * * * *", time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("job context has no deadline")
		}
		ran <- struct{}{}
		return errors.New("logged, not fatal")
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if snap := s.Snapshot(); !snap.Running || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot=%+v", snap)
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatalf("job never ran")
	}
}

func TestApplyDisableStopsCron(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	s.Start(context.Background())
	if !s.Snapshot().Running {
		t.Fatalf("not running after start")
	}
	s.Apply(Config{Enabled: false})
	if s.Snapshot().Running || s.Enabled() {
		t.Fatalf("still running after disable")
	}
	s.Apply(Config{Enabled: true})
	if !s.Snapshot().Running {
		t.Fatalf("not restarted after enable")
	}
	s.Stop(context.Background())
}
