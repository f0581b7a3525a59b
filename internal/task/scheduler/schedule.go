package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules are cron expressions with an optional seconds field, or one of
// cron's descriptors ("@hourly", "@every 15m").
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// maxGapSteps bounds MaxGap for schedules that fire every second.
const maxGapSteps = 10000

// ParseSchedule parses raw into a cron schedule.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("schedule required")
	}
	sched, err := cronParser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return sched, nil
}

// MaxGap returns the longest wait between two consecutive firings of sched
// that start within window after from. It is 0 when sched never fires.
func MaxGap(sched cron.Schedule, from time.Time, window time.Duration) time.Duration {
	end := from.Add(window)
	prev := sched.Next(from)
	if prev.IsZero() {
		return 0
	}
	var gap time.Duration
	for i := 0; i < maxGapSteps; i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		if d := next.Sub(prev); d > gap {
			gap = d
		}
		if next.After(end) {
			break
		}
		prev = next
	}
	return gap
}
