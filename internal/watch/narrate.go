package watch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/natsukagami/youmubot-sub000/internal/contest"
	"github.com/natsukagami/youmubot-sub000/pkg/tgui"
)

// who refers to a participant. While the contest is quiet (before or during
// coding) the display name is written out without pinging anyone.
func who(id Identity, phase contest.Phase) tgui.H {
	name := id.DisplayName
	if name == "" {
		name = id.Username
	}
	if name == "" {
		name = fmt.Sprintf("user %d", id.UserID)
	}
	if phase.Quiet() || id.UserID == 0 {
		return tgui.B(name)
	}
	return tgui.Mention(name, id.UserID)
}

func problemLabel(p contest.Problem) tgui.H {
	if p.Name == "" {
		return tgui.B(p.Index)
	}
	return tgui.B(p.Index + " - " + p.Name)
}

func formatPoints(v float64) string {
	return humanize.FtoaWithDigits(v, 2)
}

func submissionSuffix(r contest.ProblemResult) string {
	if r.BestSubmission == nil {
		return ""
	}
	d := r.BestSubmission.Round(time.Minute)
	return fmt.Sprintf(" at %d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func narrateProblem(e *RosterEntry, ch contest.ProblemChange, phase contest.Phase) tgui.H {
	w, p := who(e.Identity, phase), problemLabel(ch.Problem)
	switch ch.Event {
	case contest.Attempted:
		return tgui.Sprintf("💭 %s made another attempt on problem %s (%s wrong so far).",
			w, p, humanize.Comma(int64(ch.Result.RejectedAttempts)))
	case contest.TestFailed:
		return tgui.Sprintf("❌ %s failed the tests on problem %s.", w, p)
	case contest.Accepted:
		return tgui.Sprintf("✅ %s got Accepted on problem %s, scoring %s points%s!",
			w, p, formatPoints(ch.Result.Points), submissionSuffix(ch.Result))
	case contest.Hacked:
		return tgui.Sprintf("💥 %s's solution to problem %s got hacked!", w, p)
	case contest.PretestsPassed:
		return tgui.Sprintf("👍 %s passed pretests on problem %s, scoring %s points%s.",
			w, p, formatPoints(ch.Result.Points), submissionSuffix(ch.Result))
	}
	return tgui.Sprintf("%s: %s on problem %s.", w, ch.Event.String(), p)
}

func narrateRow(e *RosterEntry, ev contest.RowEvent, row contest.Row, phase contest.Phase) tgui.H {
	w := who(e.Identity, phase)
	switch ev {
	case contest.HackSucceeded:
		return tgui.Sprintf("🔪 %s made their %s successful hack!", w, humanize.Ordinal(row.SuccessfulHacks))
	case contest.HackFailed:
		return tgui.Sprintf("🙈 %s made their %s unsuccessful hack.", w, humanize.Ordinal(row.UnsuccessfulHacks))
	}
	return tgui.Sprintf("%s: %s.", w, ev.String())
}

func narratePhase(name string, phase contest.Phase) tgui.H {
	return tgui.Sprintf("📣 %s: %s", tgui.B(name), phase.Label())
}

func narrateWaiting(meta contest.Meta, start, now time.Time) tgui.H {
	return tgui.Sprintf("⏳ Contest %s starts %s (%s UTC). I'll start watching then.",
		tgui.B(meta.Name), humanize.RelTime(start, now, "ago", "from now"), start.UTC().Format("Jan 2 15:04"))
}

func narrateRoster(name string, entries []RosterEntry) tgui.H {
	if len(entries) == 0 {
		return tgui.Sprintf("👀 Watching %s. Nobody here is registered; I'll only report phase changes.", tgui.B(name))
	}
	parts := make([]tgui.H, 0, len(entries))
	for i := range entries {
		parts = append(parts, tgui.Sprintf("%s (%s)", who(entries[i].Identity, contest.PhaseCoding), tgui.Code(entries[i].Handle)))
	}
	return tgui.Sprintf("👀 Watching %s for %s participant(s): %s",
		tgui.B(name), humanize.Comma(int64(len(entries))), tgui.JoinH(", ", parts...))
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
