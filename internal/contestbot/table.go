package contestbot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/natsukagami/youmubot-sub000/internal/contest"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	"github.com/natsukagami/youmubot-sub000/internal/watch"
	"github.com/natsukagami/youmubot-sub000/pkg/tgui"
)

// tableChunk keeps each table message well below Telegram's 4096 limit so the
// <pre> wrapper and escaping never push it over.
const tableChunk = 3000

type tableRenderer struct{ out Deliverer }

func (t tableRenderer) RenderFinal(ctx context.Context, audience kit.ChatTarget, meta contest.Meta, problems []contest.Problem, rows []watch.FinalRow) error {
	msg := renderFinal(meta, problems, rows)
	for _, part := range msg.Parts() {
		err := t.out.Deliver(ctx, kit.Notification{
			Channel: "telegram",
			Target:  audience,
			Text:    part,
			Options: msg.Opt,
		})
		if err != nil {
			return fmt.Errorf("deliver final table: %w", err)
		}
	}
	return nil
}

func renderFinal(meta contest.Meta, problems []contest.Problem, rows []watch.FinalRow) tgui.Message {
	b := tgui.New().Title("🏁", "Final standings")
	b.HTML(tgui.Link(meta.Name, contestURL(meta.ID)))
	if len(rows) == 0 {
		b.Line("Nobody from this chat showed up in the standings.")
		return b.Build()
	}
	b.Blank()
	b.PreMulti(finalTable(problems, rows), tableChunk)
	return b.Build()
}

// finalTable lays out one line per participant: rank, handle, total, one
// cell per problem, hacks and finally the chat name, which may be long and
// is left unpadded.
func finalTable(problems []contest.Problem, rows []watch.FinalRow) string {
	header := []string{"#", "Handle", "Pts"}
	align := []tgui.Align{tgui.AlignRight, tgui.AlignLeft, tgui.AlignRight}
	for _, p := range problems {
		header = append(header, p.Index)
		align = append(align, tgui.AlignRight)
	}
	header = append(header, "Hacks", "Name")
	align = append(align, tgui.AlignRight, tgui.AlignLeft)

	grid := make([][]string, 0, len(rows)+1)
	grid = append(grid, header)
	for _, r := range rows {
		line := []string{
			strconv.Itoa(r.Row.Rank),
			r.Handle,
			humanize.FtoaWithDigits(r.Row.Points, 2),
		}
		for i := range problems {
			var res contest.ProblemResult
			if i < len(r.Row.Results) {
				res = r.Row.Results[i]
			}
			line = append(line, problemCell(res))
		}
		line = append(line, hacksCell(r.Row), tgui.TruncRunes(displayName(r.Identity), 24))
		grid = append(grid, line)
	}
	return tgui.Table(align, grid)
}

func problemCell(r contest.ProblemResult) string {
	switch {
	case r.Points > 0:
		return humanize.FtoaWithDigits(r.Points, 2)
	case r.RejectedAttempts > 0:
		return "-" + strconv.Itoa(r.RejectedAttempts)
	}
	return ""
}

func hacksCell(r contest.Row) string {
	if r.SuccessfulHacks == 0 && r.UnsuccessfulHacks == 0 {
		return ""
	}
	return fmt.Sprintf("+%d:-%d", r.SuccessfulHacks, r.UnsuccessfulHacks)
}

func displayName(id watch.Identity) string {
	switch {
	case id.DisplayName != "":
		return id.DisplayName
	case id.Username != "":
		return "@" + id.Username
	}
	return "user " + strconv.FormatInt(id.UserID, 10)
}

func contestURL(id int64) string {
	return "https://codeforces.com/contest/" + strconv.FormatInt(id, 10)
}
