package watch

import (
	"context"
	"errors"

	"github.com/natsukagami/youmubot-sub000/internal/contest"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
)

// ErrContestNotFound is returned by ContestSource.ContestMeta when the contest
// does not exist. Any other error is treated as transient.
var ErrContestNotFound = errors.New("contest not found")

// ContestSource fetches contest data.
type ContestSource interface {
	ContestMeta(ctx context.Context, contestID int64) (contest.Meta, error)
	// Standings returns the standings restricted to rows containing one of handles.
	Standings(ctx context.Context, contestID int64, handles []string) (contest.Snapshot, error)
}

// Participant is a saved chat member to handle mapping.
type Participant struct {
	UserID int64
	Handle string
}

// Identity is how a participant is shown in the audience chat.
type Identity struct {
	UserID      int64
	Username    string
	DisplayName string
}

// RosterSource lists the participants saved for an audience.
type RosterSource interface {
	SavedParticipants(ctx context.Context, audience kit.ChatTarget) ([]Participant, error)
}

// IdentityResolver turns a saved participant into a display identity. An
// error drops the participant from the watch.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, audience kit.ChatTarget, userID int64) (Identity, error)
}

// Sink posts narration to the audience. phase lets the sink pick delivery
// options (e.g. silent while the contest is running).
type Sink interface {
	Post(ctx context.Context, audience kit.ChatTarget, phase contest.Phase, text string) error
}

// FinalRow is one line handed to the TableRenderer.
type FinalRow struct {
	Identity Identity
	Handle   string
	Row      contest.Row
}

// TableRenderer publishes the final results, rows already sorted by rank.
type TableRenderer interface {
	RenderFinal(ctx context.Context, audience kit.ChatTarget, meta contest.Meta, problems []contest.Problem, rows []FinalRow) error
}

// RosterEntry is one resolved participant for the lifetime of a watch.
// Last is nil until the participant is first seen in the standings.
type RosterEntry struct {
	Participant
	Identity Identity
	Last     *contest.Row
}
