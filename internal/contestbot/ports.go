package contestbot

import (
	"context"
	"fmt"

	"github.com/natsukagami/youmubot-sub000/internal/contest"
	"github.com/natsukagami/youmubot-sub000/internal/storage"
	kit "github.com/natsukagami/youmubot-sub000/internal/transport"
	"github.com/natsukagami/youmubot-sub000/internal/watch"
)

// Deliverer sends one notification and returns once it was delivered or
// delivery gave up. The notifier service implements it.
type Deliverer interface {
	Deliver(ctx context.Context, n kit.Notification) error
}

// WatchDeps wires the watch ports onto the bot's storage, the chat member
// lookup and the delivery channel.
func WatchDeps(src watch.ContestSource, store storage.Store, members kit.MemberResolver, out Deliverer) watch.Deps {
	return watch.Deps{
		Source:   src,
		Roster:   rosterSource{store: store},
		Identity: identities{members: members},
		Sink:     sink{out: out},
		Table:    tableRenderer{out: out},
	}
}

type rosterSource struct{ store storage.Store }

func (r rosterSource) SavedParticipants(ctx context.Context, audience kit.ChatTarget) ([]watch.Participant, error) {
	ms, err := r.store.ListMembers(ctx, audience.ChatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make([]watch.Participant, 0, len(ms))
	for _, m := range ms {
		out = append(out, watch.Participant{UserID: m.UserID, Handle: m.Handle})
	}
	return out, nil
}

type identities struct{ members kit.MemberResolver }

func (r identities) ResolveIdentity(ctx context.Context, audience kit.ChatTarget, userID int64) (watch.Identity, error) {
	m, err := r.members.ResolveMember(ctx, audience.ChatID, userID)
	if err != nil {
		return watch.Identity{}, err
	}
	if m.Left {
		return watch.Identity{}, fmt.Errorf("user %d is no longer in chat %d", userID, audience.ChatID)
	}
	return watch.Identity{UserID: m.UserID, Username: m.Username, DisplayName: m.DisplayName}, nil
}

type sink struct{ out Deliverer }

func (s sink) Post(ctx context.Context, audience kit.ChatTarget, phase contest.Phase, text string) error {
	return s.out.Deliver(ctx, kit.Notification{
		Channel: "telegram",
		Target:  audience,
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Silent: phase.Quiet()},
	})
}
