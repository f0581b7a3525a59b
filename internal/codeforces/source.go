package codeforces

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/natsukagami/youmubot-sub000/internal/contest"
	"github.com/natsukagami/youmubot-sub000/internal/watch"
	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

// Source adapts a Client to watch.ContestSource and adds the lookups the chat
// commands need. contest.list is cached for listTTL.
type Source struct {
	c       *Client
	listTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	list     []Contest
	listedAt time.Time
	// stale holds lowercased handles the API no longer knows.
	stale map[string]struct{}
}

func NewSource(c *Client, listTTL time.Duration) *Source {
	if listTTL <= 0 {
		listTTL = 10 * time.Minute
	}
	return &Source{c: c, listTTL: listTTL, now: time.Now}
}

func (s *Source) contests(ctx context.Context, fresh bool) ([]Contest, error) {
	s.mu.Lock()
	if !fresh && s.list != nil && s.now().Sub(s.listedAt) < s.listTTL {
		out := s.list
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	list, err := s.c.ContestList(ctx, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.list, s.listedAt = list, s.now()
	s.mu.Unlock()
	return list, nil
}

// ContestMeta looks the contest up in contest.list (refreshing once on a
// miss) and falls back to a one-row standings call for contests the list
// does not carry (gym, private mashups).
func (s *Source) ContestMeta(ctx context.Context, contestID int64) (contest.Meta, error) {
	for _, fresh := range []bool{false, true} {
		list, err := s.contests(ctx, fresh)
		if err != nil {
			return contest.Meta{}, err
		}
		for _, c := range list {
			if c.ID == contestID {
				return metaFrom(c), nil
			}
		}
	}

	st, err := s.c.ContestStandings(ctx, StandingsQuery{ContestID: contestID, Count: 1})
	if err != nil {
		if IsNotFound(err) {
			return contest.Meta{}, fmt.Errorf("%w: %v", watch.ErrContestNotFound, err)
		}
		return contest.Meta{}, err
	}
	return metaFrom(st.Contest), nil
}

// Standings fetches the rows of the given handles. With no handles only the
// contest header and problems are fetched.
//
// The API fails the whole call when one handle does not exist (a registered
// user renamed their account, say). Such handles are dropped from the query,
// remembered as stale and the fetch is repeated with the rest.
func (s *Source) Standings(ctx context.Context, contestID int64, handles []string) (contest.Snapshot, error) {
	handles = s.withoutStale(handles)
	for {
		q := StandingsQuery{ContestID: contestID, Handles: handles}
		if len(handles) == 0 {
			q.Count = 1
		}
		st, err := s.c.ContestStandings(ctx, q)
		if err == nil {
			snap := snapshotFrom(st)
			if len(handles) == 0 {
				snap.Rows = nil
			}
			return snap, nil
		}
		if len(handles) == 0 || !IsNotFound(err) {
			return contest.Snapshot{}, err
		}
		bad, berr := s.unknownHandles(ctx, err, handles)
		if berr != nil {
			return contest.Snapshot{}, berr
		}
		if len(bad) == 0 {
			return contest.Snapshot{}, err
		}
		s.markStale(bad)
		s.c.log.Warn("dropping unknown handles from standings",
			logx.Int64("contest_id", contestID), logx.String("handles", strings.Join(bad, ",")))
		handles = dropHandles(handles, bad)
	}
}

var reMissingHandle = regexp.MustCompile(`(?i)user with handle (\S+) not found`)

// unknownHandles works out which of handles made the API answer err. Errors
// that are not about handles (an unknown contest) give an empty result.
func (s *Source) unknownHandles(ctx context.Context, err error, handles []string) ([]string, error) {
	var ae *APIError
	if !errors.As(err, &ae) || !strings.Contains(strings.ToLower(ae.Comment), "handle") {
		return nil, nil
	}
	if m := reMissingHandle.FindStringSubmatch(ae.Comment); m != nil {
		for _, h := range handles {
			if strings.EqualFold(h, strings.TrimRight(m[1], ".,;")) {
				return []string{h}, nil
			}
		}
	}
	// The comment did not name a queried handle; ask about each one.
	var bad []string
	for _, h := range handles {
		if _, err := s.c.UserInfo(ctx, []string{h}); err != nil {
			if !IsNotFound(err) {
				return nil, err
			}
			bad = append(bad, h)
		}
	}
	return bad, nil
}

func (s *Source) withoutStale(handles []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stale) == 0 {
		return handles
	}
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		if _, ok := s.stale[strings.ToLower(h)]; !ok {
			out = append(out, h)
		}
	}
	return out
}

func (s *Source) markStale(handles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale == nil {
		s.stale = map[string]struct{}{}
	}
	for _, h := range handles {
		s.stale[strings.ToLower(h)] = struct{}{}
	}
}

func dropHandles(handles, bad []string) []string {
	out := make([]string, 0, len(handles))
next:
	for _, h := range handles {
		for _, b := range bad {
			if strings.EqualFold(h, b) {
				continue next
			}
		}
		out = append(out, h)
	}
	return out
}

// ResolveHandle checks that handle exists and returns its canonical spelling.
func (s *Source) ResolveHandle(ctx context.Context, handle string) (User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || strings.ContainsAny(handle, "; \t\n") {
		return User{}, ErrHandleNotFound
	}
	users, err := s.c.UserInfo(ctx, []string{handle})
	if err != nil {
		if IsNotFound(err) {
			return User{}, ErrHandleNotFound
		}
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, ErrHandleNotFound
	}
	s.mu.Lock()
	delete(s.stale, strings.ToLower(users[0].Handle))
	s.mu.Unlock()
	return users[0], nil
}

// Upcoming returns contests that have not started and start within horizon,
// soonest first.
func (s *Source) Upcoming(ctx context.Context, horizon time.Duration) ([]contest.Meta, error) {
	list, err := s.contests(ctx, true)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []contest.Meta
	for _, c := range list {
		m := metaFrom(c)
		if m.Phase != contest.PhaseBefore || m.StartTime == nil {
			continue
		}
		if d := m.StartTime.Sub(now); d >= 0 && d <= horizon {
			out = append(out, m)
		}
	}
	// contest.list is newest first; reverse for soonest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func metaFrom(c Contest) contest.Meta {
	m := contest.Meta{
		ID:       c.ID,
		Name:     c.Name,
		Phase:    contest.Phase(c.Phase),
		Duration: time.Duration(c.DurationSeconds) * time.Second,
	}
	if c.StartTimeSeconds != nil && *c.StartTimeSeconds > 0 {
		t := time.Unix(*c.StartTimeSeconds, 0).UTC()
		m.StartTime = &t
	}
	return m
}

func snapshotFrom(st *Standings) contest.Snapshot {
	snap := contest.Snapshot{Meta: metaFrom(st.Contest)}
	for _, p := range st.Problems {
		cp := contest.Problem{Index: p.Index, Name: p.Name}
		if p.Points != nil {
			cp.Points = *p.Points
		}
		snap.Problems = append(snap.Problems, cp)
	}
	for _, r := range st.Rows {
		row := contest.Row{
			Rank:              r.Rank,
			Points:            r.Points,
			Penalty:           r.Penalty,
			SuccessfulHacks:   r.SuccessfulHackCount,
			UnsuccessfulHacks: r.UnsuccessfulHackCount,
		}
		for _, m := range r.Party.Members {
			row.Handles = append(row.Handles, m.Handle)
		}
		for _, pr := range r.ProblemResults {
			res := contest.ProblemResult{Points: pr.Points, RejectedAttempts: pr.RejectedAttemptCount}
			if pr.Type == "FINAL" {
				res.Type = contest.Final
			}
			if pr.BestSubmissionTimeSeconds != nil {
				d := time.Duration(*pr.BestSubmissionTimeSeconds) * time.Second
				res.BestSubmission = &d
			}
			row.Results = append(row.Results, res)
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap
}
