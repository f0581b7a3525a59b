package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memberKey struct {
	chat int64
	user int64
}

// memoryStore keeps everything in process memory.
// It backs the bot when persistence is disabled.
type memoryStore struct {
	mu      sync.RWMutex
	members map[memberKey]Member
	audit   []AuditEntry
	closed  bool
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memoryStore{members: map[memberKey]Member{}}
}

func (s *memoryStore) PutMember(_ context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	m.Handle = normHandle(m.Handle)
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = time.Now()
	}
	s.members[memberKey{m.ChatID, m.UserID}] = m
	return nil
}

func (s *memoryStore) GetMember(_ context.Context, chatID, userID int64) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberKey{chatID, userID}]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (s *memoryStore) DeleteMember(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{chatID, userID}
	if _, ok := s.members[k]; !ok {
		return ErrNotFound
	}
	delete(s.members, k)
	return nil
}

func (s *memoryStore) ListMembers(_ context.Context, chatID int64) ([]Member, error) {
	s.mu.RLock()
	out := make([]Member, 0, len(s.members))
	for k, m := range s.members {
		if k.chat == chatID {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sortMembers(out)
	return out, nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortMembers(ms []Member) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].RegisteredAt.Equal(ms[j].RegisteredAt) {
			return ms[i].RegisteredAt.Before(ms[j].RegisteredAt)
		}
		return ms[i].UserID < ms[j].UserID
	})
}
