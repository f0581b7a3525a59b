package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

const compactEvery = 200

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl            (append-only JSON Lines)
//   - <prefix>.members.snapshot.json  (periodic snapshot)
//   - <prefix>.members.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	members      map[memberKey]Member

	writes int
}

type memberRecord struct {
	Op     string `json:"op"` // "put" | "del"
	Member Member `json:"member"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".members.snapshot.json"
	journalPath := prefix + ".members.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	members := map[memberKey]Member{}
	if err := loadMemberSnapshot(snapPath, members); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("member snapshot unreadable", logx.String("path", snapPath), logx.Any("err", err))
	}
	if err := replayMemberJournal(journalPath, members); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("member journal unreadable", logx.String("path", journalPath), logx.Any("err", err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		members:      members,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutMember(_ context.Context, m Member) error {
	m.Handle = normHandle(m.Handle)
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendJournalLocked(memberRecord{Op: "put", Member: m}); err != nil {
		return err
	}
	s.members[memberKey{m.ChatID, m.UserID}] = m
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) GetMember(_ context.Context, chatID, userID int64) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey{chatID, userID}]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (s *fileStore) DeleteMember(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{chatID, userID}
	m, ok := s.members[k]
	if !ok {
		return ErrNotFound
	}
	if err := s.appendJournalLocked(memberRecord{Op: "del", Member: m}); err != nil {
		return err
	}
	delete(s.members, k)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) ListMembers(_ context.Context, chatID int64) ([]Member, error) {
	s.mu.Lock()
	out := make([]Member, 0, len(s.members))
	for k, m := range s.members {
		if k.chat == chatID {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	sortMembers(out)
	return out, nil
}

func (s *fileStore) appendJournalLocked(r memberRecord) error {
	if s.journalFile == nil {
		return errors.New("member journal closed")
	}
	return json.NewEncoder(s.journalFile).Encode(r)
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%compactEvery != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("member compact failed", logx.Any("err", err))
	}
}

func (s *fileStore) compactLocked() error {
	list := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		list = append(list, m)
	}
	sortMembers(list)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func applyRecord(out map[memberKey]Member, r memberRecord) {
	k := memberKey{r.Member.ChatID, r.Member.UserID}
	switch r.Op {
	case "put":
		out[k] = r.Member
	case "del":
		delete(out, k)
	}
}

func loadMemberSnapshot(path string, out map[memberKey]Member) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Member
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, m := range list {
		out[memberKey{m.ChatID, m.UserID}] = m
	}
	return nil
}

func replayMemberJournal(path string, out map[memberKey]Member) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r memberRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		applyRecord(out, r)
	}
	return sc.Err()
}
