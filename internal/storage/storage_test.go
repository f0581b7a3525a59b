package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(driver, name string) func() Store {
		return func() Store {
			st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
			if err != nil {
				t.Fatalf("open %s: %v", driver, err)
			}
			return st
		}
	}
	return map[string]func() Store{
		"memory": open("memory", ""),
		"file":   open("file", "state.json"),
		"sqlite": open("sqlite", "state.db"),
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for file driver without path")
	}
}

func TestMembers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			puts := []Member{
				{ChatID: 1, UserID: 20, Handle: "tourist", RegisteredAt: base.Add(2 * time.Minute)},
				{ChatID: 1, UserID: 10, Handle: " Petr ", RegisteredAt: base},
				{ChatID: 2, UserID: 10, Handle: "petr_alt", RegisteredAt: base},
			}
			for _, m := range puts {
				if err := st.PutMember(ctx, m); err != nil {
					t.Fatalf("put: %v", err)
				}
			}

			got, err := st.ListMembers(ctx, 1)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 2 || got[0].UserID != 10 || got[1].UserID != 20 {
				t.Fatalf("list order: %+v", got)
			}
			if got[0].Handle != "Petr" {
				t.Fatalf("handle not trimmed: %q", got[0].Handle)
			}

			// Re-registering replaces the handle.
			if err := st.PutMember(ctx, Member{ChatID: 1, UserID: 10, Handle: "Petr2", RegisteredAt: base}); err != nil {
				t.Fatalf("put replace: %v", err)
			}
			m, err := st.GetMember(ctx, 1, 10)
			if err != nil || m.Handle != "Petr2" {
				t.Fatalf("get: %+v %v", m, err)
			}

			if err := st.DeleteMember(ctx, 1, 10); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.DeleteMember(ctx, 1, 10); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete: got %v, want ErrNotFound", err)
			}
			if _, err := st.GetMember(ctx, 1, 10); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get deleted: got %v, want ErrNotFound", err)
			}
			if got, _ := st.ListMembers(ctx, 2); len(got) != 1 {
				t.Fatalf("other chat touched: %+v", got)
			}

			if err := st.AppendAudit(ctx, AuditEntry{ChatID: 1, Action: "watch", Target: "1900", Outcome: "completed"}); err != nil {
				t.Fatalf("audit: %v", err)
			}
		})
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bot.db")
			cfg := Config{Driver: driver, Path: path}

			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			// Enough writes to force at least one compaction on the file driver.
			for i := 0; i < compactEvery+5; i++ {
				if err := st.PutMember(ctx, Member{ChatID: 7, UserID: int64(i % 3), Handle: "h"}); err != nil {
					t.Fatalf("put: %v", err)
				}
			}
			if err := st.DeleteMember(ctx, 7, 2); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			got, err := st.ListMembers(ctx, 7)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("after reopen: %+v", got)
			}
		})
	}
}
