package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/natsukagami/youmubot-sub000/pkg/logx"
)

// Store is the persistence API used by the bot.
type Store interface {
	// PutMember inserts or replaces the handle of (ChatID, UserID).
	PutMember(ctx context.Context, m Member) error
	// GetMember returns ErrNotFound if the user has no handle in the chat.
	GetMember(ctx context.Context, chatID, userID int64) (Member, error)
	// DeleteMember returns ErrNotFound if nothing was removed.
	DeleteMember(ctx context.Context, chatID, userID int64) error
	// ListMembers returns members of a chat ordered by registration time.
	ListMembers(ctx context.Context, chatID int64) ([]Member, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func normHandle(h string) string { return strings.TrimSpace(h) }
