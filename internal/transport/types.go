// Package transport holds the chat-platform neutral types shared by the
// adapter, the router and everything that posts to chats.
package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses a chat (and optionally a forum topic inside it).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Silent delivers without a notification sound.
	Silent             bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Notification is one message queued for delivery through the notifier.
type Notification struct {
	Channel  string // "telegram"
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

// Member is a chat member as seen by the platform.
type Member struct {
	UserID      int64
	Username    string
	DisplayName string
	// Left is true when the user is no longer in the chat (left or kicked).
	Left bool
}

// ErrMemberNotFound is returned by MemberResolver when the platform does not
// know the user in that chat.
var ErrMemberNotFound = errors.New("chat member not found")

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// MemberResolver looks up a user's membership in a chat.
type MemberResolver interface {
	ResolveMember(ctx context.Context, chatID, userID int64) (Member, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
