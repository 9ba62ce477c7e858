package repository

import (
	"context"
	"time"

	"builderhub/internal/domain/entity"
)

// MessageCursor marks the oldest loaded message; the next page is strictly
// older than it.
type MessageCursor struct {
	Timestamp time.Time
	MessageID string
}

func (c MessageCursor) IsZero() bool {
	return c.Timestamp.IsZero() && c.MessageID == ""
}

// Subscription is an owned handle for a change feed. Whoever acquires one
// must release it on session change or teardown; a leaked subscription keeps
// writing into state that no longer belongs to the active session.
type Subscription interface {
	Unsubscribe()
}

// MessagesHandler receives the current live window, newest first.
type MessagesHandler func(messages []*entity.Message)

// SessionHandler receives the session document after each change.
type SessionHandler func(session *entity.ChatSession)

// ErrorHandler receives asynchronous subscription failures.
type ErrorHandler func(err error)

type ChatRepository interface {
	// CreateSession inserts a session. Insert-only: concurrent creators for
	// the same (context, pair) may both succeed; readers deduplicate.
	CreateSession(ctx context.Context, session *entity.ChatSession) error
	GetSessionByID(ctx context.Context, id string) (*entity.ChatSession, error)
	// FindSessionsByContext returns every session for contextID that userID
	// participates in.
	FindSessionsByContext(ctx context.Context, contextID, userID string) ([]*entity.ChatSession, error)
	UpdateSessionSummary(ctx context.Context, sessionID string, summary *entity.MessageSummary) error
	// SetTyping overwrites the caller's own typing flag; a nil timestamp
	// clears it. Each participant writes only their own key.
	SetTyping(ctx context.Context, sessionID, userID string, at *time.Time) error

	CreateMessage(ctx context.Context, message *entity.Message) error
	// LatestMessages returns up to limit messages, newest first.
	LatestMessages(ctx context.Context, sessionID string, limit int) ([]*entity.Message, error)
	// MessagesBefore returns up to limit messages strictly older than the
	// cursor, newest first.
	MessagesBefore(ctx context.Context, sessionID string, cursor MessageCursor, limit int) ([]*entity.Message, error)
	MarkMessageRead(ctx context.Context, sessionID, messageID string) error

	// SubscribeMessages watches the newest window messages of a session.
	SubscribeMessages(ctx context.Context, sessionID string, window int, onChange MessagesHandler, onError ErrorHandler) (Subscription, error)
	// SubscribeSession watches the session document (typing map, summary).
	SubscribeSession(ctx context.Context, sessionID string, onChange SessionHandler, onError ErrorHandler) (Subscription, error)
}
