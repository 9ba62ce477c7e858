package usecase

import (
	"context"
	"sort"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/pkg/logger"
)

// DefaultPageSize is the window fetched per page.
const DefaultPageSize = 20

// Page is one loaded window of history, ascending by timestamp, with the
// cursor pointing at the oldest item fetched.
type Page struct {
	Messages  []*entity.Message
	Cursor    repository.MessageCursor
	Exhausted bool
}

// MessagePager loads the most recent window of a session's history and pages
// backward from it.
type MessagePager struct {
	chatRepo  repository.ChatRepository
	sessionID string
	selfID    string
	pageSize  int
}

func NewMessagePager(chatRepo repository.ChatRepository, sessionID, selfID string) *MessagePager {
	return &MessagePager{
		chatRepo:  chatRepo,
		sessionID: sessionID,
		selfID:    selfID,
		pageSize:  DefaultPageSize,
	}
}

// WithPageSize overrides the page window.
func (p *MessagePager) WithPageSize(size int) *MessagePager {
	if size > 0 {
		p.pageSize = size
	}
	return p
}

// LoadInitial fetches the newest page, ascending for display.
func (p *MessagePager) LoadInitial(ctx context.Context) (*Page, error) {
	messages, err := p.chatRepo.LatestMessages(ctx, p.sessionID, p.pageSize)
	if err != nil {
		return nil, err
	}
	return p.buildPage(ctx, messages), nil
}

// LoadMore fetches the next page strictly older than the cursor. Calling it
// again after exhaustion returns an empty, exhausted page rather than an
// error.
func (p *MessagePager) LoadMore(ctx context.Context, cursor repository.MessageCursor) (*Page, error) {
	if cursor.IsZero() {
		return &Page{Exhausted: true}, nil
	}

	messages, err := p.chatRepo.MessagesBefore(ctx, p.sessionID, cursor, p.pageSize)
	if err != nil {
		return nil, err
	}

	page := p.buildPage(ctx, messages)
	if len(messages) == 0 {
		// Keep the cursor usable so a retried call stays a no-op.
		page.Cursor = cursor
	}
	return page, nil
}

func (p *MessagePager) buildPage(ctx context.Context, newestFirst []*entity.Message) *Page {
	messages := append([]*entity.Message(nil), newestFirst...)
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})

	page := &Page{
		Messages:  messages,
		Exhausted: len(messages) < p.pageSize,
	}
	if len(messages) > 0 {
		oldest := messages[0]
		page.Cursor = repository.MessageCursor{
			Timestamp: oldest.CreatedAt,
			MessageID: oldest.ID,
		}
	}

	p.markPeerMessagesRead(ctx, messages)
	return page
}

// markPeerMessagesRead flips the read flag on every peer-sent unread message
// in the page. Failures are logged, not surfaced: a missed receipt never
// blocks history from rendering.
func (p *MessagePager) markPeerMessagesRead(ctx context.Context, messages []*entity.Message) {
	for _, m := range messages {
		if m.SenderID == p.selfID || m.Read {
			continue
		}
		if err := p.chatRepo.MarkMessageRead(ctx, p.sessionID, m.ID); err != nil {
			logger.Warn("Failed to mark message %s read: %v", m.ID, err)
		}
	}
}
