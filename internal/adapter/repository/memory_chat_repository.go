package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/pkg/errors"
)

// MemoryChatRepository is an in-memory ChatRepository with synchronous
// change notifications. It backs usecase tests and local development; the
// Firestore repository is the production implementation.
type MemoryChatRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entity.ChatSession
	messages map[string][]*entity.Message

	nextSub     int
	messageSubs map[string]map[int]*messageSubscriber
	sessionSubs map[string]map[int]repository.SessionHandler

	// Now is the clock used for repository-assigned timestamps. Tests swap
	// it to control ordering.
	Now func() time.Time
}

type messageSubscriber struct {
	window   int
	onChange repository.MessagesHandler
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		sessions:    make(map[string]*entity.ChatSession),
		messages:    make(map[string][]*entity.Message),
		messageSubs: make(map[string]map[int]*messageSubscriber),
		sessionSubs: make(map[string]map[int]repository.SessionHandler),
		Now:         time.Now,
	}
}

func copySession(s *entity.ChatSession) *entity.ChatSession {
	dup := *s
	dup.Participants = append([]string(nil), s.Participants...)
	if s.Typing != nil {
		dup.Typing = make(map[string]time.Time, len(s.Typing))
		for k, v := range s.Typing {
			dup.Typing[k] = v
		}
	}
	if s.LastMessage != nil {
		summary := *s.LastMessage
		dup.LastMessage = &summary
	}
	return &dup
}

func copyMessage(m *entity.Message) *entity.Message {
	dup := *m
	return &dup
}

func (r *MemoryChatRepository) CreateSession(ctx context.Context, session *entity.ChatSession) error {
	r.mu.Lock()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := r.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	r.sessions[session.ID] = copySession(session)
	r.mu.Unlock()

	r.notifySession(session.ID)
	return nil
}

func (r *MemoryChatRepository) GetSessionByID(ctx context.Context, id string) (*entity.ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, errors.NotFound("Chat session", nil)
	}
	return copySession(session), nil
}

func (r *MemoryChatRepository) FindSessionsByContext(ctx context.Context, contextID, userID string) ([]*entity.ChatSession, error) {
	r.mu.RLock()
	var sessions []*entity.ChatSession
	for _, s := range r.sessions {
		if s.ContextID == contextID && s.HasParticipant(userID) {
			sessions = append(sessions, copySession(s))
		}
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *MemoryChatRepository) UpdateSessionSummary(ctx context.Context, sessionID string, summary *entity.MessageSummary) error {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return errors.NotFound("Chat session", nil)
	}
	dup := *summary
	session.LastMessage = &dup
	session.UpdatedAt = r.Now()
	r.mu.Unlock()

	r.notifySession(sessionID)
	return nil
}

func (r *MemoryChatRepository) SetTyping(ctx context.Context, sessionID, userID string, at *time.Time) error {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return errors.NotFound("Chat session", nil)
	}
	if at == nil {
		delete(session.Typing, userID)
	} else {
		if session.Typing == nil {
			session.Typing = make(map[string]time.Time)
		}
		session.Typing[userID] = *at
	}
	r.mu.Unlock()

	r.notifySession(sessionID)
	return nil
}

func (r *MemoryChatRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.Now()
	}
	if _, err := entity.ParseMessageKind(string(message.Kind)); err != nil {
		r.mu.Unlock()
		return errors.Validation("Unknown message kind", err)
	}
	r.messages[message.SessionID] = append(r.messages[message.SessionID], copyMessage(message))
	r.sortLocked(message.SessionID)
	r.mu.Unlock()

	r.notifyMessages(message.SessionID)
	return nil
}

// sortLocked keeps the per-session slice ascending by (timestamp, id).
func (r *MemoryChatRepository) sortLocked(sessionID string) {
	msgs := r.messages[sessionID]
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}

// newestLocked returns up to limit messages, newest first.
func (r *MemoryChatRepository) newestLocked(sessionID string, limit int) []*entity.Message {
	msgs := r.messages[sessionID]
	var out []*entity.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyMessage(msgs[i]))
	}
	return out
}

func (r *MemoryChatRepository) LatestMessages(ctx context.Context, sessionID string, limit int) ([]*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.newestLocked(sessionID, limit), nil
}

func (r *MemoryChatRepository) MessagesBefore(ctx context.Context, sessionID string, cursor repository.MessageCursor, limit int) ([]*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	boundary := &entity.Message{ID: cursor.MessageID, CreatedAt: cursor.Timestamp}
	msgs := r.messages[sessionID]
	var out []*entity.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if msgs[i].Before(boundary) {
			out = append(out, copyMessage(msgs[i]))
		}
	}
	return out, nil
}

func (r *MemoryChatRepository) MarkMessageRead(ctx context.Context, sessionID, messageID string) error {
	r.mu.Lock()
	for _, m := range r.messages[sessionID] {
		if m.ID == messageID {
			m.Read = true
			break
		}
	}
	r.mu.Unlock()

	r.notifyMessages(sessionID)
	return nil
}

type memorySubscription struct {
	remove func()
	once   sync.Once
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(s.remove)
}

func (r *MemoryChatRepository) SubscribeMessages(ctx context.Context, sessionID string, window int, onChange repository.MessagesHandler, onError repository.ErrorHandler) (repository.Subscription, error) {
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	if r.messageSubs[sessionID] == nil {
		r.messageSubs[sessionID] = make(map[int]*messageSubscriber)
	}
	r.messageSubs[sessionID][id] = &messageSubscriber{window: window, onChange: onChange}
	initial := r.newestLocked(sessionID, window)
	r.mu.Unlock()

	// Snapshot listeners deliver the current window immediately.
	onChange(initial)

	return &memorySubscription{remove: func() {
		r.mu.Lock()
		delete(r.messageSubs[sessionID], id)
		r.mu.Unlock()
	}}, nil
}

func (r *MemoryChatRepository) SubscribeSession(ctx context.Context, sessionID string, onChange repository.SessionHandler, onError repository.ErrorHandler) (repository.Subscription, error) {
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	if r.sessionSubs[sessionID] == nil {
		r.sessionSubs[sessionID] = make(map[int]repository.SessionHandler)
	}
	r.sessionSubs[sessionID][id] = onChange
	session := r.sessions[sessionID]
	var initial *entity.ChatSession
	if session != nil {
		initial = copySession(session)
	}
	r.mu.Unlock()

	if initial != nil {
		onChange(initial)
	}

	return &memorySubscription{remove: func() {
		r.mu.Lock()
		delete(r.sessionSubs[sessionID], id)
		r.mu.Unlock()
	}}, nil
}

func (r *MemoryChatRepository) notifyMessages(sessionID string) {
	r.mu.RLock()
	type delivery struct {
		fn   repository.MessagesHandler
		msgs []*entity.Message
	}
	var deliveries []delivery
	for _, sub := range r.messageSubs[sessionID] {
		deliveries = append(deliveries, delivery{sub.onChange, r.newestLocked(sessionID, sub.window)})
	}
	r.mu.RUnlock()

	for _, d := range deliveries {
		d.fn(d.msgs)
	}
}

func (r *MemoryChatRepository) notifySession(sessionID string) {
	r.mu.RLock()
	session := r.sessions[sessionID]
	var snapshot *entity.ChatSession
	if session != nil {
		snapshot = copySession(session)
	}
	var handlers []repository.SessionHandler
	for _, fn := range r.sessionSubs[sessionID] {
		handlers = append(handlers, fn)
	}
	r.mu.RUnlock()

	if snapshot == nil {
		return
	}
	for _, fn := range handlers {
		fn(copySession(snapshot))
	}
}
