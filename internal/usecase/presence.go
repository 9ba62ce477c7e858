package usecase

import (
	"context"
	"sync"
	"time"

	"builderhub/internal/domain/repository"
	"builderhub/pkg/logger"
)

// DefaultTypingTTL is the inactivity window after which the typing flag
// self-expires. Expiry is a client timer, not a server TTL: a client that
// dies mid-typing leaves its flag stale until overwritten. Accepted
// limitation.
const DefaultTypingTTL = 3 * time.Second

// PresenceTracker maintains this user's typing flag for one session. Each
// participant writes only their own key, whole-field overwrite, so
// last-writer-wins needs no locking across participants.
type PresenceTracker struct {
	chatRepo  repository.ChatRepository
	sessionID string
	selfID    string
	ttl       time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	active bool
}

func NewPresenceTracker(chatRepo repository.ChatRepository, sessionID, selfID string) *PresenceTracker {
	return &PresenceTracker{
		chatRepo:  chatRepo,
		sessionID: sessionID,
		selfID:    selfID,
		ttl:       DefaultTypingTTL,
	}
}

// WithTTL overrides the inactivity window.
func (t *PresenceTracker) WithTTL(ttl time.Duration) *PresenceTracker {
	if ttl > 0 {
		t.ttl = ttl
	}
	return t
}

// Signal records composer activity. The first call in a burst sets the flag;
// every call re-arms the expiry timer.
func (t *PresenceTracker) Signal(ctx context.Context) error {
	t.mu.Lock()
	wasActive := t.active
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.ttl, t.expire)
	t.mu.Unlock()

	if wasActive {
		return nil
	}

	now := time.Now()
	if err := t.chatRepo.SetTyping(ctx, t.sessionID, t.selfID, &now); err != nil {
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
		return err
	}
	return nil
}

// Stop clears the flag immediately (message sent, view torn down).
func (t *PresenceTracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if !wasActive {
		return nil
	}
	return t.chatRepo.SetTyping(ctx, t.sessionID, t.selfID, nil)
}

func (t *PresenceTracker) expire() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.chatRepo.SetTyping(ctx, t.sessionID, t.selfID, nil); err != nil {
		logger.Warn("Failed to clear typing flag for session %s: %v", t.sessionID, err)
	}
}
