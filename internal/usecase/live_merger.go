package usecase

import (
	"context"
	"sync"
	"time"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/pkg/logger"
)

const (
	// DefaultLiveWindow is the size of the live-tail subscription.
	DefaultLiveWindow = 10
	// DefaultRecencyThreshold bounds how old an addition may be before the
	// merger treats it as backfill rather than a live arrival.
	DefaultRecencyThreshold = 60 * time.Second
)

// MergeSink receives live additions for merge. The sessionID is the one
// captured at subscribe time; consumers must compare it against their active
// session before touching any list, so a stale subscription can never write
// into a different session's state.
type MergeSink func(sessionID string, additions []*entity.Message)

// LiveMessageMerger subscribes to the newest window of a session and hands
// fresh arrivals to its sink without duplication.
type LiveMessageMerger struct {
	chatRepo  repository.ChatRepository
	sessionID string
	selfID    string
	window    int
	recency   time.Duration
	now       func() time.Time
	sink      MergeSink

	mu   sync.Mutex
	seen map[string]struct{}
	sub  repository.Subscription
}

func NewLiveMessageMerger(chatRepo repository.ChatRepository, sessionID, selfID string, sink MergeSink) *LiveMessageMerger {
	return &LiveMessageMerger{
		chatRepo:  chatRepo,
		sessionID: sessionID,
		selfID:    selfID,
		window:    DefaultLiveWindow,
		recency:   DefaultRecencyThreshold,
		now:       time.Now,
		sink:      sink,
		seen:      make(map[string]struct{}),
	}
}

// WithWindow overrides the live-tail subscription size.
func (m *LiveMessageMerger) WithWindow(window int) *LiveMessageMerger {
	if window > 0 {
		m.window = window
	}
	return m
}

// WithRecency overrides the live-arrival age bound.
func (m *LiveMessageMerger) WithRecency(recency time.Duration) *LiveMessageMerger {
	if recency > 0 {
		m.recency = recency
	}
	return m
}

// Seed marks already-displayed messages (the initial page) as known, so the
// first live snapshot does not replay them as additions.
func (m *LiveMessageMerger) Seed(messages []*entity.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.seen[msg.ID] = struct{}{}
	}
}

// Start opens the live-tail subscription. The session id is captured here;
// every delivery carries it so the sink can guard against staleness.
func (m *LiveMessageMerger) Start(ctx context.Context, onError repository.ErrorHandler) error {
	sessionID := m.sessionID

	sub, err := m.chatRepo.SubscribeMessages(ctx, sessionID, m.window, func(messages []*entity.Message) {
		m.handleSnapshot(ctx, sessionID, messages)
	}, onError)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

// Stop releases the subscription. Must be called on session change or view
// teardown.
func (m *LiveMessageMerger) Stop() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (m *LiveMessageMerger) handleSnapshot(ctx context.Context, sessionID string, messages []*entity.Message) {
	cutoff := m.now().Add(-m.recency)

	m.mu.Lock()
	var additions []*entity.Message
	for _, msg := range messages {
		if _, ok := m.seen[msg.ID]; ok {
			continue
		}
		// Older arrivals belong to the backward pager, not the live tail.
		if msg.CreatedAt.Before(cutoff) {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		additions = append(additions, msg)
	}
	m.mu.Unlock()

	if len(additions) == 0 {
		return
	}

	for _, msg := range additions {
		if msg.SenderID != m.selfID && !msg.Read {
			if err := m.chatRepo.MarkMessageRead(ctx, sessionID, msg.ID); err != nil {
				logger.Warn("Failed to mark live message %s read: %v", msg.ID, err)
			}
		}
	}

	m.sink(sessionID, additions)
}
