package usecase

import (
	"context"
	"time"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/pkg/errors"
	"builderhub/pkg/logger"
)

const botGreeting = "Hi! I'm the BuilderHub assistant. Ask me about listings, orders, or finding a worker."

// SessionResolver finds-or-creates the durable conversation record for a
// (context, participant pair) tuple.
type SessionResolver struct {
	chatRepo repository.ChatRepository
}

func NewSessionResolver(chatRepo repository.ChatRepository) *SessionResolver {
	return &SessionResolver{
		chatRepo: chatRepo,
	}
}

// Resolve returns the session the pair should converge on for contextID,
// creating one when none exists.
//
// Creation is insert-only, so two participants opening the chat in the same
// instant can both observe "not found" and each create a session. That race
// is tolerated rather than fixed: reads always match on (context, pair) and
// prefer the earliest-created record, so both sides converge on one session
// for all future writes even if a duplicate document exists.
func (r *SessionResolver) Resolve(ctx context.Context, contextID, selfID, peerID string) (*entity.ChatSession, error) {
	if selfID == "" {
		return nil, errors.Precondition("No authenticated user", nil)
	}
	if contextID == "" {
		return nil, errors.Precondition("Chat context is required", nil)
	}
	if peerID == "" {
		return nil, errors.Precondition("Chat peer is required", nil)
	}
	if peerID == selfID {
		return nil, errors.BadRequest("You cannot open a chat with yourself", nil)
	}

	if contextID == entity.BotContextID || peerID == entity.BotUserID {
		return r.resolveBot(ctx, selfID)
	}

	sessions, err := r.chatRepo.FindSessionsByContext(ctx, contextID, selfID)
	if err != nil {
		logger.Error("Resolve: failed to query sessions for context %s: %v", contextID, err)
		return nil, err
	}

	// FindSessionsByContext returns earliest-created first.
	for _, session := range sessions {
		if len(session.Participants) == 2 && session.HasParticipant(peerID) {
			return session, nil
		}
	}

	session := &entity.ChatSession{
		ContextID:    contextID,
		Participants: []string{selfID, peerID},
	}
	if err := r.chatRepo.CreateSession(ctx, session); err != nil {
		logger.Error("Resolve: failed to create session for context %s: %v", contextID, err)
		return nil, err
	}

	return session, nil
}

// resolveBot resolves the reserved assistant session. The id is derived from
// the user alone, so this path has no concurrent-creator race and is
// idempotent.
func (r *SessionResolver) resolveBot(ctx context.Context, selfID string) (*entity.ChatSession, error) {
	id := entity.BotSessionID(selfID)

	session, err := r.chatRepo.GetSessionByID(ctx, id)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	session = &entity.ChatSession{
		ID:           id,
		ContextID:    entity.BotContextID,
		Participants: []string{selfID, entity.BotUserID},
		LastMessage: &entity.MessageSummary{
			Text:     botGreeting,
			Kind:     entity.KindText,
			SenderID: entity.BotUserID,
			Time:     time.Now(),
		},
	}
	if err := r.chatRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}
