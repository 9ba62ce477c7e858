package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builderhub/internal/adapter/repository"
	"builderhub/internal/domain/entity"
	"builderhub/pkg/errors"
)

func newBotFixture(t *testing.T) (*repository.MemoryChatRepository, *entity.ChatSession) {
	t.Helper()
	repo := repository.NewMemoryChatRepository()
	session := &entity.ChatSession{
		ID:           entity.BotSessionID("u1"),
		ContextID:    entity.BotContextID,
		Participants: []string{"u1", entity.BotUserID},
	}
	require.NoError(t, repo.CreateSession(context.Background(), session))
	return repo, session
}

func TestRespondMatchesKeywordRule(t *testing.T) {
	repo, session := newBotFixture(t)
	bot := NewBotResponder(repo).WithDelay(time.Millisecond, 2*time.Millisecond)

	reply, err := bot.Respond(context.Background(), session, "How much does the cement cost?")
	require.NoError(t, err)
	assert.Equal(t, entity.BotUserID, reply.SenderID)
	assert.Contains(t, reply.Text, "Prices are set by each seller")

	// The same input always picks the same rule.
	again, err := bot.Respond(context.Background(), session, "How much does the cement cost?")
	require.NoError(t, err)
	assert.Equal(t, reply.Text, again.Text)
}

func TestRespondFallsBackOnUnknownInput(t *testing.T) {
	repo, session := newBotFixture(t)
	bot := NewBotResponder(repo).WithDelay(time.Millisecond, 2*time.Millisecond)

	reply, err := bot.Respond(context.Background(), session, "xyzzy plugh")
	require.NoError(t, err)
	assert.Equal(t, botFallback, reply.Text)
}

func TestRespondUpdatesSessionSummary(t *testing.T) {
	repo, session := newBotFixture(t)
	bot := NewBotResponder(repo).WithDelay(time.Millisecond, 2*time.Millisecond)
	ctx := context.Background()

	reply, err := bot.Respond(ctx, session, "hello")
	require.NoError(t, err)

	stored, err := repo.GetSessionByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, reply.Text, stored.LastMessage.Text)
	assert.Equal(t, entity.BotUserID, stored.LastMessage.SenderID)
}

func TestRespondHoldsTypingDuringDelay(t *testing.T) {
	repo, session := newBotFixture(t)
	bot := NewBotResponder(repo).WithDelay(80*time.Millisecond, 100*time.Millisecond)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := bot.Respond(ctx, session, "hello")
		assert.NoError(t, err)
	}()

	assert.Eventually(t, func() bool {
		stored, err := repo.GetSessionByID(ctx, session.ID)
		require.NoError(t, err)
		return stored.PeerTyping(entity.BotUserID)
	}, time.Second, 5*time.Millisecond, "typing flag should be set while the bot thinks")

	<-done
	stored, err := repo.GetSessionByID(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.PeerTyping(entity.BotUserID), "typing flag should clear with the reply")
}

func TestRespondRejectsHumanSession(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	session := &entity.ChatSession{ID: "s1", ContextID: "listing_42", Participants: []string{"u1", "u2"}}
	require.NoError(t, repo.CreateSession(context.Background(), session))

	bot := NewBotResponder(repo).WithDelay(time.Millisecond, 2*time.Millisecond)
	_, err := bot.Respond(context.Background(), session, "hello")
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestRespondHonorsCancellation(t *testing.T) {
	repo, session := newBotFixture(t)
	bot := NewBotResponder(repo).WithDelay(time.Second, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bot.Respond(ctx, session, "hello")
	assert.Error(t, err)

	messages, lerr := repo.LatestMessages(context.Background(), session.ID, 10)
	require.NoError(t, lerr)
	assert.Empty(t, messages, "no reply should be written after cancellation")
}
