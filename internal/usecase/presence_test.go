package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builderhub/internal/adapter/repository"
	"builderhub/internal/domain/entity"
	domainrepo "builderhub/internal/domain/repository"
)

// typingCountingRepo counts SetTyping writes so tests can verify a burst of
// keystrokes produces one write, not one per keystroke.
type typingCountingRepo struct {
	domainrepo.ChatRepository
	writes int64
}

func (r *typingCountingRepo) SetTyping(ctx context.Context, sessionID, userID string, at *time.Time) error {
	atomic.AddInt64(&r.writes, 1)
	return r.ChatRepository.SetTyping(ctx, sessionID, userID, at)
}

func newPresenceFixture(t *testing.T) (*repository.MemoryChatRepository, *typingCountingRepo) {
	t.Helper()
	memory := repository.NewMemoryChatRepository()
	session := &entity.ChatSession{ID: "s1", ContextID: "listing_42", Participants: []string{"u1", "u2"}}
	require.NoError(t, memory.CreateSession(context.Background(), session))
	return memory, &typingCountingRepo{ChatRepository: memory}
}

func typingSet(t *testing.T, repo *repository.MemoryChatRepository, userID string) bool {
	t.Helper()
	session, err := repo.GetSessionByID(context.Background(), "s1")
	require.NoError(t, err)
	_, ok := session.Typing[userID]
	return ok
}

func TestSignalSetsFlagAndExpires(t *testing.T) {
	memory, counting := newPresenceFixture(t)
	tracker := NewPresenceTracker(counting, "s1", "u1").WithTTL(30 * time.Millisecond)

	require.NoError(t, tracker.Signal(context.Background()))
	assert.True(t, typingSet(t, memory, "u1"))

	assert.Eventually(t, func() bool {
		return !typingSet(t, memory, "u1")
	}, time.Second, 5*time.Millisecond)
}

func TestSignalBurstWritesOnceAndReArms(t *testing.T) {
	memory, counting := newPresenceFixture(t)
	tracker := NewPresenceTracker(counting, "s1", "u1").WithTTL(60 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tracker.Signal(ctx))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, tracker.Signal(ctx))
	time.Sleep(30 * time.Millisecond)

	// Past the first TTL but inside the re-armed one.
	assert.True(t, typingSet(t, memory, "u1"))
	assert.Equal(t, int64(1), atomic.LoadInt64(&counting.writes))

	assert.Eventually(t, func() bool {
		return !typingSet(t, memory, "u1")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), atomic.LoadInt64(&counting.writes))
}

func TestStopClearsImmediately(t *testing.T) {
	memory, counting := newPresenceFixture(t)
	tracker := NewPresenceTracker(counting, "s1", "u1").WithTTL(time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Signal(ctx))
	require.True(t, typingSet(t, memory, "u1"))

	require.NoError(t, tracker.Stop(ctx))
	assert.False(t, typingSet(t, memory, "u1"))

	// Stopping when inactive is a no-op, not a second clear.
	writes := atomic.LoadInt64(&counting.writes)
	require.NoError(t, tracker.Stop(ctx))
	assert.Equal(t, writes, atomic.LoadInt64(&counting.writes))
}

func TestParticipantsOwnSeparateFlags(t *testing.T) {
	memory, _ := newPresenceFixture(t)
	ctx := context.Background()

	self := NewPresenceTracker(memory, "s1", "u1").WithTTL(time.Minute)
	peer := NewPresenceTracker(memory, "s1", "u2").WithTTL(time.Minute)

	require.NoError(t, self.Signal(ctx))
	require.NoError(t, peer.Signal(ctx))
	require.NoError(t, self.Stop(ctx))

	assert.False(t, typingSet(t, memory, "u1"))
	assert.True(t, typingSet(t, memory, "u2"))
}
