package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builderhub/internal/adapter/repository"
	"builderhub/internal/domain/entity"
	domainrepo "builderhub/internal/domain/repository"
)

// seedHistory writes count alternating messages with explicit timestamps one
// second apart, oldest first. Ids are zero-padded so tie-breaks stay stable.
func seedHistory(t *testing.T, repo *repository.MemoryChatRepository, sessionID string, count int) []*entity.Message {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	messages := make([]*entity.Message, 0, count)
	for i := 0; i < count; i++ {
		sender := "u2"
		if i%2 == 0 {
			sender = "u1"
		}
		m := &entity.Message{
			ID:        fmt.Sprintf("m%03d", i),
			SessionID: sessionID,
			SenderID:  sender,
			Kind:      entity.KindText,
			Text:      fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateMessage(ctx, m))
		messages = append(messages, m)
	}
	return messages
}

func assertAscending(t *testing.T, messages []*entity.Message) {
	t.Helper()
	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i-1].Before(messages[i]),
			"messages out of order at %d: %s then %s", i, messages[i-1].ID, messages[i].ID)
	}
}

func TestLoadInitialReturnsNewestPageAscending(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	seeded := seedHistory(t, repo, "s1", 45)
	pager := NewMessagePager(repo, "s1", "u1")

	page, err := pager.LoadInitial(context.Background())
	require.NoError(t, err)

	require.Len(t, page.Messages, DefaultPageSize)
	assertAscending(t, page.Messages)
	assert.Equal(t, seeded[44].ID, page.Messages[len(page.Messages)-1].ID)
	assert.Equal(t, seeded[25].ID, page.Messages[0].ID)
	assert.False(t, page.Exhausted)
	assert.Equal(t, seeded[25].ID, page.Cursor.MessageID)
}

func TestLoadMoreWalksBackwardToExhaustion(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	seeded := seedHistory(t, repo, "s1", 45)
	pager := NewMessagePager(repo, "s1", "u1")
	ctx := context.Background()

	first, err := pager.LoadInitial(ctx)
	require.NoError(t, err)

	second, err := pager.LoadMore(ctx, first.Cursor)
	require.NoError(t, err)
	require.Len(t, second.Messages, DefaultPageSize)
	assertAscending(t, second.Messages)
	assert.Equal(t, seeded[5].ID, second.Messages[0].ID)
	assert.Equal(t, seeded[24].ID, second.Messages[len(second.Messages)-1].ID)
	assert.False(t, second.Exhausted)

	third, err := pager.LoadMore(ctx, second.Cursor)
	require.NoError(t, err)
	require.Len(t, third.Messages, 5)
	assert.Equal(t, seeded[0].ID, third.Messages[0].ID)
	assert.True(t, third.Exhausted)

	// Paging past the end is a quiet no-op, never an error.
	fourth, err := pager.LoadMore(ctx, third.Cursor)
	require.NoError(t, err)
	assert.Empty(t, fourth.Messages)
	assert.True(t, fourth.Exhausted)
	assert.Equal(t, third.Cursor, fourth.Cursor)
}

func TestLoadMoreZeroCursor(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	pager := NewMessagePager(repo, "s1", "u1")

	page, err := pager.LoadMore(context.Background(), domainrepo.MessageCursor{})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.True(t, page.Exhausted)
}

func TestLoadInitialShortHistory(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	seedHistory(t, repo, "s1", 3)
	pager := NewMessagePager(repo, "s1", "u1")

	page, err := pager.LoadInitial(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.True(t, page.Exhausted)
}

func TestPagerMarksPeerMessagesRead(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	seedHistory(t, repo, "s1", 6)
	pager := NewMessagePager(repo, "s1", "u1")

	_, err := pager.LoadInitial(context.Background())
	require.NoError(t, err)

	stored, err := repo.LatestMessages(context.Background(), "s1", 10)
	require.NoError(t, err)
	for _, m := range stored {
		if m.SenderID == "u2" {
			assert.True(t, m.Read, "peer message %s should be read", m.ID)
		} else {
			assert.False(t, m.Read, "own message %s should be untouched", m.ID)
		}
	}
}
