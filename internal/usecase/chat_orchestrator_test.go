package usecase

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builderhub/internal/adapter/repository"
	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/service"
	"builderhub/pkg/errors"
)

// fakeNotifier records notifications instead of dispatching them.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []service.Notification
	users []string
}

func (n *fakeNotifier) Notify(ctx context.Context, recipientID string, notification service.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, recipientID)
	n.sent = append(n.sent, notification)
}

type orchestratorFixture struct {
	repo     *repository.MemoryChatRepository
	files    *fakeFileService
	notifier *fakeNotifier
	orch     *ChatOrchestrator
}

func newOrchestratorFixture(t *testing.T, contextID, selfID, peerID string) *orchestratorFixture {
	t.Helper()
	repo := repository.NewMemoryChatRepository()
	files := &fakeFileService{}
	notifier := &fakeNotifier{}

	orch := NewChatOrchestrator(
		repo,
		NewSessionResolver(repo),
		NewAttachmentUploader(files),
		NewBotResponder(repo).WithDelay(time.Millisecond, 2*time.Millisecond),
		notifier,
		contextID, selfID, peerID,
	)
	t.Cleanup(orch.Close)

	return &orchestratorFixture{repo: repo, files: files, notifier: notifier, orch: orch}
}

func seedSession(t *testing.T, repo *repository.MemoryChatRepository, id, contextID string, participants ...string) {
	t.Helper()
	session := &entity.ChatSession{ID: id, ContextID: contextID, Participants: participants}
	require.NoError(t, repo.CreateSession(context.Background(), session))
}

func messageIDs(messages []*entity.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestOpenLoadsNewestPage(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	seedSession(t, f.repo, "s1", "listing_42", "u1", "u2")
	seedHistory(t, f.repo, "s1", 25)

	require.NoError(t, f.orch.Open(context.Background()))

	assert.Equal(t, StateReady, f.orch.State())
	assert.Equal(t, "s1", f.orch.Session().ID)
	messages := f.orch.Messages()
	assert.Len(t, messages, DefaultPageSize)
	assertAscending(t, messages)
	assert.False(t, f.orch.Exhausted())
}

func TestSendRequiresContent(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	require.NoError(t, f.orch.Open(context.Background()))

	message, err := f.orch.SendMessage(context.Background(), "   \n ", nil)
	require.NoError(t, err)
	assert.Nil(t, message)
	assert.Equal(t, StateReady, f.orch.State())
	assert.Empty(t, f.orch.Messages())
}

func TestSendDeliversExactlyOnce(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	require.NoError(t, f.orch.Open(context.Background()))
	ctx := context.Background()

	sent, err := f.orch.SendMessage(ctx, "is the ladder still available?", nil)
	require.NoError(t, err)
	require.NotNil(t, sent)

	// The direct merge and the live-tail echo both carry this id; the list
	// must hold it once.
	messages := f.orch.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, sent.ID, messages[0].ID)
	assert.Equal(t, StateReady, f.orch.State())

	session, err := f.repo.GetSessionByID(ctx, f.orch.Session().ID)
	require.NoError(t, err)
	require.NotNil(t, session.LastMessage)
	assert.Equal(t, "is the ladder still available?", session.LastMessage.Text)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.users, 1)
	assert.Equal(t, "u2", f.notifier.users[0])
}

func TestSendUploadFailurePreservesComposerForRetry(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	require.NoError(t, f.orch.Open(context.Background()))
	ctx := context.Background()

	f.files.failWith = assert.AnError
	draft := &entity.AttachmentDraft{
		Data:     strings.NewReader("%PDF-1.7"),
		Kind:     entity.KindDocument,
		Name:     "quote.pdf",
		MimeType: "application/pdf",
	}

	_, err := f.orch.SendMessage(ctx, "here is the quote", draft)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "UPLOAD_FAILED"))
	assert.Equal(t, StateIdle, f.orch.State())
	assert.Empty(t, f.orch.Messages(), "a failed attachment aborts the whole send")

	// Storage recovers; the preserved composer goes through unchanged.
	f.files.failWith = nil
	retried, err := f.orch.Retry(ctx)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, "here is the quote", retried.Text)
	assert.Equal(t, entity.KindDocument, retried.Kind)
	assert.NotEmpty(t, retried.AttachmentURL)
	assert.Equal(t, StateReady, f.orch.State())
	require.Len(t, f.orch.Messages(), 1)
}

// drainingFileService consumes the upload stream before reporting the
// outcome, the way a real transfer fails partway through.
type drainingFileService struct {
	failures int
	received []int
}

func (s *drainingFileService) UploadFile(ctx context.Context, file io.Reader, fileType, folder string, isPublic bool) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	s.received = append(s.received, len(data))
	if s.failures > 0 {
		s.failures--
		return "", assert.AnError
	}
	return "https://storage.googleapis.com/test-bucket/" + folder, nil
}

func (s *drainingFileService) DeleteFile(ctx context.Context, fileURL string) error { return nil }

func (s *drainingFileService) Close() error { return nil }

func TestRetryResendsFullAttachmentPayload(t *testing.T) {
	repo := repository.NewMemoryChatRepository()
	files := &drainingFileService{failures: 1}
	orch := NewChatOrchestrator(
		repo,
		NewSessionResolver(repo),
		NewAttachmentUploader(files),
		NewBotResponder(repo).WithDelay(time.Millisecond, 2*time.Millisecond),
		&fakeNotifier{},
		"listing_42", "u1", "u2",
	)
	t.Cleanup(orch.Close)
	ctx := context.Background()
	require.NoError(t, orch.Open(ctx))

	payload := strings.Repeat("x", 30)
	draft := &entity.AttachmentDraft{
		Data:     strings.NewReader(payload),
		Kind:     entity.KindDocument,
		Name:     "quote.pdf",
		MimeType: "application/pdf",
	}

	_, err := orch.SendMessage(ctx, "", draft)
	require.Error(t, err)
	require.Equal(t, StateIdle, orch.State())
	require.Equal(t, []int{30}, files.received, "first attempt drained the source")

	// The composer holds the buffered bytes, not the spent reader, so the
	// retried upload carries the whole payload again.
	retried, err := orch.Retry(ctx)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.NotEmpty(t, retried.AttachmentURL)
	assert.Equal(t, []int{30, 30}, files.received, "retried upload should carry the full payload")
}

func TestRetryWithoutParkedSend(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	require.NoError(t, f.orch.Open(context.Background()))

	_, err := f.orch.Retry(context.Background())
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestLoadOlderWalksToExhaustion(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	seedSession(t, f.repo, "s1", "listing_42", "u1", "u2")
	seedHistory(t, f.repo, "s1", 45)
	ctx := context.Background()

	require.NoError(t, f.orch.Open(ctx))
	require.Len(t, f.orch.Messages(), 20)

	require.NoError(t, f.orch.LoadOlder(ctx))
	assert.Len(t, f.orch.Messages(), 40)
	assert.False(t, f.orch.Exhausted())

	require.NoError(t, f.orch.LoadOlder(ctx))
	messages := f.orch.Messages()
	assert.Len(t, messages, 45)
	assert.True(t, f.orch.Exhausted())
	assertAscending(t, messages)

	// Past the end: quiet no-op.
	require.NoError(t, f.orch.LoadOlder(ctx))
	assert.Len(t, f.orch.Messages(), 45)
}

func TestLiveArrivalsMergeWithoutDuplicates(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	seedSession(t, f.repo, "s1", "listing_42", "u1", "u2")
	seedHistory(t, f.repo, "s1", 5)
	ctx := context.Background()

	require.NoError(t, f.orch.Open(ctx))
	require.Len(t, f.orch.Messages(), 5)

	incoming := &entity.Message{ID: "live-1", SessionID: "s1", SenderID: "u2", Kind: entity.KindText, Text: "still there?"}
	require.NoError(t, f.repo.CreateMessage(ctx, incoming))
	// The read receipt triggers a second snapshot with the same id.
	messages := f.orch.Messages()
	require.Len(t, messages, 6)
	assertAscending(t, messages)

	seen := map[string]int{}
	for _, id := range messageIDs(messages) {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s duplicated", id)
	}
}

func TestPeerTypingFollowsSessionDocument(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	seedSession(t, f.repo, "s1", "listing_42", "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.orch.Open(ctx))
	assert.False(t, f.orch.PeerTyping())

	now := time.Now()
	require.NoError(t, f.repo.SetTyping(ctx, "s1", "u2", &now))
	assert.True(t, f.orch.PeerTyping())

	require.NoError(t, f.repo.SetTyping(ctx, "s1", "u2", nil))
	assert.False(t, f.orch.PeerTyping())
}

func TestBotSessionRepliesAfterSend(t *testing.T) {
	f := newOrchestratorFixture(t, entity.BotContextID, "u1", entity.BotUserID)
	ctx := context.Background()

	require.NoError(t, f.orch.Open(ctx))
	assert.Equal(t, entity.BotSessionID("u1"), f.orch.Session().ID)

	_, err := f.orch.SendMessage(ctx, "hello", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, m := range f.orch.Messages() {
			if m.SenderID == entity.BotUserID {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "bot reply should arrive through the live tail")

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Empty(t, f.notifier.users, "assistant chat never notifies a human peer")
}

func TestCloseStopsDeliveries(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	seedSession(t, f.repo, "s1", "listing_42", "u1", "u2")
	ctx := context.Background()

	require.NoError(t, f.orch.Open(ctx))
	f.orch.Close()

	late := &entity.Message{ID: "late-1", SessionID: "s1", SenderID: "u2", Kind: entity.KindText, Text: "too late"}
	require.NoError(t, f.repo.CreateMessage(ctx, late))
	assert.Empty(t, f.orch.Messages())
}

func TestEventsAnnounceStateTransitions(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")

	var mu sync.Mutex
	var states []State
	f.orch.OnEvent(func(ev Event) {
		if ev.Type == EventState {
			mu.Lock()
			states = append(states, ev.State)
			mu.Unlock()
		}
	})

	ctx := context.Background()
	require.NoError(t, f.orch.Open(ctx))
	_, err := f.orch.SendMessage(ctx, "hi", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateResolving, StateReady, StateSending, StateReady}, states)
}

func TestSetDegradedTogglesFlag(t *testing.T) {
	f := newOrchestratorFixture(t, "listing_42", "u1", "u2")
	require.NoError(t, f.orch.Open(context.Background()))

	var mu sync.Mutex
	var flags []bool
	f.orch.OnEvent(func(ev Event) {
		if ev.Type == EventDegraded {
			mu.Lock()
			flags = append(flags, ev.Degraded)
			mu.Unlock()
		}
	})

	f.orch.SetDegraded(true)
	f.orch.SetDegraded(true) // no repeat event
	f.orch.SetDegraded(false)

	assert.True(t, f.orch.Degraded() == false)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, flags)
}
