package usecase

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/internal/domain/service"
	"builderhub/pkg/errors"
	"builderhub/pkg/logger"
)

// State is the orchestrator's observable lifecycle phase.
type State string

const (
	StateResolving State = "resolving"
	StateReady     State = "ready"
	StateSending   State = "sending"
	// StateIdle is Ready with a failed send parked in the composer, waiting
	// for Retry or a fresh SendMessage.
	StateIdle  State = "idle"
	StateError State = "error"
)

// Event is pushed to the registered handler whenever observable state
// changes: the ordered message list, the peer typing flag, the lifecycle
// state, the degraded-connectivity flag, or a surfaced error.
type Event struct {
	Type       string            `json:"type"`
	Messages   []*entity.Message `json:"messages,omitempty"`
	PeerTyping bool              `json:"peer_typing,omitempty"`
	State      State             `json:"state,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
	Notice     string            `json:"notice,omitempty"`
}

const (
	EventMessages = "messages"
	EventTyping   = "typing"
	EventState    = "state"
	EventDegraded = "degraded"
	EventNotice   = "notice"
)

// composerState preserves failed-send input so the user can retry. The
// attachment bytes are held here, not the caller's reader: a failed upload
// attempt may have drained the reader, and a retry needs the full payload.
type composerState struct {
	text    string
	draft   *entity.AttachmentDraft
	payload []byte
}

// ChatOrchestrator composes resolver, pager, merger, presence tracker,
// uploader and bot responder into the observable state a caller renders.
// One orchestrator serves one open conversation; Close releases every
// subscription it acquired.
type ChatOrchestrator struct {
	chatRepo repository.ChatRepository
	resolver *SessionResolver
	uploader *AttachmentUploader
	bot      *BotResponder
	notifier service.Notifier

	contextID string
	selfID    string
	peerID    string

	// Tuning; zero values fall back to the component defaults.
	pageSize   int
	liveWindow int
	typingTTL  time.Duration
	recency    time.Duration

	mu         sync.Mutex
	state      State
	session    *entity.ChatSession
	pager      *MessagePager
	merger     *LiveMessageMerger
	presence   *PresenceTracker
	sessionSub repository.Subscription

	messages   []*entity.Message
	byID       map[string]struct{}
	cursor     repository.MessageCursor
	exhausted  bool
	peerTyping bool
	degraded   bool
	lastErr    error
	composer   composerState

	handlerMu sync.Mutex
	onEvent   func(Event)
}

func NewChatOrchestrator(
	chatRepo repository.ChatRepository,
	resolver *SessionResolver,
	uploader *AttachmentUploader,
	bot *BotResponder,
	notifier service.Notifier,
	contextID, selfID, peerID string,
) *ChatOrchestrator {
	return &ChatOrchestrator{
		chatRepo:  chatRepo,
		resolver:  resolver,
		uploader:  uploader,
		bot:       bot,
		notifier:  notifier,
		contextID: contextID,
		selfID:    selfID,
		peerID:    peerID,
		state:     StateResolving,
		byID:      make(map[string]struct{}),
	}
}

// WithTuning overrides the page size, live window, typing TTL, and recency
// bound. Zero values keep the defaults. Call before Open.
func (o *ChatOrchestrator) WithTuning(pageSize, liveWindow int, typingTTL, recency time.Duration) *ChatOrchestrator {
	o.pageSize = pageSize
	o.liveWindow = liveWindow
	o.typingTTL = typingTTL
	o.recency = recency
	return o
}

// OnEvent registers the single event handler. Set it before Open.
func (o *ChatOrchestrator) OnEvent(fn func(Event)) {
	o.handlerMu.Lock()
	o.onEvent = fn
	o.handlerMu.Unlock()
}

func (o *ChatOrchestrator) emit(ev Event) {
	o.handlerMu.Lock()
	fn := o.onEvent
	o.handlerMu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Open resolves the session, loads the initial page, and attaches the live
// tail and session watch. A resolution or initial-load failure is fatal to
// this attempt; the caller may Open again.
func (o *ChatOrchestrator) Open(ctx context.Context) error {
	o.setState(StateResolving)

	session, err := o.resolver.Resolve(ctx, o.contextID, o.selfID, o.peerID)
	if err != nil {
		o.fatal(err)
		return err
	}

	o.mu.Lock()
	o.session = session
	o.peerID = session.PeerOf(o.selfID)
	o.pager = NewMessagePager(o.chatRepo, session.ID, o.selfID)
	if o.pageSize > 0 {
		o.pager.WithPageSize(o.pageSize)
	}
	o.presence = NewPresenceTracker(o.chatRepo, session.ID, o.selfID)
	if o.typingTTL > 0 {
		o.presence.WithTTL(o.typingTTL)
	}
	pager := o.pager
	o.mu.Unlock()

	page, err := pager.LoadInitial(ctx)
	if err != nil {
		o.fatal(err)
		return err
	}

	o.mu.Lock()
	o.messages = append([]*entity.Message(nil), page.Messages...)
	o.byID = make(map[string]struct{}, len(page.Messages))
	for _, m := range page.Messages {
		o.byID[m.ID] = struct{}{}
	}
	o.cursor = page.Cursor
	o.exhausted = page.Exhausted
	o.mu.Unlock()

	merger := NewLiveMessageMerger(o.chatRepo, session.ID, o.selfID, o.mergeLive)
	if o.liveWindow > 0 {
		merger.WithWindow(o.liveWindow)
	}
	if o.recency > 0 {
		merger.WithRecency(o.recency)
	}
	merger.Seed(page.Messages)
	if err := merger.Start(ctx, o.transportError); err != nil {
		o.fatal(err)
		return err
	}

	sessionSub, err := o.chatRepo.SubscribeSession(ctx, session.ID, o.sessionChanged(session.ID), o.transportError)
	if err != nil {
		merger.Stop()
		o.fatal(err)
		return err
	}

	o.mu.Lock()
	o.merger = merger
	o.sessionSub = sessionSub
	o.mu.Unlock()

	o.setState(StateReady)
	o.emit(Event{Type: EventMessages, Messages: o.Messages()})
	return nil
}

// Close releases every subscription and clears this user's typing flag.
func (o *ChatOrchestrator) Close() {
	o.mu.Lock()
	merger := o.merger
	sessionSub := o.sessionSub
	presence := o.presence
	o.merger = nil
	o.sessionSub = nil
	o.mu.Unlock()

	if merger != nil {
		merger.Stop()
	}
	if sessionSub != nil {
		sessionSub.Unsubscribe()
	}
	if presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := presence.Stop(ctx); err != nil {
			logger.Warn("Close: failed to clear typing flag: %v", err)
		}
	}
}

// mergeLive is the merger's sink. The session id captured at subscribe time
// guards against a stale subscription writing into a newer session's list.
func (o *ChatOrchestrator) mergeLive(sessionID string, additions []*entity.Message) {
	o.mu.Lock()
	if o.session == nil || o.session.ID != sessionID {
		o.mu.Unlock()
		return
	}

	changed := false
	for _, m := range additions {
		if _, ok := o.byID[m.ID]; ok {
			continue
		}
		o.byID[m.ID] = struct{}{}
		o.messages = append(o.messages, m)
		changed = true
	}
	if changed {
		// Full re-sort, not append: the live tail and the backward pager can
		// race and deliver out of arrival order.
		sort.Slice(o.messages, func(i, j int) bool {
			return o.messages[i].Before(o.messages[j])
		})
	}
	o.mu.Unlock()

	if changed {
		o.emit(Event{Type: EventMessages, Messages: o.Messages()})
	}
}

func (o *ChatOrchestrator) sessionChanged(sessionID string) repository.SessionHandler {
	return func(session *entity.ChatSession) {
		o.mu.Lock()
		if o.session == nil || o.session.ID != sessionID {
			o.mu.Unlock()
			return
		}
		o.session = session
		typing := session.PeerTyping(o.peerID)
		changed := typing != o.peerTyping
		o.peerTyping = typing
		o.mu.Unlock()

		if changed {
			o.emit(Event{Type: EventTyping, PeerTyping: typing})
		}
	}
}

// SendMessage commits a message with optional out-of-band attachment upload.
// With neither text nor attachment it is a no-op: no message is created and
// no state transition happens. On failure the composer content is preserved
// and the orchestrator parks in Idle for Retry.
func (o *ChatOrchestrator) SendMessage(ctx context.Context, text string, draft *entity.AttachmentDraft) (*entity.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && draft == nil {
		return nil, nil
	}

	// Buffer the attachment source once. Each upload attempt reads a fresh
	// reader over these bytes, so a failed attempt cannot consume the data a
	// retry needs.
	var payload []byte
	if draft != nil && draft.Data != nil {
		var err error
		payload, err = io.ReadAll(draft.Data)
		if err != nil {
			return nil, errors.Upload("Failed to read attachment data", err)
		}
	}

	return o.submit(ctx, text, draft, payload)
}

func (o *ChatOrchestrator) submit(ctx context.Context, text string, draft *entity.AttachmentDraft, payload []byte) (*entity.Message, error) {
	o.mu.Lock()
	if o.state != StateReady && o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return nil, errors.BadRequest("Cannot send while "+string(state), nil)
	}
	session := o.session
	o.state = StateSending
	o.composer = composerState{text: text, draft: draft, payload: payload}
	o.mu.Unlock()
	o.emit(Event{Type: EventState, State: StateSending})

	message, err := o.send(ctx, session, text, draft, payload)
	if err != nil {
		// Composer stays populated for retry; the failed send is never
		// silently re-run.
		o.mu.Lock()
		o.state = StateIdle
		o.lastErr = err
		o.mu.Unlock()
		o.emit(Event{Type: EventState, State: StateIdle})
		o.emit(Event{Type: EventNotice, Notice: err.Error()})
		return nil, err
	}

	o.mu.Lock()
	o.state = StateReady
	o.lastErr = nil
	o.composer = composerState{}
	o.mu.Unlock()
	o.emit(Event{Type: EventState, State: StateReady})

	return message, nil
}

func (o *ChatOrchestrator) send(ctx context.Context, session *entity.ChatSession, text string, draft *entity.AttachmentDraft, payload []byte) (*entity.Message, error) {
	messageID := uuid.New().String()

	message := &entity.Message{
		ID:        messageID,
		SessionID: session.ID,
		SenderID:  o.selfID,
		Kind:      entity.KindText,
		Text:      text,
	}

	if draft != nil {
		// Upload before committing the message. An attachment failure aborts
		// the whole send, text included.
		attempt := *draft
		if payload != nil {
			attempt.Data = bytes.NewReader(payload)
		}
		attachment, err := o.uploader.Upload(ctx, session.ID, messageID, &attempt)
		if err != nil {
			return nil, err
		}
		message.Kind = attachment.Kind
		message.AttachmentURL = attachment.URL
		message.AttachmentName = attachment.Name
		message.MimeType = attachment.MimeType
	}

	if err := o.chatRepo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	summary := &entity.MessageSummary{
		Text:     message.Preview(),
		Kind:     message.Kind,
		SenderID: o.selfID,
		Time:     message.CreatedAt,
	}
	if err := o.chatRepo.UpdateSessionSummary(ctx, session.ID, summary); err != nil {
		logger.Warn("SendMessage: failed to update session summary: %v", err)
	}

	o.mu.Lock()
	presence := o.presence
	o.mu.Unlock()
	if presence != nil {
		if err := presence.Stop(ctx); err != nil {
			logger.Warn("SendMessage: failed to clear typing flag: %v", err)
		}
	}

	// Show the sender their own message immediately; the live tail will
	// deliver it again and the id dedup absorbs the echo.
	o.mergeLive(session.ID, []*entity.Message{message})

	if session.IsBot() {
		go o.respondAsBot(session, text)
	} else if o.notifier != nil && o.peerID != o.selfID {
		o.notifier.Notify(ctx, o.peerID, service.Notification{
			Type:      "message",
			SessionID: session.ID,
			SenderID:  o.selfID,
			Preview:   message.Preview(),
		})
	}

	return message, nil
}

func (o *ChatOrchestrator) respondAsBot(session *entity.ChatSession, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := o.bot.Respond(ctx, session, text); err != nil {
		logger.Warn("Bot response failed for session %s: %v", session.ID, err)
	}
}

// Retry re-runs the send parked by the last failure.
func (o *ChatOrchestrator) Retry(ctx context.Context) (*entity.Message, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, errors.BadRequest("Nothing to retry", nil)
	}
	composer := o.composer
	o.state = StateReady
	o.mu.Unlock()

	return o.submit(ctx, composer.text, composer.draft, composer.payload)
}

// LoadOlder pages backward and merges the result. Safe to call after
// exhaustion; it becomes a no-op.
func (o *ChatOrchestrator) LoadOlder(ctx context.Context) error {
	o.mu.Lock()
	if o.exhausted || o.pager == nil {
		o.mu.Unlock()
		return nil
	}
	pager := o.pager
	cursor := o.cursor
	sessionID := o.session.ID
	o.mu.Unlock()

	page, err := pager.LoadMore(ctx, cursor)
	if err != nil {
		o.transportError(err)
		return err
	}

	o.mu.Lock()
	if o.session == nil || o.session.ID != sessionID {
		o.mu.Unlock()
		return nil
	}
	changed := false
	for _, m := range page.Messages {
		if _, ok := o.byID[m.ID]; ok {
			continue
		}
		o.byID[m.ID] = struct{}{}
		o.messages = append(o.messages, m)
		changed = true
	}
	if changed {
		sort.Slice(o.messages, func(i, j int) bool {
			return o.messages[i].Before(o.messages[j])
		})
	}
	if len(page.Messages) > 0 {
		o.cursor = page.Cursor
	}
	o.exhausted = page.Exhausted
	o.mu.Unlock()

	if changed {
		o.emit(Event{Type: EventMessages, Messages: o.Messages()})
	}
	return nil
}

// Typing records composer activity for this user.
func (o *ChatOrchestrator) Typing(ctx context.Context) error {
	o.mu.Lock()
	presence := o.presence
	session := o.session
	o.mu.Unlock()

	if presence == nil || session == nil {
		return errors.Precondition("Chat is not open", nil)
	}
	// The assistant session has no human peer watching the flag.
	if session.IsBot() {
		return nil
	}
	return presence.Signal(ctx)
}

// SetDegraded toggles the connectivity flag from an external network
// observer. Sends remain optimistic while degraded.
func (o *ChatOrchestrator) SetDegraded(degraded bool) {
	o.mu.Lock()
	changed := o.degraded != degraded
	o.degraded = degraded
	o.mu.Unlock()

	if changed {
		o.emit(Event{Type: EventDegraded, Degraded: degraded})
	}
}

func (o *ChatOrchestrator) transportError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	o.emit(Event{Type: EventNotice, Notice: err.Error()})
}

func (o *ChatOrchestrator) fatal(err error) {
	o.mu.Lock()
	o.state = StateError
	o.lastErr = err
	o.mu.Unlock()
	logger.Error("%s", logger.WithContext(o.contextID, "chat open failed: %v", err))
	o.emit(Event{Type: EventState, State: StateError})
}

func (o *ChatOrchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
	o.emit(Event{Type: EventState, State: state})
}

// Messages returns a snapshot of the displayed list, ascending by timestamp.
func (o *ChatOrchestrator) Messages() []*entity.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*entity.Message(nil), o.messages...)
}

func (o *ChatOrchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *ChatOrchestrator) Session() *entity.ChatSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *ChatOrchestrator) PeerTyping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peerTyping
}

func (o *ChatOrchestrator) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

func (o *ChatOrchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Exhausted reports whether the full history has been paged in.
func (o *ChatOrchestrator) Exhausted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exhausted
}
