package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/internal/domain/service"
	"builderhub/internal/usecase"
	"builderhub/pkg/errors"
	"builderhub/pkg/logger"
	"builderhub/pkg/response"
	"builderhub/pkg/utils"
)

type ChatHandler struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	resolver *usecase.SessionResolver
	uploader *usecase.AttachmentUploader
	bot      *usecase.BotResponder
	notifier service.Notifier
}

func NewChatHandler(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	resolver *usecase.SessionResolver,
	uploader *usecase.AttachmentUploader,
	bot *usecase.BotResponder,
	notifier service.Notifier,
) *ChatHandler {
	return &ChatHandler{
		chatRepo: chatRepo,
		userRepo: userRepo,
		resolver: resolver,
		uploader: uploader,
		bot:      bot,
		notifier: notifier,
	}
}

type resolveSessionRequest struct {
	ContextID string `json:"context_id" validate:"required"`
	PeerID    string `json:"peer_id" validate:"required"`
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type typingRequest struct {
	Active bool `json:"active"`
}

type messagesPageResponse struct {
	Messages     []*entity.Message `json:"messages"`
	NextBeforeTS string            `json:"next_before_ts,omitempty"`
	NextBeforeID string            `json:"next_before_id,omitempty"`
	Exhausted    bool              `json:"exhausted"`
}

// ResolveSession finds or creates the session for (context, caller, peer).
func (h *ChatHandler) ResolveSession(c echo.Context) error {
	var req resolveSessionRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	if req.PeerID != entity.BotUserID {
		if _, err := h.userRepo.GetByID(c.Request().Context(), req.PeerID); err != nil {
			return response.Error(c, err)
		}
	}

	session, err := h.resolver.Resolve(c.Request().Context(), req.ContextID, userID, req.PeerID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, session)
}

// GetSession returns one session the caller participates in.
func (h *ChatHandler) GetSession(c echo.Context) error {
	session, err := h.participantSession(c)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, session)
}

// GetMessages pages backward through history. Without cursor parameters it
// returns the newest page.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	session, err := h.participantSession(c)
	if err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	params := utils.GetCursorParams(c)
	pager := usecase.NewMessagePager(h.chatRepo, session.ID, userID).WithPageSize(params.Limit)

	var page *usecase.Page
	if params.HasCursor() {
		page, err = pager.LoadMore(c.Request().Context(), repository.MessageCursor{
			Timestamp: params.BeforeTime,
			MessageID: params.BeforeID,
		})
	} else {
		page, err = pager.LoadInitial(c.Request().Context())
	}
	if err != nil {
		return response.Error(c, err)
	}

	resp := messagesPageResponse{
		Messages:  page.Messages,
		Exhausted: page.Exhausted,
	}
	if !page.Cursor.IsZero() {
		resp.NextBeforeTS = page.Cursor.Timestamp.Format(time.RFC3339Nano)
		resp.NextBeforeID = page.Cursor.MessageID
	}

	return response.Success(c, resp)
}

// SendMessage commits a text message to the session.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	session, err := h.participantSession(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	message := &entity.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		SenderID:  userID,
		Kind:      entity.KindText,
		Text:      req.Text,
	}

	if err := h.commitMessage(c.Request().Context(), session, message, req.Text); err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// SendAttachment uploads a multipart file and commits the message carrying
// it. The upload happens first; if it fails, no message is written.
func (h *ChatHandler) SendAttachment(c echo.Context) error {
	session, err := h.participantSession(c)
	if err != nil {
		return response.Error(c, err)
	}

	kind, err := entity.ParseMessageKind(c.FormValue("kind"))
	if err != nil {
		return response.Error(c, errors.Validation("Unknown attachment kind", err))
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, errors.Validation("Attachment file is required", err))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return response.Error(c, errors.Internal("Failed to read attachment", err))
	}
	defer file.Close()

	userID := c.Get("uid").(string)
	messageID := uuid.New().String()
	draft := &entity.AttachmentDraft{
		Data:      file,
		Kind:      kind,
		Name:      fileHeader.Filename,
		SizeBytes: fileHeader.Size,
		MimeType:  fileHeader.Header.Get("Content-Type"),
	}

	attachment, err := h.uploader.Upload(c.Request().Context(), session.ID, messageID, draft)
	if err != nil {
		return response.Error(c, err)
	}

	message := &entity.Message{
		ID:             messageID,
		SessionID:      session.ID,
		SenderID:       userID,
		Kind:           attachment.Kind,
		Text:           c.FormValue("text"),
		AttachmentURL:  attachment.URL,
		AttachmentName: attachment.Name,
		MimeType:       attachment.MimeType,
	}

	if err := h.commitMessage(c.Request().Context(), session, message, message.Text); err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// Typing sets or clears the caller's typing flag. HTTP clients drive their
// own expiry timer, so both edges come through here.
func (h *ChatHandler) Typing(c echo.Context) error {
	session, err := h.participantSession(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	var at *time.Time
	if req.Active {
		now := time.Now()
		at = &now
	}

	if err := h.chatRepo.SetTyping(c.Request().Context(), session.ID, userID, at); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]bool{"typing": req.Active})
}

func (h *ChatHandler) participantSession(c echo.Context) (*entity.ChatSession, error) {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}

	session, err := h.chatRepo.GetSessionByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !session.HasParticipant(userID) {
		return nil, errors.Forbidden("You are not a participant in this chat", nil)
	}
	return session, nil
}

func (h *ChatHandler) commitMessage(ctx context.Context, session *entity.ChatSession, message *entity.Message, userText string) error {
	if err := h.chatRepo.CreateMessage(ctx, message); err != nil {
		return err
	}

	summary := &entity.MessageSummary{
		Text:     message.Preview(),
		Kind:     message.Kind,
		SenderID: message.SenderID,
		Time:     message.CreatedAt,
	}
	if err := h.chatRepo.UpdateSessionSummary(ctx, session.ID, summary); err != nil {
		logger.Warn("Failed to update session summary for %s: %v", session.ID, err)
	}

	if session.IsBot() {
		go func() {
			botCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := h.bot.Respond(botCtx, session, userText); err != nil {
				logger.Warn("Bot response failed for session %s: %v", session.ID, err)
			}
		}()
		return nil
	}

	if h.notifier != nil {
		peerID := session.PeerOf(message.SenderID)
		if peerID != "" && peerID != message.SenderID {
			h.notifier.Notify(ctx, peerID, service.Notification{
				Type:      "message",
				SessionID: session.ID,
				SenderID:  message.SenderID,
				Preview:   message.Preview(),
			})
		}
	}
	return nil
}
