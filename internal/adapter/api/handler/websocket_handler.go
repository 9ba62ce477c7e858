package handler

import (
	"context"
	"encoding/json"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"builderhub/internal/domain/repository"
	"builderhub/internal/infrastructure/firebase"
	"builderhub/internal/infrastructure/ratelimit"
	ws "builderhub/internal/infrastructure/websocket"
	"builderhub/internal/usecase"
	"builderhub/pkg/config"
	"builderhub/pkg/errors"
	"builderhub/pkg/logger"
)

// WebSocketHandler opens one live conversation per connection: the client
// connects with a context and peer, and an orchestrator streams state events
// back until the socket drops.
type WebSocketHandler struct {
	wsManager  *ws.Manager
	authClient *firebase.AuthClient
	limiter    *ratelimit.RateLimiter

	chatRepo repository.ChatRepository
	resolver *usecase.SessionResolver
	uploader *usecase.AttachmentUploader
	bot      *usecase.BotResponder
	cfg      *config.Config
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // You should restrict this in production
	},
}

func NewWebSocketHandler(
	wsManager *ws.Manager,
	authClient *firebase.AuthClient,
	limiter *ratelimit.RateLimiter,
	chatRepo repository.ChatRepository,
	resolver *usecase.SessionResolver,
	uploader *usecase.AttachmentUploader,
	bot *usecase.BotResponder,
	cfg *config.Config,
) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:  wsManager,
		authClient: authClient,
		limiter:    limiter,
		chatRepo:   chatRepo,
		resolver:   resolver,
		uploader:   uploader,
		bot:        bot,
		cfg:        cfg,
	}
}

// clientCommand is what the connected client sends over the socket.
type clientCommand struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
	Active bool   `json:"active,omitempty"`
}

// HandleChat authenticates via the token query parameter (browsers cannot
// set headers on WebSocket dials), resolves the requested conversation, and
// streams orchestrator events until the connection closes.
func (h *WebSocketHandler) HandleChat(c echo.Context) error {
	token := c.QueryParam("token")
	userID, err := h.authClient.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return errors.Unauthorized("Authentication required", err)
	}

	contextID := c.QueryParam("context_id")
	peerID := c.QueryParam("peer_id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := &ws.Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	h.wsManager.Register <- client

	// The subscriptions must outlive this handler; the request context dies
	// with it.
	connCtx, cancel := context.WithCancel(context.Background())

	orch := usecase.NewChatOrchestrator(
		h.chatRepo,
		h.resolver,
		h.uploader,
		h.bot,
		h.wsManager,
		contextID, userID, peerID,
	).WithTuning(h.cfg.ChatPageSize, h.cfg.ChatLiveWindow, h.cfg.TypingTTL, h.cfg.RecencyThreshold)
	orch.OnEvent(func(ev usecase.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Error("Failed to marshal chat event: %v", err)
			return
		}
		h.wsManager.SendToUser(userID, payload)
	})

	go client.WritePump()
	go func() {
		defer cancel()
		defer orch.Close()

		if err := orch.Open(connCtx); err != nil {
			logger.Error("Failed to open chat for %s: %v", userID, err)
			client.ReadPump(h.wsManager, nil)
			return
		}

		client.ReadPump(h.wsManager, func(raw []byte) {
			h.dispatch(connCtx, orch, userID, raw)
		})
	}()

	return nil
}

func (h *WebSocketHandler) dispatch(ctx context.Context, orch *usecase.ChatOrchestrator, userID string, raw []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.notice(userID, "Malformed command")
		return
	}

	if allowed, _ := h.limiter.Allow(userID, commandAction(cmd.Action)); !allowed {
		h.notice(userID, "Rate limit exceeded")
		return
	}

	switch cmd.Action {
	case "send":
		if _, err := orch.SendMessage(ctx, cmd.Text, nil); err != nil {
			h.notice(userID, err.Error())
		}
	case "retry":
		if _, err := orch.Retry(ctx); err != nil {
			h.notice(userID, err.Error())
		}
	case "typing":
		if !cmd.Active {
			return
		}
		if err := orch.Typing(ctx); err != nil {
			h.notice(userID, err.Error())
		}
	case "load_more":
		if err := orch.LoadOlder(ctx); err != nil {
			h.notice(userID, err.Error())
		}
	default:
		h.notice(userID, "Unknown action: "+cmd.Action)
	}
}

func commandAction(action string) string {
	switch action {
	case "send":
		return "send_message"
	case "typing":
		return "typing"
	default:
		return "chat_command"
	}
}

func (h *WebSocketHandler) notice(userID, text string) {
	payload, err := json.Marshal(usecase.Event{Type: usecase.EventNotice, Notice: text})
	if err != nil {
		return
	}
	h.wsManager.SendToUser(userID, payload)
}
