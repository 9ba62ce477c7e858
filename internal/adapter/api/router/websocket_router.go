package router

import (
	"github.com/labstack/echo/v4"

	"builderhub/internal/adapter/api/handler"
)

// SetupWebSocketRouter wires the live chat endpoint. Auth happens inside the
// handler via the token query parameter.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws/chat", wsHandler.HandleChat)
}
