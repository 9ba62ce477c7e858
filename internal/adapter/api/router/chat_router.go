package router

import (
	"github.com/labstack/echo/v4"

	"builderhub/internal/adapter/api/handler"
	"builderhub/internal/adapter/api/middleware"
)

// SetupChatRouter wires the REST chat surface (the WebSocket surface lives
// in its own router).
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware, rateLimitMiddleware *middleware.RateLimitMiddleware) {
	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.POST("/resolve", chatHandler.ResolveSession, rateLimitMiddleware.Limit("resolve_session"))
	chatGroup.GET("/:id", chatHandler.GetSession)
	chatGroup.GET("/:id/messages", chatHandler.GetMessages)
	chatGroup.POST("/:id/messages", chatHandler.SendMessage, rateLimitMiddleware.Limit("send_message"))
	chatGroup.POST("/:id/attachments", chatHandler.SendAttachment, rateLimitMiddleware.Limit("send_message"))
	chatGroup.POST("/:id/typing", chatHandler.Typing, rateLimitMiddleware.Limit("typing"))
}
