package api

import (
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SetupRoutes mounts the gateway on router. guard de-duplicates sends.
func SetupRoutes(router *gin.Engine, backend Backend, cfg *config.Config, guard SendGuard, logger zerolog.Logger) {
	server := NewServer(backend, cfg, logger)
	chatHandler := NewChatHandler(backend, guard, logger)
	uploadHandler := NewUploadHandler(backend, cfg.Attachments.MaxBytes, logger)
	notificationHandler := NewNotificationHandler(backend)
	limited := middleware.RateLimit(middleware.NewRateLimitStore(cfg.RateLimit.Rate, cfg.RateLimit.Limit))

	// Multipart bodies beyond this spill to disk.
	router.MaxMultipartMemory = 4 * cfg.Attachments.MaxBytes

	router.Use(middleware.CORS(cfg.GetCORSOrigins()))

	router.GET("/health", server.Health)

	v1 := router.Group("/api/v1")
	{
		// Auth routes (no authentication required)
		v1.POST("/auth/login", limited, server.Login)

		// Protected routes (authentication required)
		protected := v1.Group("/")
		protected.Use(middleware.AuthMiddleware(backend))
		{
			protected.GET("/me", server.Me)

			conversations := protected.Group("/conversations")
			{
				conversations.POST("", chatHandler.ResolveConversation)
				conversations.GET("", chatHandler.ListConversations)
				conversations.GET("/:id/messages", chatHandler.GetMessages)
				conversations.POST("/:id/messages", limited, chatHandler.SendMessage)
				conversations.GET("/:id/unlock", chatHandler.GetUnlock)
				conversations.POST("/:id/read", chatHandler.MarkRead)
				conversations.GET("/:id/ws", chatHandler.ChatSocket(newUpgrader(cfg.GetCORSOrigins())))
			}
			protected.GET("/inbox/ws", chatHandler.InboxSocket(newUpgrader(cfg.GetCORSOrigins())))

			uploads := protected.Group("/uploads")
			{
				uploads.POST("", limited, uploadHandler.UploadFiles)
				uploads.DELETE("", uploadHandler.DeleteFile)
			}
			protected.POST("/storage/signed-upload", limited, uploadHandler.SignedUpload)

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", notificationHandler.List)
				notifications.POST("/read", notificationHandler.MarkRead)
			}
		}
	}
}
