package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/smppgateway/internal/auth"
	"github.com/thrillee/smppgateway/internal/database"
)

// Dependencies are the services the management API is built on.
type Dependencies struct {
	Store    database.Store
	Messages MessageService
	Sessions SessionRegistry
	// Ping reports whether the database is reachable. Optional.
	Ping func(context.Context) error
	// Metrics serves the Prometheus scrape endpoint. Optional.
	Metrics http.Handler
	// APIKeys guards /api/v1. Nil leaves it open.
	APIKeys *auth.KeyVerifier
}

// SetupRoutes configures the Gin engine with all API routes. The health and
// metrics endpoints sit at the root; everything else under /api/v1.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.Use(requestContext())

	router.GET("/health", func(c *gin.Context) {
		if deps.Ping != nil {
			if err := deps.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "db": "error"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	messageHandler := NewMessageHandler(deps.Store, deps.Messages)
	configHandler := NewConfigurationHandler(deps.Store, deps.Sessions)

	api := router.Group("/api/v1")
	if deps.APIKeys != nil {
		api.Use(requireAPIKey(deps.APIKeys))
	}

	// --- Message Routes ---
	msgGroup := api.Group("/messages")
	{
		msgGroup.POST("", messageHandler.SendMessage)
		msgGroup.POST("/bulk", messageHandler.SendBulk)
		msgGroup.GET("", messageHandler.ListMessages)
		msgGroup.GET("/:id", messageHandler.GetMessage)
		msgGroup.POST("/:id/query", messageHandler.QueryMessage)
		msgGroup.POST("/:id/resubmit", messageHandler.ResubmitMessage)
	}
	api.GET("/stats", messageHandler.Stats)

	// --- SMPP Configuration Routes ---
	cfgGroup := api.Group("/configurations")
	{
		cfgGroup.GET("", configHandler.ListConfigurations)
		cfgGroup.GET("/:name", configHandler.GetConfiguration)
		cfgGroup.PUT("/:name", configHandler.UpsertConfiguration)
		cfgGroup.GET("/:name/logs", configHandler.ListConnectionLogs)
	}
	api.GET("/sessions", configHandler.ListSessions)
}
