package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailflow/api/handlers"
	"github.com/customeros/mailflow/api/middleware"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/tracing"
)

const appSource = "mailflow"

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, orchestrator interfaces.ListenerOrchestrator, notifications interfaces.NotificationService, states interfaces.ListenerStateRepository, messageLogs interfaces.MessageLogRepository, apikey string) {
	if orchestrator == nil || notifications == nil || states == nil || messageLogs == nil {
		panic("Services cannot be nil")
	}

	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	apiHandlers := handlers.InitHandlers(notifications, states, messageLogs)

	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.ApiKeyHeader,
		ValidAPIKey: apikey,
	})

	opsGroup := r.Group("")
	opsGroup.Use(apiKeyMiddleware)
	opsGroup.Use(middleware.CustomContextMiddleware(appSource))
	{
		opsGroup.GET("/status", handlers.Status(orchestrator))
		opsGroup.GET("/status/listeners", apiHandlers.Ops.ListenerStates())
		opsGroup.GET("/status/users/:userId", apiHandlers.Ops.ListenerState())
		opsGroup.GET("/users/:userId/message-logs", apiHandlers.Ops.UserMessageLogs())
		opsGroup.GET("/message-logs/:token", apiHandlers.Ops.MessageLog())
	}

	notificationsGroup := r.Group("/notifications")
	notificationsGroup.Use(apiKeyMiddleware)
	notificationsGroup.Use(middleware.CustomContextMiddleware(appSource))
	notificationsGroup.Use(middleware.TracingMiddleware())
	{
		notificationsGroup.POST("/users", apiHandlers.Notifications.UserCreated())
		notificationsGroup.PUT("/users", apiHandlers.Notifications.UserUpdated())
		notificationsGroup.PUT("/customers/:customerId/message-categories", apiHandlers.Notifications.MessageCategoriesUpdated())
		notificationsGroup.PUT("/users/:userId/blacklist", apiHandlers.Notifications.BlacklistUpdated())
		notificationsGroup.DELETE("/customers/:customerId/trial", apiHandlers.Notifications.CustomerTrialEnded())
	}
}
