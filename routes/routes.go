package routes

import (
	"log"
	"net/http"

	"stock_data_backend/admin"
	"stock_data_backend/controllers"
	"stock_data_backend/middleware"
	"stock_data_backend/scheduler"
	"stock_data_backend/services/ratelimit"
	"stock_data_backend/services/recovery"
	"stock_data_backend/services/refresh"
	"stock_data_backend/services/stream"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps bundles everything the route handlers need
type Deps struct {
	DB        *gorm.DB
	Manager   *refresh.Manager
	DLQ       *recovery.DeadLetterQueue
	Limiters  *ratelimit.Registry
	Hub       *stream.Hub
	Scheduler *scheduler.Scheduler
	JWTSecret string
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	// Initialize controllers
	stockController := controllers.NewStockController(deps.DB)
	refreshController := controllers.NewRefreshController(deps.Manager, deps.DLQ, deps.Limiters)
	authController := admin.NewAuthController(deps.DB, deps.JWTSecret)

	// Admin login
	router.POST("/admin/login", authController.Login)

	// Live quote websocket stream
	router.GET("/ws/live", func(c *gin.Context) {
		if err := deps.Hub.HandleConnection(c.Writer, c.Request); err != nil {
			log.Printf("Websocket connection rejected: %v", err)
		}
	})

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Stock routes
		stocks := api.Group("/stocks")
		{
			stocks.GET("", stockController.GetStocks)
			stocks.GET("/:symbol/prices", stockController.GetStockPrices)
			stocks.GET("/:symbol/ingestion-state", stockController.GetIngestionState)
		}

		// Refresh routes
		refreshGroup := api.Group("/refresh")
		{
			refreshGroup.GET("/candidates", refreshController.GetRefreshCandidates)
			refreshGroup.GET("/limits", refreshController.GetRateLimiterStats)

			// Mutating refresh operations require an admin token
			protected := refreshGroup.Group("")
			protected.Use(middleware.JWTAuthMiddleware(deps.JWTSecret))
			{
				protected.POST("/:symbol", refreshController.RefreshSymbol)
			}
		}

		// Dead letter queue routes
		dlq := api.Group("/dlq")
		{
			dlq.GET("", refreshController.GetDLQItems)

			protected := dlq.Group("")
			protected.Use(middleware.JWTAuthMiddleware(deps.JWTSecret))
			{
				protected.POST("/:id/resolve", refreshController.ResolveDLQItem)
			}
		}

		// Scheduler status
		api.GET("/scheduler/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"jobs":       deps.Scheduler.Status(),
				"ws_clients": deps.Hub.ClientCount(),
			})
		})
	}
}
