package routes

import (
	"net/http"
	"time"

	"finance-scraper/controllers"
	"finance-scraper/middleware"
	"finance-scraper/scheduler"
	"finance-scraper/services"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, store *services.MongoStore, sched *scheduler.Scheduler, hub *services.CycleEventHub) {
	// Initialize controllers
	stockController := controllers.NewStockController(store)
	schedulerController := controllers.NewSchedulerController(sched, hub)

	// Public read endpoints are rate limited per client IP
	readLimiter := middleware.NewRateLimiter(120, time.Minute)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Stock read routes
		stocks := api.Group("/stock", middleware.RequestRateLimit(readLimiter))
		{
			stocks.GET("/:symbol", stockController.GetStockInfo)
			stocks.GET("/:symbol/price", stockController.GetStockPrice)
			stocks.GET("/:symbol/history", stockController.GetStockHistory)
		}

		// Scheduler lifecycle routes
		lifecycle := api.Group("/scheduler")
		{
			lifecycle.GET("/status", schedulerController.GetStatus)
			lifecycle.GET("/config", schedulerController.GetConfig)
			lifecycle.POST("/start", schedulerController.Start)
			lifecycle.POST("/stop", schedulerController.Stop)
			lifecycle.POST("/run-now", schedulerController.RunNow)
			lifecycle.GET("/events", schedulerController.StreamEvents)
		}

		// Database admin routes
		database := api.Group("/database")
		{
			database.GET("/stats", stockController.GetDatabaseStats)
			database.DELETE("/:symbol", stockController.ClearSymbol)
			database.DELETE("", stockController.ClearDatabase)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		mongoStatus := "disconnected"
		if store.IsConnected() {
			mongoStatus = "connected"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "finance-scraper",
			"mongodb": mongoStatus,
		})
	})

	// Readiness check: storage must be reachable
	router.GET("/ready", func(c *gin.Context) {
		if !store.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  store.LastError(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}
