package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finance-scraper/config"
	"finance-scraper/routes"
	"finance-scraper/scheduler"
	"finance-scraper/services"

	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("==============================================")
	log.Println("  Finance Scraper API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Wire the scheduling pipeline: store -> provider -> cycle runner -> scheduler
	store := services.NewMongoStore(cfg)
	provider := services.NewYahooProvider()
	hub := services.NewCycleEventHub()
	runner := scheduler.NewCycleRunner(cfg.Scheduler, store, provider, hub)
	sched := scheduler.NewScheduler(cfg.Scheduler, runner)

	routes.SetupRoutes(router, store, sched, hub)

	// Create HTTP server with timeouts optimized for container platforms
	// Bind to 0.0.0.0 explicitly for container networking
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server IMMEDIATELY so the platform knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Connect to MongoDB and arm the scheduler in background.
	// If the database is unreachable the read API stays up in limited mode
	// and /ready reports the connection error.
	go func() {
		if err := store.Connect(); err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}
		log.Printf("Connected to MongoDB database %q", cfg.MongoDB)

		sched.Start()
		log.Printf("Scheduler armed: cycle every %v, up to %d symbols per run",
			cfg.Scheduler.RunFrequency, cfg.Scheduler.MaxSymbolsPerRun)
	}()

	gracefulShutdown(server, sched, hub, store)
}

// corsMiddleware returns a CORS middleware that allows all origins
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests in production
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, sched *scheduler.Scheduler, hub *services.CycleEventHub, store *services.MongoStore) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop the scheduler first and wait for any in-flight cycle to wind down
	sched.Shutdown()

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	hub.Shutdown()

	if err := store.Close(); err != nil {
		log.Printf("Warning: Could not close database connection: %v", err)
	} else {
		log.Println("Database connection closed")
	}

	log.Println("Server shutdown completed")
}
