package controllers

import (
	"errors"
	"net/http"

	"finance-scraper/config"
	"finance-scraper/scheduler"
	"finance-scraper/services"

	"github.com/gin-gonic/gin"
)

// SchedulerController exposes the scheduler lifecycle over HTTP.
type SchedulerController struct {
	sched *scheduler.Scheduler
	hub   *services.CycleEventHub
}

// NewSchedulerController creates a new scheduler controller. hub may be nil
// when the event stream is disabled.
func NewSchedulerController(sched *scheduler.Scheduler, hub *services.CycleEventHub) *SchedulerController {
	return &SchedulerController{sched: sched, hub: hub}
}

// GetStatus returns the current scheduler state, last cycle result, next
// scheduled run and the active configuration.
// GET /api/v1/scheduler/status
func (sc *SchedulerController) GetStatus(c *gin.Context) {
	status := sc.sched.Status()

	response := gin.H{
		"status":      status.State,
		"last_result": status.LastResult,
		"config":      configView(status.Config),
	}
	if status.NextRun != nil {
		response["next_run"] = status.NextRun
	}
	c.JSON(http.StatusOK, response)
}

// Start arms the cycle timer. Idempotent.
// POST /api/v1/scheduler/start
func (sc *SchedulerController) Start(c *gin.Context) {
	sc.sched.Start()
	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  sc.sched.Status().State,
	})
}

// Stop disarms the cycle timer. Idempotent; an in-flight cycle finishes.
// POST /api/v1/scheduler/stop
func (sc *SchedulerController) Stop(c *gin.Context) {
	sc.sched.Stop()
	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  sc.sched.Status().State,
	})
}

// RunNow triggers an immediate cycle, or reports busy if one is running.
// POST /api/v1/scheduler/run-now
func (sc *SchedulerController) RunNow(c *gin.Context) {
	if err := sc.sched.RunNow(); err != nil {
		if errors.Is(err, scheduler.ErrCycleInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "cycle_in_progress",
				"message": "A scheduler cycle is already running",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "run_failed",
			"message": "Failed to run scheduler cycle",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler cycle started",
		"status":  scheduler.StateRunning,
	})
}

// GetConfig returns the effective scheduler configuration.
// GET /api/v1/scheduler/config
func (sc *SchedulerController) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"config": configView(sc.sched.Status().Config),
	})
}

// StreamEvents upgrades to a WebSocket carrying cycle progress events.
// GET /api/v1/scheduler/events
func (sc *SchedulerController) StreamEvents(c *gin.Context) {
	if sc.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event stream not available"})
		return
	}
	sc.hub.HandleWebSocket(c.Writer, c.Request)
}

// configView renders the scheduler config with the same field names the
// configuration surface accepts.
func configView(cfg config.SchedulerConfig) gin.H {
	return gin.H{
		"run_frequency_hours":          cfg.RunFrequency.Hours(),
		"symbol_frequency_hours":       cfg.SymbolRefreshInterval.Hours(),
		"max_symbols_per_run":          cfg.MaxSymbolsPerRun,
		"rate_limit_delay_seconds":     cfg.RateLimitDelay.Seconds(),
		"jitter_seconds":               cfg.Jitter.Seconds(),
		"max_retries":                  cfg.MaxRetries,
		"retry_delay_seconds":          cfg.RetryDelay.Seconds(),
		"initial_start_date":           cfg.InitialStartDate.Format("2006-01-02"),
		"download_chunk_days":          cfg.ChunkDays,
		"download_chunk_delay_seconds": cfg.ChunkDelay.Seconds(),
	}
}
