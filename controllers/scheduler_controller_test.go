package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-scraper/config"
	"finance-scraper/models"
	"finance-scraper/scheduler"
)

// stubCycle blocks each run until release is closed.
type stubCycle struct {
	release chan struct{}
}

func (s *stubCycle) Run(ctx context.Context) models.CycleResult {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return models.CycleResult{StartedAt: time.Now(), FinishedAt: time.Now()}
}

func schedulerTestRouter(t *testing.T) (*gin.Engine, *scheduler.Scheduler, *stubCycle) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cycle := &stubCycle{release: make(chan struct{})}
	sched := scheduler.NewScheduler(config.SchedulerConfig{RunFrequency: time.Hour}, cycle)
	t.Cleanup(func() {
		sched.Shutdown()
	})

	controller := NewSchedulerController(sched, nil)
	router := gin.New()
	group := router.Group("/api/v1/scheduler")
	{
		group.GET("/status", controller.GetStatus)
		group.GET("/config", controller.GetConfig)
		group.POST("/start", controller.Start)
		group.POST("/stop", controller.Stop)
		group.POST("/run-now", controller.RunNow)
	}
	return router, sched, cycle
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestGetStatusStopped(t *testing.T) {
	router, _, _ := schedulerTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/scheduler/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "stopped", body["status"])
	assert.Nil(t, body["last_result"])
	assert.NotContains(t, body, "next_run")
}

func TestRunNowConflictWhileCycleRunning(t *testing.T) {
	router, _, cycle := schedulerTestRouter(t)

	first := doRequest(router, http.MethodPost, "/api/v1/scheduler/run-now")
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(router, http.MethodPost, "/api/v1/scheduler/run-now")
	assert.Equal(t, http.StatusConflict, second.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "cycle_in_progress", body["error"])

	close(cycle.release)
}

func TestStartStopEndpoints(t *testing.T) {
	router, sched, cycle := schedulerTestRouter(t)
	close(cycle.release)

	w := doRequest(router, http.MethodPost, "/api/v1/scheduler/start")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, scheduler.StateStopped, sched.Status().State)

	w = doRequest(router, http.MethodPost, "/api/v1/scheduler/stop")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		return sched.Status().State == scheduler.StateStopped
	}, time.Second, 5*time.Millisecond)
}

func TestGetConfigUsesWireFieldNames(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.SchedulerConfig{
		RunFrequency:          24 * time.Hour,
		SymbolRefreshInterval: 24 * time.Hour,
		MaxSymbolsPerRun:      50,
		RateLimitDelay:        time.Second,
		Jitter:                500 * time.Millisecond,
		MaxRetries:            3,
		RetryDelay:            5 * time.Second,
		InitialStartDate:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		ChunkDays:             365,
		ChunkDelay:            10 * time.Minute,
	}
	sched := scheduler.NewScheduler(cfg, &stubCycle{release: make(chan struct{})})
	defer sched.Shutdown()

	controller := NewSchedulerController(sched, nil)
	router := gin.New()
	router.GET("/config", controller.GetConfig)

	w := doRequest(router, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Config map[string]interface{} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 24.0, body.Config["run_frequency_hours"])
	assert.Equal(t, 50.0, body.Config["max_symbols_per_run"])
	assert.Equal(t, 1.0, body.Config["rate_limit_delay_seconds"])
	assert.Equal(t, 0.5, body.Config["jitter_seconds"])
	assert.Equal(t, "2020-01-01", body.Config["initial_start_date"])
	assert.Equal(t, 600.0, body.Config["download_chunk_delay_seconds"])
}
