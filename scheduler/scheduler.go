// Package scheduler is the refresh engine of the finance scraper. It decides
// which symbols are due for a snapshot refresh or a historical backfill,
// fetches them from the provider under rate-limit/retry policy, persists the
// results in bulk, and exposes a start/stop/run-now lifecycle driven by a
// periodic timer.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"finance-scraper/config"
	"finance-scraper/models"

	"github.com/go-co-op/gocron"
)

// State is the lifecycle phase reported by Status.
type State string

const (
	StateStopped   State = "stopped"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

// ErrCycleInProgress is returned by RunNow while a cycle is executing.
// The request is rejected, not queued.
var ErrCycleInProgress = errors.New("cycle already in progress")

// CycleExecutor runs one scheduler pass. Satisfied by *CycleRunner.
type CycleExecutor interface {
	Run(ctx context.Context) models.CycleResult
}

// Status is a point-in-time snapshot of the scheduler for reporting. Reading
// it never blocks on a running cycle.
type Status struct {
	State      State                  `json:"state"`
	LastResult *models.CycleResult    `json:"last_result"`
	NextRun    *time.Time             `json:"next_run"`
	Config     config.SchedulerConfig `json:"config"`
}

// Scheduler owns the periodic timer and guarantees that at most one cycle
// executes at a time: the timer tick and manual run-now requests funnel into
// the same single-flight guard.
type Scheduler struct {
	cfg    config.SchedulerConfig
	runner CycleExecutor

	mu           sync.RWMutex
	cron         *gocron.Scheduler
	job          *gocron.Job
	armed        bool
	cycleRunning bool
	lastResult   *models.CycleResult

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped scheduler around the given cycle executor.
func NewScheduler(cfg config.SchedulerConfig, runner CycleExecutor) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Start arms the recurring cycle timer. Calling Start while already armed is
// a no-op. The first cycle runs immediately, subsequent ones at the
// configured frequency.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed {
		log.Println("Scheduler is already running")
		return
	}

	s.cron = gocron.NewScheduler(time.UTC)
	job, err := s.cron.Every(s.cfg.RunFrequency).Do(s.tick)
	if err != nil {
		log.Printf("Failed to schedule cycle job: %v", err)
		s.cron = nil
		return
	}
	s.job = job
	s.cron.StartAsync()
	s.armed = true

	log.Printf("Scheduler started with %s frequency", s.cfg.RunFrequency)
}

// Stop disarms the timer. An in-flight cycle is left to finish; no further
// cycle will start. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed {
		return
	}

	s.cron.Stop()
	s.cron = nil
	s.job = nil
	s.armed = false
	log.Println("Scheduler stopped")
}

// Shutdown stops the timer, signals the running cycle to wind down at its
// next checkpoint and waits for it. Used on process exit.
func (s *Scheduler) Shutdown() {
	s.Stop()
	s.cancel()
	s.wg.Wait()
}

// RunNow triggers an immediate out-of-band cycle without disturbing the
// regular timer schedule. Returns ErrCycleInProgress if one is running.
func (s *Scheduler) RunNow() error {
	if err := s.launchCycle(); err != nil {
		return err
	}
	log.Println("Manual cycle triggered")
	return nil
}

// IsRunning reports whether a cycle is currently executing.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycleRunning
}

// Status returns the current lifecycle snapshot. Always available.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		State:      StateStopped,
		LastResult: s.lastResult,
		Config:     s.cfg,
	}
	if s.armed {
		status.State = StateScheduled
	}
	if s.cycleRunning {
		status.State = StateRunning
	}
	if s.job != nil {
		next := s.job.NextRun()
		if !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// tick is the periodic timer callback. A tick arriving while a cycle is in
// progress is coalesced, never run concurrently.
func (s *Scheduler) tick() {
	if err := s.launchCycle(); err != nil {
		log.Println("Scheduled tick skipped: cycle already in progress")
	}
}

// launchCycle is the single-flight gate shared by the timer and RunNow.
func (s *Scheduler) launchCycle() error {
	s.mu.Lock()
	if s.cycleRunning {
		s.mu.Unlock()
		return ErrCycleInProgress
	}
	s.cycleRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result := s.runner.Run(s.baseCtx)

		s.mu.Lock()
		s.lastResult = &result
		s.cycleRunning = false
		s.mu.Unlock()
	}()
	return nil
}
