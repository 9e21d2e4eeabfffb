package scheduler

import (
	"time"

	"finance-scraper/config"
	"finance-scraper/models"
)

// EligibilityDecision says what work a symbol needs in the current cycle.
// HistoryStart/HistoryEnd are only meaningful when NeedsHistory is true.
type EligibilityDecision struct {
	Symbol        string
	NeedsSnapshot bool
	NeedsHistory  bool
	HistoryStart  time.Time
	HistoryEnd    time.Time
}

// NeedsWork reports whether the symbol needs any processing at all.
func (d EligibilityDecision) NeedsWork() bool {
	return d.NeedsSnapshot || d.NeedsHistory
}

// truncateToDay strips the time-of-day portion, keeping the UTC calendar date.
func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Evaluate decides whether a symbol's snapshot is stale and whether a price
// backfill gap exists. Pure: no I/O, deterministic given its inputs.
//
// The snapshot is due when it has never been fetched or its age has reached
// the per-symbol refresh interval. The backfill range starts the day after
// the last stored bar (or at the configured initial start date when no bar
// exists) and ends today; an inverted range means there is no gap to fill.
func Evaluate(cfg config.SchedulerConfig, status models.SymbolStatus, now time.Time) EligibilityDecision {
	decision := EligibilityDecision{Symbol: status.Symbol}

	if status.LastSnapshotAt == nil || now.Sub(*status.LastSnapshotAt) >= cfg.SymbolRefreshInterval {
		decision.NeedsSnapshot = true
	}

	if status.LastPriceDate == nil {
		decision.HistoryStart = truncateToDay(cfg.InitialStartDate)
	} else {
		decision.HistoryStart = truncateToDay(*status.LastPriceDate).AddDate(0, 0, 1)
	}
	decision.HistoryEnd = truncateToDay(now)
	decision.NeedsHistory = !decision.HistoryStart.After(decision.HistoryEnd)

	return decision
}
