package scheduler

import (
	"context"
	"log"
	"sort"
	"time"

	"finance-scraper/config"
	"finance-scraper/models"
)

// SymbolStore is the persistence layer the scheduler reads its inventory from
// and writes refreshed records back to.
type SymbolStore interface {
	// ListSymbols returns every tracked symbol with its freshness markers.
	ListSymbols(ctx context.Context) ([]models.SymbolStatus, error)
	// UpsertSnapshot replaces the live snapshot document for a symbol.
	UpsertSnapshot(ctx context.Context, snapshot models.Snapshot) error
	// BulkUpsertPriceBars writes bars idempotently keyed by (symbol, date).
	BulkUpsertPriceBars(ctx context.Context, symbol string, bars []models.PriceBar) error
}

// EventSink receives progress notifications from a running cycle. Sinks must
// not block; the scheduler calls them inline between symbols.
type EventSink interface {
	CycleStarted(considered int)
	SymbolProcessed(symbol string, succeeded bool)
	CycleFinished(result models.CycleResult)
}

// CycleRunner executes one full scheduler pass over the symbol inventory.
// Symbols are processed strictly sequentially; sequencing plus the rate
// limiter and the inter-chunk delay are the throttling mechanism.
type CycleRunner struct {
	cfg      config.SchedulerConfig
	store    SymbolStore
	provider Provider
	limiter  *RateLimiter
	retrier  *Retrier
	chunker  *ChunkedFetcher
	events   EventSink
	now      func() time.Time
}

// NewCycleRunner wires a cycle runner from its collaborators. events may be nil.
func NewCycleRunner(cfg config.SchedulerConfig, store SymbolStore, provider Provider, events EventSink) *CycleRunner {
	limiter := NewRateLimiter(cfg.RateLimitDelay, cfg.Jitter)
	retrier := NewRetrier(cfg.MaxRetries, cfg.RetryDelay)
	return &CycleRunner{
		cfg:      cfg,
		store:    store,
		provider: provider,
		limiter:  limiter,
		retrier:  retrier,
		chunker:  NewChunkedFetcher(provider, limiter, retrier, cfg.ChunkDays, cfg.ChunkDelay),
		events:   events,
		now:      time.Now,
	}
}

// Run executes a single cycle and returns its summary. A failure to read the
// symbol inventory aborts the cycle; any later failure is isolated to its
// symbol and recorded in the result.
func (r *CycleRunner) Run(ctx context.Context) models.CycleResult {
	now := r.now()
	result := models.CycleResult{StartedAt: now}

	statuses, err := r.store.ListSymbols(ctx)
	if err != nil {
		log.Printf("Failed to read symbol list, skipping cycle: %v", err)
		result.Errors = append(result.Errors, models.SymbolError{
			Kind:    models.ErrStorageReadFailed,
			Message: err.Error(),
		})
		result.FinishedAt = r.now()
		return result
	}

	candidates := r.selectCandidates(statuses, now)
	result.Considered = len(candidates)

	if len(candidates) == 0 {
		log.Println("No symbols need updating in this cycle")
		result.FinishedAt = r.now()
		return result
	}
	log.Printf("Found %d symbols that need updating", len(candidates))

	if r.events != nil {
		r.events.CycleStarted(len(candidates))
	}

	for i, decision := range candidates {
		if ctx.Err() != nil {
			log.Println("Stop requested, interrupting cycle")
			result.Interrupted = true
			break
		}

		log.Printf("Processing symbol %d/%d: %s", i+1, len(candidates), decision.Symbol)
		errs := r.processSymbol(ctx, decision, &result)
		if len(errs) == 0 {
			result.Updated++
		} else {
			result.Failed++
			result.Errors = append(result.Errors, errs...)
			log.Printf("Failed to process symbol %s", decision.Symbol)
		}
		if r.events != nil {
			r.events.SymbolProcessed(decision.Symbol, len(errs) == 0)
		}
	}

	result.FinishedAt = r.now()
	log.Printf("Cycle completed: %d/%d symbols processed successfully",
		result.Updated, result.Considered)

	if r.events != nil {
		r.events.CycleFinished(result)
	}
	return result
}

// selectCandidates filters the inventory down to symbols that need work,
// orders them least-recently-updated first and truncates to the per-run
// budget. The ordering matters: under a persistent backlog every stale
// symbol must eventually get serviced.
func (r *CycleRunner) selectCandidates(statuses []models.SymbolStatus, now time.Time) []EligibilityDecision {
	type candidate struct {
		decision EligibilityDecision
		lastSeen time.Time
	}

	var candidates []candidate
	for _, status := range statuses {
		decision := Evaluate(r.cfg, status, now)
		if !decision.NeedsWork() {
			continue
		}
		c := candidate{decision: decision}
		if status.LastSnapshotAt != nil {
			c.lastSeen = *status.LastSnapshotAt
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].lastSeen.Before(candidates[j].lastSeen)
	})

	if r.cfg.MaxSymbolsPerRun > 0 && len(candidates) > r.cfg.MaxSymbolsPerRun {
		candidates = candidates[:r.cfg.MaxSymbolsPerRun]
	}

	decisions := make([]EligibilityDecision, len(candidates))
	for i, c := range candidates {
		decisions[i] = c.decision
	}
	return decisions
}

// processSymbol runs the snapshot refresh and the backfill for one symbol.
// A failed snapshot does not skip the backfill leg; every failure is
// returned so the cycle can record it.
func (r *CycleRunner) processSymbol(ctx context.Context, decision EligibilityDecision, result *models.CycleResult) []models.SymbolError {
	var errs []models.SymbolError

	if decision.NeedsSnapshot {
		if err := r.refreshSnapshot(ctx, decision.Symbol, result); err != nil {
			errs = append(errs, *err)
		}
	}

	if decision.NeedsHistory {
		if err := r.backfillHistory(ctx, decision, result); err != nil {
			errs = append(errs, *err)
		}
	}

	return errs
}

func (r *CycleRunner) refreshSnapshot(ctx context.Context, symbol string, result *models.CycleResult) *models.SymbolError {
	var data map[string]interface{}
	err := r.retrier.Execute("snapshot "+symbol, func() error {
		r.limiter.Wait()
		fetched, err := r.provider.FetchSnapshot(ctx, symbol)
		if err != nil {
			return err
		}
		data = fetched
		return nil
	})
	if err != nil {
		return &models.SymbolError{Symbol: symbol, Kind: models.ErrProviderUnavailable, Message: err.Error()}
	}

	now := r.now()
	snapshot := models.Snapshot{
		Symbol:      models.NormalizeSymbol(symbol),
		Data:        data,
		UpdatedAt:   now,
		Source:      models.SourceYahoo,
		LastFetched: now,
	}
	if err := r.store.UpsertSnapshot(ctx, snapshot); err != nil {
		log.Printf("Failed to save snapshot for %s: %v", symbol, err)
		return &models.SymbolError{Symbol: symbol, Kind: models.ErrStorageWriteFailed, Message: err.Error()}
	}

	result.SnapshotsUpdated++
	log.Printf("Updated snapshot for %s", symbol)
	return nil
}

func (r *CycleRunner) backfillHistory(ctx context.Context, decision EligibilityDecision, result *models.CycleResult) *models.SymbolError {
	bars, failedWindows := r.chunker.Fetch(ctx, decision.Symbol, decision.HistoryStart, decision.HistoryEnd)
	result.FailedWindows += failedWindows

	if len(bars) > 0 {
		if err := r.store.BulkUpsertPriceBars(ctx, models.NormalizeSymbol(decision.Symbol), bars); err != nil {
			log.Printf("Failed to save price bars for %s: %v", decision.Symbol, err)
			return &models.SymbolError{Symbol: decision.Symbol, Kind: models.ErrStorageWriteFailed, Message: err.Error()}
		}
		result.BarsUpserted += len(bars)
		log.Printf("Updated %d historical prices for %s", len(bars), decision.Symbol)
	}

	if failedWindows > 0 {
		return &models.SymbolError{
			Symbol:  decision.Symbol,
			Kind:    models.ErrProviderUnavailable,
			Message: "historical download incomplete",
		}
	}
	return nil
}
