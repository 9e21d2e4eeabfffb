package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-scraper/config"
	"finance-scraper/models"
)

// memStore is an in-memory SymbolStore with injectable failures.
type memStore struct {
	statuses []models.SymbolStatus
	listErr  error

	snapshots   map[string]models.Snapshot
	snapshotErr map[string]error
	bars        map[string][]models.PriceBar
	barsErr     map[string]error
}

func newMemStore(statuses ...models.SymbolStatus) *memStore {
	return &memStore{
		statuses:    statuses,
		snapshots:   make(map[string]models.Snapshot),
		snapshotErr: make(map[string]error),
		bars:        make(map[string][]models.PriceBar),
		barsErr:     make(map[string]error),
	}
}

func (s *memStore) ListSymbols(context.Context) ([]models.SymbolStatus, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.statuses, nil
}

func (s *memStore) UpsertSnapshot(_ context.Context, snapshot models.Snapshot) error {
	if err := s.snapshotErr[snapshot.Symbol]; err != nil {
		return err
	}
	s.snapshots[snapshot.Symbol] = snapshot
	return nil
}

func (s *memStore) BulkUpsertPriceBars(_ context.Context, symbol string, bars []models.PriceBar) error {
	if err := s.barsErr[symbol]; err != nil {
		return err
	}
	s.bars[symbol] = append(s.bars[symbol], bars...)
	return nil
}

// sinkRecorder captures cycle progress notifications in order.
type sinkRecorder struct {
	started   []int
	processed []string
	finished  []models.CycleResult
}

func (s *sinkRecorder) CycleStarted(considered int) {
	s.started = append(s.started, considered)
}

func (s *sinkRecorder) SymbolProcessed(symbol string, _ bool) {
	s.processed = append(s.processed, symbol)
}

func (s *sinkRecorder) CycleFinished(result models.CycleResult) {
	s.finished = append(s.finished, result)
}

func cycleConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		SymbolRefreshInterval: 24 * time.Hour,
		MaxSymbolsPerRun:      10,
		MaxRetries:            0,
		InitialStartDate:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		ChunkDays:             365,
	}
}

func quietRunner(cfg config.SchedulerConfig, store SymbolStore, provider Provider, events EventSink, now time.Time) *CycleRunner {
	runner := NewCycleRunner(cfg, store, provider, events)
	runner.now = func() time.Time { return now }
	runner.limiter.sleep = func(time.Duration) {}
	runner.chunker.sleep = func(time.Duration) {}
	return runner
}

func TestCycleSkipsFreshSymbolsAndRespectsBudget(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	staleA := now.Add(-48 * time.Hour)
	staleC := now.Add(-30 * time.Hour)

	store := newMemStore(
		models.SymbolStatus{Symbol: "AAA", LastSnapshotAt: &staleA, LastPriceDate: &now},
		models.SymbolStatus{Symbol: "BBB", LastSnapshotAt: &now, LastPriceDate: &now},
		models.SymbolStatus{Symbol: "CCC", LastSnapshotAt: &staleC, LastPriceDate: &now},
	)
	provider := &stubProvider{}
	sink := &sinkRecorder{}

	cfg := cycleConfig()
	cfg.MaxSymbolsPerRun = 2
	runner := quietRunner(cfg, store, provider, sink, now)

	result := runner.Run(context.Background())

	assert.Equal(t, 2, result.Considered)
	assert.Equal(t, 2, result.Updated)
	assert.Zero(t, result.Failed)
	assert.Equal(t, []string{"AAA", "CCC"}, sink.processed, "stalest first, fresh symbol untouched")
	assert.NotContains(t, store.snapshots, "BBB")
	assert.Equal(t, []int{2}, sink.started)
	require.Len(t, sink.finished, 1)
}

func TestCycleBudgetNeverWastedOnFreshSymbols(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-48 * time.Hour)

	// One fresh symbol ahead of a stale one in listing order; the budget of
	// one run must still go to the stale symbol.
	store := newMemStore(
		models.SymbolStatus{Symbol: "FRESH", LastSnapshotAt: &now, LastPriceDate: &now},
		models.SymbolStatus{Symbol: "STALE", LastSnapshotAt: &stale, LastPriceDate: &now},
	)
	provider := &stubProvider{}

	cfg := cycleConfig()
	cfg.MaxSymbolsPerRun = 1
	runner := quietRunner(cfg, store, provider, nil, now)

	result := runner.Run(context.Background())

	assert.Equal(t, 1, result.Considered)
	assert.Contains(t, store.snapshots, "STALE")
}

func TestCycleSymbolFailureIsIsolated(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-48 * time.Hour)

	slightlyStale := now.Add(-25 * time.Hour)
	store := newMemStore(
		models.SymbolStatus{Symbol: "BAD", LastSnapshotAt: &stale, LastPriceDate: &now},
		models.SymbolStatus{Symbol: "GOOD", LastSnapshotAt: &slightlyStale, LastPriceDate: &now},
	)
	provider := &stubProvider{}
	provider.snapshotFn = func(symbol string) (map[string]interface{}, error) {
		if symbol == "BAD" {
			return nil, errors.New("provider down")
		}
		return map[string]interface{}{"symbol": symbol}, nil
	}

	runner := quietRunner(cycleConfig(), store, provider, nil, now)
	result := runner.Run(context.Background())

	assert.Equal(t, 2, result.Considered)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "BAD", result.Errors[0].Symbol)
	assert.Equal(t, models.ErrProviderUnavailable, result.Errors[0].Kind)
	assert.Contains(t, store.snapshots, "GOOD")
}

func TestCycleAbortsWhenInventoryUnreadable(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("mongo down")
	provider := &stubProvider{}

	runner := quietRunner(cycleConfig(), store, provider, nil, time.Now())
	result := runner.Run(context.Background())

	assert.Zero(t, result.Considered)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.ErrStorageReadFailed, result.Errors[0].Kind)
	assert.Empty(t, provider.rangeCalls, "no provider traffic without an inventory")
}

func TestCycleBackfillWritesBars(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lastBar := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)

	store := newMemStore(
		models.SymbolStatus{Symbol: "AAA", LastSnapshotAt: &now, LastPriceDate: &lastBar},
	)
	provider := &stubProvider{}
	provider.rangeFn = func(symbol string, start, end time.Time) ([]models.PriceBar, error) {
		var bars []models.PriceBar
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			bars = append(bars, models.PriceBar{Symbol: symbol, Date: d})
		}
		return bars, nil
	}

	runner := quietRunner(cycleConfig(), store, provider, nil, now)
	result := runner.Run(context.Background())

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 2, result.BarsUpserted, "March 9 and March 10")
	assert.Zero(t, result.SnapshotsUpdated, "snapshot was fresh")
	assert.Len(t, store.bars["AAA"], 2)
}

func TestCycleRecordsIncompleteBackfill(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := newMemStore(
		models.SymbolStatus{Symbol: "AAA", LastSnapshotAt: &now},
	)
	provider := &stubProvider{}
	provider.rangeFn = func(string, time.Time, time.Time) ([]models.PriceBar, error) {
		return nil, errors.New("provider down")
	}

	cfg := cycleConfig()
	cfg.ChunkDays = 3650
	runner := quietRunner(cfg, store, provider, nil, now)
	result := runner.Run(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Positive(t, result.FailedWindows)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, models.ErrProviderUnavailable, result.Errors[0].Kind)
}

func TestCycleInterruptedBetweenSymbols(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-48 * time.Hour)

	store := newMemStore(
		models.SymbolStatus{Symbol: "AAA", LastSnapshotAt: &stale, LastPriceDate: &now},
		models.SymbolStatus{Symbol: "BBB", LastSnapshotAt: &stale, LastPriceDate: &now},
	)
	ctx, cancel := context.WithCancel(context.Background())
	provider := &stubProvider{}
	provider.snapshotFn = func(symbol string) (map[string]interface{}, error) {
		cancel()
		return map[string]interface{}{"symbol": symbol}, nil
	}

	runner := quietRunner(cycleConfig(), store, provider, nil, now)
	result := runner.Run(ctx)

	assert.True(t, result.Interrupted)
	assert.Equal(t, 1, result.Updated, "only the first symbol was processed")
}
