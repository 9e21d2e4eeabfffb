package scheduler

import (
	"context"
	"log"
	"time"

	"finance-scraper/models"
)

// Provider is the upstream market-data source the scheduler refreshes from.
type Provider interface {
	// FetchSnapshot returns the provider's current field map for a symbol.
	FetchSnapshot(ctx context.Context, symbol string) (map[string]interface{}, error)
	// FetchPriceRange returns daily bars for [start, end] in chronological
	// order. An empty result is valid (holidays, halted listings).
	FetchPriceRange(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error)
}

// ChunkedFetcher downloads a historical date range in bounded windows,
// throttled by the rate limiter per call and by an inter-chunk delay per
// window. A window that exhausts its retries is recorded and skipped; bars
// already fetched from earlier windows are preserved.
type ChunkedFetcher struct {
	provider   Provider
	limiter    *RateLimiter
	retrier    *Retrier
	chunkDays  int
	chunkDelay time.Duration
	sleep      func(time.Duration)
}

// NewChunkedFetcher creates a chunked range fetcher.
func NewChunkedFetcher(provider Provider, limiter *RateLimiter, retrier *Retrier, chunkDays int, chunkDelay time.Duration) *ChunkedFetcher {
	if chunkDays < 1 {
		chunkDays = 1
	}
	return &ChunkedFetcher{
		provider:   provider,
		limiter:    limiter,
		retrier:    retrier,
		chunkDays:  chunkDays,
		chunkDelay: chunkDelay,
		sleep:      time.Sleep,
	}
}

// Fetch downloads [start, end] for symbol in consecutive windows of at most
// chunkDays days, oldest first. It returns every successfully fetched bar
// plus the number of windows that failed after retries.
func (f *ChunkedFetcher) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, int) {
	start = truncateToDay(start)
	end = truncateToDay(end)

	var bars []models.PriceBar
	failedWindows := 0
	chunk := 0

	current := start
	for !current.After(end) {
		if ctx.Err() != nil {
			log.Printf("Stop requested, interrupting historical download for %s", symbol)
			break
		}

		chunk++
		windowEnd := current.AddDate(0, 0, f.chunkDays)
		if windowEnd.After(end) {
			windowEnd = end
		}

		log.Printf("Downloading chunk %d for %s: %s to %s",
			chunk, symbol, current.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

		var windowBars []models.PriceBar
		windowStart := current
		err := f.retrier.Execute("price range "+symbol, func() error {
			f.limiter.Wait()
			fetched, err := f.provider.FetchPriceRange(ctx, symbol, windowStart, windowEnd)
			if err != nil {
				return err
			}
			windowBars = fetched
			return nil
		})
		if err != nil {
			// Partial success is preserved: skip this window, keep going.
			log.Printf("Chunk %d failed for %s: %v", chunk, symbol, err)
			failedWindows++
		} else {
			bars = append(bars, windowBars...)
		}

		current = windowEnd.AddDate(0, 0, 1)

		// Wait between windows, but not after the last one.
		if !current.After(end) && f.chunkDelay > 0 {
			f.sleep(f.chunkDelay)
		}
	}

	return bars, failedWindows
}
