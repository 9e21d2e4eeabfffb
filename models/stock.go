package models

import (
	"strings"
	"time"
)

// SourceYahoo tags records fetched from the Yahoo chart API.
const SourceYahoo = "yahoo"

// NormalizeSymbol canonicalizes a ticker for storage and lookup.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Snapshot is the latest point-in-time field set for a symbol. One live
// document per symbol, overwritten on each successful refresh.
type Snapshot struct {
	Symbol      string                 `bson:"symbol" json:"symbol"`
	Data        map[string]interface{} `bson:"data" json:"data"`
	UpdatedAt   time.Time              `bson:"updated_at" json:"updated_at"`
	Source      string                 `bson:"source" json:"source"`
	LastFetched time.Time              `bson:"last_fetched" json:"last_fetched"`
}

// PriceBar is one trading day's OHLCV record for a symbol, keyed by
// (symbol, date). Fields are pointers because the provider may return nulls
// for individual values on thinly traded days.
type PriceBar struct {
	Symbol    string    `bson:"symbol" json:"symbol"`
	Date      time.Time `bson:"date" json:"date"`
	Open      *float64  `bson:"open" json:"open"`
	High      *float64  `bson:"high" json:"high"`
	Low       *float64  `bson:"low" json:"low"`
	Close     *float64  `bson:"close" json:"close"`
	Volume    *int64    `bson:"volume" json:"volume"`
	AdjClose  *float64  `bson:"adj_close" json:"adj_close"`
	Source    string    `bson:"source" json:"source"`
	FetchedAt time.Time `bson:"fetched_at" json:"fetched_at"`
}

// SymbolStatus is one row of the scheduler's symbol inventory: a tracked
// symbol together with its freshness markers. Nil markers mean the symbol has
// never been refreshed / has no price history yet.
type SymbolStatus struct {
	Symbol         string     `json:"symbol"`
	LastSnapshotAt *time.Time `json:"last_snapshot_at"`
	LastPriceDate  *time.Time `json:"last_price_date"`
}

// ErrorKind classifies per-symbol failures in a cycle result.
type ErrorKind string

const (
	ErrProviderUnavailable ErrorKind = "provider_unavailable"
	ErrStorageWriteFailed  ErrorKind = "storage_write_failed"
	ErrStorageReadFailed   ErrorKind = "storage_read_failed"
)

// SymbolError records a single symbol's failure inside a cycle.
type SymbolError struct {
	Symbol  string    `json:"symbol"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CycleResult summarizes one full scheduler pass. It is ephemeral: only the
// most recent result is retained, for status reporting.
type CycleResult struct {
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Considered       int           `json:"considered"`
	Updated          int           `json:"updated"`
	Failed           int           `json:"failed"`
	SnapshotsUpdated int           `json:"snapshots_updated"`
	BarsUpserted     int           `json:"bars_upserted"`
	FailedWindows    int           `json:"failed_windows"`
	Interrupted      bool          `json:"interrupted,omitempty"`
	Errors           []SymbolError `json:"errors,omitempty"`
}
