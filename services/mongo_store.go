package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"finance-scraper/config"
	"finance-scraper/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrSnapshotNotFound is returned when a symbol has no stored snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// bulkWriteBatchSize bounds a single BulkWrite payload.
const bulkWriteBatchSize = 100

// MongoStore handles the MongoDB connection and all document operations:
// the snapshot collection (one live document per symbol) and the prices
// collection (append-only daily bars keyed by symbol+date).
type MongoStore struct {
	client      *mongo.Client
	database    *mongo.Database
	snapshots   *mongo.Collection
	prices      *mongo.Collection
	cfg         *config.Config
	mu          sync.RWMutex
	isConnected bool
	lastError   string
}

// NewMongoStore creates a disconnected store; call Connect before use.
func NewMongoStore(cfg *config.Config) *MongoStore {
	return &MongoStore{cfg: cfg}
}

// Connect establishes the MongoDB connection and creates indexes.
func (m *MongoStore) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(m.cfg.MongoURI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		m.setError(fmt.Sprintf("Failed to connect: %v", err))
		log.Printf("Failed to connect to MongoDB: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		m.setError(fmt.Sprintf("Failed to ping: %v", err))
		log.Printf("Failed to ping MongoDB: %v", err)
		client.Disconnect(ctx)
		return err
	}

	m.mu.Lock()
	m.client = client
	m.database = client.Database(m.cfg.MongoDB)
	m.snapshots = m.database.Collection(m.cfg.MongoCollection)
	m.prices = m.database.Collection(m.cfg.MongoPricesCollection)
	m.isConnected = true
	m.lastError = ""
	m.mu.Unlock()

	m.createIndexes()

	log.Printf("Successfully connected to MongoDB: %s", m.cfg.MongoDB)
	return nil
}

func (m *MongoStore) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.isConnected = false
	m.mu.Unlock()
}

// IsConnected returns whether the store has a verified connection.
func (m *MongoStore) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isConnected
}

// LastError returns the last connection error message, if any.
func (m *MongoStore) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Close closes the MongoDB connection.
func (m *MongoStore) Close() error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	}
	return nil
}

// createIndexes creates necessary indexes for collections. Bars are unique
// per (symbol, date) so bulk upserts stay idempotent under retry.
func (m *MongoStore) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.snapshots.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "symbol", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	m.prices.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "date", Value: -1}},
		Options: options.Index().SetUnique(true),
	})

	log.Println("MongoDB indexes created")
}

func (m *MongoStore) requireConnection() error {
	if !m.IsConnected() {
		return errors.New("MongoDB not available")
	}
	return nil
}

// ==================== Scheduler-facing Operations ====================

// ListSymbols returns every tracked symbol with its last snapshot time and
// last stored bar date. The last bar dates come from a single group
// aggregation rather than one query per symbol.
func (m *MongoStore) ListSymbols(ctx context.Context) ([]models.SymbolStatus, error) {
	if err := m.requireConnection(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	lastDates, err := m.lastPriceDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last price dates: %w", err)
	}

	opts := options.Find().
		SetProjection(bson.M{"symbol": 1, "last_fetched": 1}).
		SetSort(bson.D{{Key: "symbol", Value: 1}})
	cursor, err := m.snapshots.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol list: %w", err)
	}
	defer cursor.Close(ctx)

	var statuses []models.SymbolStatus
	for cursor.Next(ctx) {
		var doc struct {
			Symbol      string     `bson:"symbol"`
			LastFetched *time.Time `bson:"last_fetched"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		status := models.SymbolStatus{
			Symbol:         doc.Symbol,
			LastSnapshotAt: doc.LastFetched,
		}
		if date, ok := lastDates[doc.Symbol]; ok {
			d := date
			status.LastPriceDate = &d
		}
		statuses = append(statuses, status)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbol list: %w", err)
	}

	log.Printf("Retrieved %d symbols from database", len(statuses))
	return statuses, nil
}

// lastPriceDates returns the newest stored bar date per symbol.
func (m *MongoStore) lastPriceDates(ctx context.Context) (map[string]time.Time, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$symbol"},
			{Key: "last_date", Value: bson.D{{Key: "$max", Value: "$date"}}},
		}}},
	}

	cursor, err := m.prices.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	dates := make(map[string]time.Time)
	for cursor.Next(ctx) {
		var doc struct {
			Symbol   string    `bson:"_id"`
			LastDate time.Time `bson:"last_date"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		dates[doc.Symbol] = doc.LastDate
	}
	return dates, cursor.Err()
}

// UpsertSnapshot replaces the live snapshot document for a symbol,
// creating the symbol on first write.
func (m *MongoStore) UpsertSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	if err := m.requireConnection(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Replace().SetUpsert(true)
	_, err := m.snapshots.ReplaceOne(ctx, bson.M{"symbol": snapshot.Symbol}, snapshot, opts)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snapshot.Symbol, err)
	}
	return nil
}

// BulkUpsertPriceBars writes bars with ReplaceOne-upsert semantics keyed by
// (symbol, date), in batches. Re-running with identical bars leaves exactly
// one document per bar.
func (m *MongoStore) BulkUpsertPriceBars(ctx context.Context, symbol string, bars []models.PriceBar) error {
	if err := m.requireConnection(); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	operations := make([]mongo.WriteModel, 0, len(bars))
	for _, bar := range bars {
		operations = append(operations, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"symbol": bar.Symbol, "date": bar.Date}).
			SetReplacement(bar).
			SetUpsert(true))
	}

	for i := 0; i < len(operations); i += bulkWriteBatchSize {
		end := i + bulkWriteBatchSize
		if end > len(operations) {
			end = len(operations)
		}
		if _, err := m.prices.BulkWrite(ctx, operations[i:end]); err != nil {
			return fmt.Errorf("failed to bulk save price bars for %s: %w", symbol, err)
		}
	}

	log.Printf("Saved %d price bars for %s", len(bars), symbol)
	return nil
}

// ==================== Read API Operations ====================

// GetSnapshot loads the stored snapshot for a symbol.
func (m *MongoStore) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	if err := m.requireConnection(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var snapshot models.Snapshot
	err := m.snapshots.FindOne(ctx, bson.M{"symbol": models.NormalizeSymbol(symbol)}).Decode(&snapshot)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", symbol, err)
	}
	return &snapshot, nil
}

// GetPriceHistory returns stored bars for [start, end], oldest first.
func (m *MongoStore) GetPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	if err := m.requireConnection(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	filter := bson.M{
		"symbol": models.NormalizeSymbol(symbol),
		"date":   bson.M{"$gte": start, "$lte": end},
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})

	cursor, err := m.prices.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history for %s: %w", symbol, err)
	}
	defer cursor.Close(ctx)

	var bars []models.PriceBar
	if err := cursor.All(ctx, &bars); err != nil {
		return nil, fmt.Errorf("failed to decode price history for %s: %w", symbol, err)
	}
	return bars, nil
}

// ==================== Admin Operations ====================

// DeleteSymbol removes a symbol's snapshot and all its price bars.
// Returns whether anything was deleted.
func (m *MongoStore) DeleteSymbol(ctx context.Context, symbol string) (bool, error) {
	if err := m.requireConnection(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	normalized := models.NormalizeSymbol(symbol)
	snapResult, err := m.snapshots.DeleteOne(ctx, bson.M{"symbol": normalized})
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot for %s: %w", symbol, err)
	}
	priceResult, err := m.prices.DeleteMany(ctx, bson.M{"symbol": normalized})
	if err != nil {
		return false, fmt.Errorf("failed to delete price bars for %s: %w", symbol, err)
	}

	deleted := snapResult.DeletedCount+priceResult.DeletedCount > 0
	if deleted {
		log.Printf("Removed %s from database (%d price bars)", normalized, priceResult.DeletedCount)
	}
	return deleted, nil
}

// ClearAll removes every document from both collections and returns the
// number deleted.
func (m *MongoStore) ClearAll(ctx context.Context) (int64, error) {
	if err := m.requireConnection(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	snapResult, err := m.snapshots.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to clear snapshots: %w", err)
	}
	priceResult, err := m.prices.DeleteMany(ctx, bson.M{})
	if err != nil {
		return snapResult.DeletedCount, fmt.Errorf("failed to clear price bars: %w", err)
	}

	total := snapResult.DeletedCount + priceResult.DeletedCount
	log.Printf("Cleared database, deleted %d documents", total)
	return total, nil
}

// Stats returns document counts and latest-update markers for both collections.
func (m *MongoStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	if err := m.requireConnection(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	totalSymbols, err := m.snapshots.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count symbols: %w", err)
	}
	totalBars, err := m.prices.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count price bars: %w", err)
	}

	stats := map[string]interface{}{
		"total_symbols":       totalSymbols,
		"total_price_records": totalBars,
		"database":            m.cfg.MongoDB,
		"collections": map[string]string{
			"stock_info":   m.cfg.MongoCollection,
			"stock_prices": m.cfg.MongoPricesCollection,
		},
	}

	var latest models.Snapshot
	err = m.snapshots.FindOne(ctx, bson.M{}, options.FindOne().
		SetSort(bson.D{{Key: "updated_at", Value: -1}})).Decode(&latest)
	if err == nil {
		stats["latest_update"] = latest.UpdatedAt
		stats["latest_symbol"] = latest.Symbol
	}

	var latestBar models.PriceBar
	err = m.prices.FindOne(ctx, bson.M{}, options.FindOne().
		SetSort(bson.D{{Key: "fetched_at", Value: -1}})).Decode(&latestBar)
	if err == nil {
		stats["latest_price_update"] = latestBar.FetchedAt
		stats["latest_price_symbol"] = latestBar.Symbol
	}

	return stats, nil
}
