package controllers

import (
	"errors"
	"net/http"
	"time"
	"unicode"

	"finance-scraper/models"
	"finance-scraper/services"

	"github.com/gin-gonic/gin"
)

// StockController serves the read endpoints over stored data.
type StockController struct {
	store *services.MongoStore
}

// NewStockController creates a new stock controller.
func NewStockController(store *services.MongoStore) *StockController {
	return &StockController{store: store}
}

// GetStockInfo returns the stored snapshot document for a symbol.
// GET /api/v1/stock/:symbol
func (sc *StockController) GetStockInfo(c *gin.Context) {
	symbol := c.Param("symbol")
	if !validateSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol format", "symbol": symbol})
		return
	}

	snapshot, err := sc.store.GetSnapshot(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, services.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not found", "symbol": symbol})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable", "symbol": symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":     snapshot.Symbol,
		"data":       snapshot.Data,
		"updated_at": snapshot.UpdatedAt,
		"source":     snapshot.Source,
	})
}

// GetStockPrice returns a condensed price view extracted from the snapshot.
// GET /api/v1/stock/:symbol/price
func (sc *StockController) GetStockPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	if !validateSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol format", "symbol": symbol})
		return
	}

	snapshot, err := sc.store.GetSnapshot(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, services.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not found", "symbol": symbol})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable", "symbol": symbol})
		return
	}

	data := snapshot.Data
	c.JSON(http.StatusOK, gin.H{
		"symbol":         snapshot.Symbol,
		"current_price":  data["regularMarketPrice"],
		"previous_close": data["previousClose"],
		"currency":       data["currency"],
		"exchange":       data["exchange"],
		"updated_at":     snapshot.UpdatedAt,
	})
}

// GetStockHistory returns stored price bars for a validated date range.
// GET /api/v1/stock/:symbol/history?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (sc *StockController) GetStockHistory(c *gin.Context) {
	symbol := c.Param("symbol")
	if !validateSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol format", "symbol": symbol})
		return
	}

	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" || endStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Missing required parameters",
			"required": []string{"start_date", "end_date"},
			"format":   "YYYY-MM-DD",
		})
		return
	}

	start, err1 := time.Parse("2006-01-02", startStr)
	end, err2 := time.Parse("2006-01-02", endStr)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid date format",
			"format": "YYYY-MM-DD",
		})
		return
	}
	if start.After(end) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid date range",
			"start_date": startStr,
			"end_date":   endStr,
		})
		return
	}

	bars, err := sc.store.GetPriceHistory(c.Request.Context(), symbol, start.UTC(), end.UTC())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable", "symbol": symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":     models.NormalizeSymbol(symbol),
		"start_date": startStr,
		"end_date":   endStr,
		"count":      len(bars),
		"prices":     bars,
	})
}

// GetDatabaseStats returns document counts and latest-update markers.
// GET /api/v1/database/stats
func (sc *StockController) GetDatabaseStats(c *gin.Context) {
	stats, err := sc.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ClearSymbol removes a symbol's snapshot and price history.
// DELETE /api/v1/database/:symbol
func (sc *StockController) ClearSymbol(c *gin.Context) {
	symbol := c.Param("symbol")
	if !validateSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol format", "symbol": symbol})
		return
	}

	deleted, err := sc.store.DeleteSymbol(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable", "symbol": symbol})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"message": "Symbol not found in database", "symbol": symbol})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Symbol removed from database successfully", "symbol": symbol})
}

// ClearDatabase removes all stored data.
// DELETE /api/v1/database
func (sc *StockController) ClearDatabase(c *gin.Context) {
	deleted, err := sc.store.ClearAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "All data cleared from database successfully",
		"deleted_count": deleted,
	})
}

// validateSymbol accepts tickers made of letters, digits, dots and dashes.
func validateSymbol(symbol string) bool {
	if symbol == "" || len(symbol) > 16 {
		return false
	}
	for _, r := range symbol {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' {
			return false
		}
	}
	return true
}
