package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(handler http.HandlerFunc) (*YahooProvider, *httptest.Server) {
	server := httptest.NewServer(handler)
	provider := NewYahooProvider()
	provider.baseURL = server.URL + "/v8/finance/chart/"
	return provider, server
}

func TestFetchSnapshotBuildsFieldMap(t *testing.T) {
	provider, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("range"))
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{
			"currency":"USD","symbol":"AAPL","exchangeName":"NMS",
			"instrumentType":"EQUITY","regularMarketPrice":227.5,
			"chartPreviousClose":225.0,"regularMarketTime":1767225600,
			"timezone":"EST"}}],"error":null}}`)
	})
	defer server.Close()

	data, err := provider.FetchSnapshot(context.Background(), "aapl")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", data["symbol"])
	assert.Equal(t, "USD", data["currency"])
	assert.Equal(t, "NMS", data["exchange"])
	assert.Equal(t, 227.5, data["regularMarketPrice"])
	assert.Equal(t, 225.0, data["previousClose"])
	assert.Contains(t, data, "regularMarketTime")
}

func TestFetchSnapshotProviderError(t *testing.T) {
	provider, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	})
	defer server.Close()

	_, err := provider.FetchSnapshot(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not Found")
}

func TestFetchSnapshotHTTPStatusError(t *testing.T) {
	provider, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer server.Close()

	_, err := provider.FetchSnapshot(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestFetchPriceRangeParsesBarsWithNulls(t *testing.T) {
	// Two trading days: 2026-03-09 and 2026-03-10, with a null open on the
	// second one.
	day1 := time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC).Unix()
	day2 := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC).Unix()

	provider, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"chart":{"result":[{
			"meta":{"symbol":"AAPL"},
			"timestamp":[%d,%d],
			"indicators":{
				"quote":[{"open":[100.0,null],"high":[102.0,103.0],
					"low":[99.0,100.5],"close":[101.0,102.5],
					"volume":[1000,2000]}],
				"adjclose":[{"adjclose":[100.8,102.3]}]
			}}],"error":null}}`, day1, day2)
	})
	defer server.Close()

	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	bars, err := provider.FetchPriceRange(context.Background(), "AAPL", start, end)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, start, bars[0].Date)
	require.NotNil(t, bars[0].Open)
	assert.Equal(t, 100.0, *bars[0].Open)
	require.NotNil(t, bars[0].Volume)
	assert.Equal(t, int64(1000), *bars[0].Volume)
	require.NotNil(t, bars[0].AdjClose)
	assert.Equal(t, 100.8, *bars[0].AdjClose)

	assert.Nil(t, bars[1].Open, "null values stay null instead of becoming zero")
	require.NotNil(t, bars[1].Close)
	assert.Equal(t, 102.5, *bars[1].Close)
}

func TestFetchPriceRangeFiltersOutOfRangeDates(t *testing.T) {
	inside := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC).Unix()
	after := time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC).Unix()

	provider, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"chart":{"result":[{
			"meta":{"symbol":"AAPL"},
			"timestamp":[%d,%d],
			"indicators":{"quote":[{"open":[100.0,101.0],"high":[102.0,103.0],
				"low":[99.0,100.0],"close":[101.0,102.0],"volume":[1000,2000]}]}
		}],"error":null}}`, inside, after)
	})
	defer server.Close()

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	bars, err := provider.FetchPriceRange(context.Background(), "AAPL", start, start)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, start, bars[0].Date)
}

func TestFetchPriceRangeEmptyResultIsNotAnError(t *testing.T) {
	provider, server := testProvider(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"symbol":"AAPL"},"timestamp":[],"indicators":{"quote":[]}}],"error":null}}`)
	})
	defer server.Close()

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	bars, err := provider.FetchPriceRange(context.Background(), "AAPL", start, start)
	require.NoError(t, err)
	assert.Empty(t, bars)
}
