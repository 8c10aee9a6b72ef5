package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"CryptoSignalEngine/internal/models"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const klinesBody = `[
  [1704067200000,"100.0","101.5","99.5","101.0","12.5",1704070799999,"1260.0",42,"6.0","600.0","0"],
  [1704070800000,"101.0","102.0","100.5","101.8","8.0",1704074399999,"810.0",17,"4.0","400.0","0"]
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *BinanceClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewBinanceClient(models.MarketFutures, "", "", false, "USDT", nil)
	c.futures.BaseURL = srv.URL
	c.backoff = time.Millisecond
	return c
}

func TestGetKlinesConvertsCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		fmt.Fprint(w, klinesBody)
	})

	candles, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, models.MarketFutures, c.Market())

	first := candles[0]
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, "1h", first.TimeFrame)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), first.OpenTime)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 101.5, first.High)
	assert.Equal(t, 99.5, first.Low)
	assert.Equal(t, 101.0, first.Close)
	assert.Equal(t, 12.5, first.Volume)
	assert.Equal(t, int64(42), first.TradeCount)
	assert.True(t, candles[1].OpenTime.After(first.OpenTime))
}

func TestGetKlinesRetriesTransientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"code":-1000,"msg":"internal error"}`)
			return
		}
		fmt.Fprint(w, klinesBody)
	})

	candles, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetKlinesGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"code":-1001,"msg":"disconnected"}`)
	})

	_, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 2)
	assert.Error(t, err)
	assert.Equal(t, int32(c.maxRetries+1), atomic.LoadInt32(&calls))
}

func TestGetKlinesRegionRestrictedIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
		fmt.Fprint(w, `{"code":0,"msg":"Service unavailable from a restricted location according to 'b. Eligibility'."}`)
	})

	_, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 2)
	assert.ErrorIs(t, err, ErrRegionRestricted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsRegionRestricted(t *testing.T) {
	assert.True(t, IsRegionRestricted(&common.APIError{Code: 0, Message: "Service unavailable from a restricted location"}))
	assert.True(t, IsRegionRestricted(errors.New("request failed with status 451")))
	assert.True(t, IsRegionRestricted(fmt.Errorf("wrapped: %w", ErrRegionRestricted)))
	assert.False(t, IsRegionRestricted(&common.APIError{Code: -1121, Message: "Invalid symbol."}))
	assert.False(t, IsRegionRestricted(nil))
}

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		qty  float64
		step float64
		want string
	}{
		{0.0123456, 0.001, "0.012"},
		{1.99, 1, "1"},
		{0.0004, 0.001, "0"},
		{0.00001, 0, "0.00001"},
		{2.5, 0.5, "2.5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatQuantity(tt.qty, tt.step), "qty %v step %v", tt.qty, tt.step)
	}
}
