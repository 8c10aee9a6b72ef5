package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/operations/binance"
)

// KlineSource is the exchange side of candle fetching.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// CandleCache stores fetched candles; satisfied by the candle repository.
type CandleCache interface {
	SaveCandles(candles []models.Candle) error
	GetLatestCandles(symbol, timeFrame string, limit int) ([]models.Candle, error)
}

// PriceFetcher fetches candles from the exchange, records them in the
// cache and falls back to cached candles when the exchange call fails.
type PriceFetcher struct {
	source KlineSource
	cache  CandleCache
	// minCached is how many cached bars make a usable fallback.
	minCached int
	log       *logger.Logger
	now       func() time.Time
}

// NewPriceFetcher builds a fetcher. cache may be nil.
func NewPriceFetcher(source KlineSource, cache CandleCache, minCached int, log *logger.Logger) *PriceFetcher {
	if log == nil {
		log = logger.Discard()
	}
	return &PriceFetcher{source: source, cache: cache, minCached: minCached, log: log, now: time.Now}
}

// FetchCandles returns up to limit closed candles, oldest first. The bar
// still forming on the exchange is dropped.
func (f *PriceFetcher) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := f.source.GetKlines(ctx, symbol, timeframe, limit)
	if err == nil {
		candles = closedOnly(candles, f.now())
		f.log.Debug("Fetched %d %s candles for %s", len(candles), timeframe, symbol)
		if f.cache != nil {
			if cerr := f.cache.SaveCandles(candles); cerr != nil {
				f.log.Warn("Error caching %s %s candles: %v", symbol, timeframe, cerr)
			}
		}
		return candles, nil
	}

	if errors.Is(err, binance.ErrRegionRestricted) || f.cache == nil {
		return nil, err
	}

	cached, cerr := f.cache.GetLatestCandles(symbol, timeframe, limit)
	if cerr != nil || len(cached) < f.minCached || len(cached) == 0 {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, timeframe, err)
	}
	f.log.Warn("Error fetching %s %s candles (%v), using %d cached candles", symbol, timeframe, err, len(cached))
	return closedOnly(cached, f.now()), nil
}

// closedOnly trims trailing candles that close after now.
func closedOnly(candles []models.Candle, now time.Time) []models.Candle {
	end := len(candles)
	for end > 0 && candles[end-1].CloseTime.After(now) {
		end--
	}
	return candles[:end]
}

// Backfill fetches and caches history for every symbol and timeframe,
// logging and skipping failures.
func (f *PriceFetcher) Backfill(ctx context.Context, symbols, timeframes []string, limit int) int {
	total := 0
	for _, symbol := range symbols {
		for _, tf := range timeframes {
			candles, err := f.FetchCandles(ctx, symbol, tf, limit)
			if err != nil {
				f.log.Error("Error backfilling %s %s: %v", symbol, tf, err)
				continue
			}
			total += len(candles)
			f.log.Info("Backfilled %d %s candles for %s", len(candles), tf, symbol)
		}
	}
	return total
}
