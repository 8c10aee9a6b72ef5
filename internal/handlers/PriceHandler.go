package handlers

import (
	"context"
	"fmt"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/operations/price"
)

// PriceHandler fills the candle cache ahead of the first run.
type PriceHandler struct {
	fetcher    *price.PriceFetcher
	symbols    []string
	timeframes []string
	limit      int
	log        *logger.Logger
}

func NewPriceHandler(fetcher *price.PriceFetcher, symbols, timeframes []string, limit int, log *logger.Logger) *PriceHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &PriceHandler{fetcher: fetcher, symbols: symbols, timeframes: timeframes, limit: limit, log: log}
}

// Backfill fetches limit candles per symbol and timeframe. It only fails
// when nothing at all could be fetched.
func (h *PriceHandler) Backfill(ctx context.Context) error {
	h.log.Info("Backfilling %d symbols over %v", len(h.symbols), h.timeframes)
	total := h.fetcher.Backfill(ctx, h.symbols, h.timeframes, h.limit)
	if total == 0 && len(h.symbols) > 0 && len(h.timeframes) > 0 {
		return fmt.Errorf("backfill fetched no candles")
	}
	h.log.Info("Backfill done, %d candles", total)
	return nil
}
