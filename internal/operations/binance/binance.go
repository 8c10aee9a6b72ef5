package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	spotTestnetURL    = "https://testnet.binance.vision"
	futuresTestnetURL = "https://testnet.binancefuture.com"
)

// ErrRegionRestricted is returned when Binance refuses service for the
// caller's location (HTTP 451). Retrying does not help.
var ErrRegionRestricted = errors.New("binance: service unavailable from a restricted location")

// BinanceClient wraps the spot or futures REST client behind one rate
// limiter. It is the engine's market data source, pricing context and
// order gateway.
type BinanceClient struct {
	market      models.Market
	spot        *binance.Client
	futures     *futures.Client
	rateLimiter *rate.Limiter
	httpClient  *http.Client
	quoteAsset  string
	maxRetries  int
	backoff     time.Duration
	log         *logger.Logger

	mu          sync.Mutex
	instruments map[string]models.Instrument
}

// NewBinanceClient builds a client for market. testnet switches to the
// sandbox endpoints used by the paper environment.
func NewBinanceClient(market models.Market, apiKey, secretKey string, testnet bool, quoteAsset string, log *logger.Logger) *BinanceClient {
	if log == nil {
		log = logger.Discard()
	}

	// Create custom HTTP client with timeouts
	httpClient := &http.Client{
		Timeout: time.Second * 10,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	c := &BinanceClient{
		market: market,
		// 10 requests per second with burst of 20
		rateLimiter: rate.NewLimiter(rate.Limit(10), 20),
		httpClient:  httpClient,
		quoteAsset:  quoteAsset,
		maxRetries:  3,
		backoff:     100 * time.Millisecond,
		log:         log,
		instruments: make(map[string]models.Instrument),
	}

	if market == models.MarketSpot {
		c.spot = binance.NewClient(apiKey, secretKey)
		c.spot.HTTPClient = httpClient
		if testnet {
			c.spot.BaseURL = spotTestnetURL
		}
	} else {
		c.futures = futures.NewClient(apiKey, secretKey)
		c.futures.HTTPClient = httpClient
		if testnet {
			c.futures.BaseURL = futuresTestnetURL
		}
	}
	return c
}

func (c *BinanceClient) Market() models.Market {
	return c.market
}

// GetKlines returns the latest limit candles, oldest first, retrying
// transient failures with exponential backoff.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	var candles []models.Candle
	err := c.withRetry(ctx, "klines "+symbol, func() error {
		var err error
		candles, err = c.fetchKlines(ctx, symbol, interval, limit)
		return err
	})
	return candles, err
}

func (c *BinanceClient) fetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if c.market == models.MarketSpot {
		klines, err := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return nil, err
		}
		candles := make([]models.Candle, 0, len(klines))
		for _, k := range klines {
			candles = append(candles, toCandle(symbol, interval, k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.TradeNum))
		}
		return candles, nil
	}

	klines, err := c.futures.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, toCandle(symbol, interval, k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.TradeNum))
	}
	return candles, nil
}

// ReferencePrice is the last traded price.
func (c *BinanceClient) ReferencePrice(ctx context.Context, symbol string) (float64, error) {
	var raw string
	err := c.withRetry(ctx, "price "+symbol, func() error {
		if c.market == models.MarketSpot {
			prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
			if err != nil {
				return err
			}
			if len(prices) == 0 {
				return fmt.Errorf("no price for %s", symbol)
			}
			raw = prices[0].Price
			return nil
		}
		prices, err := c.futures.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price for %s", symbol)
		}
		raw = prices[0].Price
		return nil
	})
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(raw, 64)
}

// Instrument reads the LOT_SIZE filter once per symbol.
func (c *BinanceClient) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	c.mu.Lock()
	inst, ok := c.instruments[symbol]
	c.mu.Unlock()
	if ok {
		return inst, nil
	}

	inst = models.Instrument{Symbol: symbol, ContractMultiplier: 1}
	err := c.withRetry(ctx, "exchange info "+symbol, func() error {
		var minQty, step string
		if c.market == models.MarketSpot {
			info, err := c.spot.NewExchangeInfoService().Symbol(symbol).Do(ctx)
			if err != nil {
				return err
			}
			for _, s := range info.Symbols {
				if s.Symbol == symbol {
					if f := s.LotSizeFilter(); f != nil {
						minQty, step = f.MinQuantity, f.StepSize
					}
				}
			}
		} else {
			info, err := c.futures.NewExchangeInfoService().Do(ctx)
			if err != nil {
				return err
			}
			for _, s := range info.Symbols {
				if s.Symbol == symbol {
					if f := s.LotSizeFilter(); f != nil {
						minQty, step = f.MinQuantity, f.StepSize
					}
				}
			}
		}
		if minQty == "" {
			return fmt.Errorf("symbol %s not found in exchange info", symbol)
		}
		inst.MinQuantity, _ = strconv.ParseFloat(minQty, 64)
		inst.StepSize, _ = strconv.ParseFloat(step, 64)
		return nil
	})
	if err != nil {
		return models.Instrument{}, err
	}

	c.mu.Lock()
	c.instruments[symbol] = inst
	c.mu.Unlock()
	return inst, nil
}

// AccountBalance returns total and free balance of the quote asset.
func (c *BinanceClient) AccountBalance(ctx context.Context) (float64, float64, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	if c.market == models.MarketSpot {
		account, err := c.spot.NewGetAccountService().Do(ctx)
		if err != nil {
			return 0, 0, classify(err)
		}
		for _, b := range account.Balances {
			if b.Asset == c.quoteAsset {
				free, _ := strconv.ParseFloat(b.Free, 64)
				locked, _ := strconv.ParseFloat(b.Locked, 64)
				return free + locked, free, nil
			}
		}
		return 0, 0, nil
	}

	balances, err := c.futures.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, 0, classify(err)
	}
	for _, b := range balances {
		if b.Asset == c.quoteAsset {
			total, _ := strconv.ParseFloat(b.Balance, 64)
			free, _ := strconv.ParseFloat(b.AvailableBalance, 64)
			return total, free, nil
		}
	}
	return 0, 0, nil
}

// ChangeLeverage sets the symbol's futures leverage. No-op on spot.
func (c *BinanceClient) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	if c.market == models.MarketSpot {
		return nil
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.futures.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return classify(err)
}

// PlaceOrder submits req once, never retried. It returns the exchange
// order id and the average fill price when the exchange reports one.
func (c *BinanceClient) PlaceOrder(ctx context.Context, req models.OrderRequest, clientOrderID string) (string, float64, error) {
	inst, err := c.Instrument(ctx, req.Symbol)
	if err != nil {
		return "", 0, err
	}
	qty := FormatQuantity(req.Quantity, inst.StepSize)
	if qty == "0" {
		return "", 0, fmt.Errorf("quantity %v rounds to zero at step %v", req.Quantity, inst.StepSize)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", 0, err
	}

	if c.market == models.MarketSpot {
		svc := c.spot.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(binance.SideType(strings.ToUpper(string(req.Side)))).
			Quantity(qty).
			NewClientOrderID(clientOrderID)
		if req.Price != nil {
			svc = svc.Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Price(strconv.FormatFloat(*req.Price, 'f', -1, 64))
		} else {
			svc = svc.Type(binance.OrderTypeMarket)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return "", 0, classify(err)
		}
		return strconv.FormatInt(res.OrderID, 10), spotFillPrice(res), nil
	}

	svc := c.futures.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(strings.ToUpper(string(req.Side)))).
		Quantity(qty).
		NewClientOrderID(clientOrderID)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.Price != nil {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(*req.Price, 'f', -1, 64))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", 0, classify(err)
	}
	avg, _ := strconv.ParseFloat(res.AvgPrice, 64)
	return strconv.FormatInt(res.OrderID, 10), avg, nil
}

// withRetry runs call behind the rate limiter, retrying with exponential
// backoff. Region restrictions fail immediately.
func (c *BinanceClient) withRetry(ctx context.Context, what string, call func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Wait for rate limiter
		if werr := c.rateLimiter.Wait(ctx); werr != nil {
			return werr
		}

		err = classify(call())
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRegionRestricted) || attempt == c.maxRetries {
			break
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * c.backoff
		c.log.Warn("%s failed (attempt %d/%d): %v, retrying in %s", what, attempt+1, c.maxRetries+1, err, waitTime)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
	return err
}

// classify maps exchange errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsRegionRestricted(err) {
		return fmt.Errorf("%w: %v", ErrRegionRestricted, err)
	}
	return err
}

// IsRegionRestricted recognizes Binance's HTTP 451 location block.
func IsRegionRestricted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRegionRestricted) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if apiErr, ok := err.(*common.APIError); ok {
		msg = strings.ToLower(apiErr.Message)
	}
	return strings.Contains(msg, "restricted location") || strings.Contains(msg, "451")
}

// FormatQuantity floors qty to step and renders it without exponent.
func FormatQuantity(qty, step float64) string {
	d := decimal.NewFromFloat(qty)
	if step > 0 {
		s := decimal.NewFromFloat(step)
		d = d.Div(s).Floor().Mul(s)
	}
	return d.String()
}

func toCandle(symbol, interval string, openTime, closeTime int64, open, high, low, closePrice, volume string, trades int64) models.Candle {
	return models.Candle{
		Symbol:     symbol,
		TimeFrame:  interval,
		OpenTime:   time.UnixMilli(openTime).UTC(),
		CloseTime:  time.UnixMilli(closeTime).UTC(),
		Open:       parseFloat(open),
		High:       parseFloat(high),
		Low:        parseFloat(low),
		Close:      parseFloat(closePrice),
		Volume:     parseFloat(volume),
		TradeCount: trades,
	}
}

func spotFillPrice(res *binance.CreateOrderResponse) float64 {
	var qty, quote float64
	for _, f := range res.Fills {
		p, _ := strconv.ParseFloat(f.Price, 64)
		q, _ := strconv.ParseFloat(f.Quantity, 64)
		qty += q
		quote += p * q
	}
	if qty == 0 {
		return 0
	}
	return quote / qty
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
