package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/metrics"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/operations/binance"
	"CryptoSignalEngine/internal/operations/price"
	"CryptoSignalEngine/internal/services/ledger"
	"CryptoSignalEngine/internal/services/risk"
	"CryptoSignalEngine/internal/services/sizing"
	"CryptoSignalEngine/internal/services/strategy"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStrategy returns a fixed direction per symbol.
type scriptedStrategy struct {
	calls map[string]strategy.Direction
}

func (s *scriptedStrategy) Name() string          { return "scripted" }
func (s *scriptedStrategy) RequiredBars() int     { return 1 }
func (s *scriptedStrategy) UsesFilterChain() bool { return false }

func (s *scriptedStrategy) Generate(sc *strategy.SignalContext) *strategy.Signal {
	return &strategy.Signal{
		Symbol:      sc.Symbol,
		Direction:   s.calls[sc.Symbol],
		Price:       sc.LastClose(),
		Diagnostics: sc.Diagnostics,
	}
}

type fakeCandles struct {
	errs   map[string]error
	closes map[string]float64
}

func (f *fakeCandles) FetchCandles(_ context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	c := f.closes[symbol]
	if c == 0 {
		c = 100
	}
	return []models.Candle{{Symbol: symbol, TimeFrame: timeframe, Close: c}}, nil
}

type fakeMarket struct {
	prices     map[string]float64
	total      float64
	free       float64
	balanceErr error
}

func (m *fakeMarket) ReferencePrice(_ context.Context, symbol string) (float64, error) {
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

func (m *fakeMarket) Instrument(_ context.Context, symbol string) (models.Instrument, error) {
	return models.Instrument{Symbol: symbol, MinQuantity: 0.001, StepSize: 0.001}, nil
}

func (m *fakeMarket) AccountBalance(context.Context) (float64, float64, error) {
	return m.total, m.free, m.balanceErr
}

type fakeSubmitter struct {
	market    *fakeMarket
	submitted []models.OrderRequest
}

func (s *fakeSubmitter) Submit(_ context.Context, req models.OrderRequest) models.OrderResult {
	s.submitted = append(s.submitted, req)
	return models.OrderResult{
		Request:       req,
		Success:       true,
		OrderID:       fmt.Sprintf("%d", len(s.submitted)),
		ClientOrderID: "cid",
		FillPrice:     s.market.prices[req.Symbol],
	}
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(text string) {
	n.messages = append(n.messages, text)
}

type memBalances struct {
	rows []*models.Balance
}

func (b *memBalances) Create(balance *models.Balance) error {
	b.rows = append(b.rows, balance)
	return nil
}

func (b *memBalances) GetLatest(env models.Env, asset string) (*models.Balance, error) {
	for i := len(b.rows) - 1; i >= 0; i-- {
		if b.rows[i].Env == env && b.rows[i].Asset == asset {
			return b.rows[i], nil
		}
	}
	return nil, nil
}

type fixture struct {
	strategy  *scriptedStrategy
	candles   *fakeCandles
	market    *fakeMarket
	submitter *fakeSubmitter
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	ledger    *ledger.Ledger
	balances  *memBalances
}

func newFixture(t *testing.T, env models.Env, enableTrading bool, symbols ...string) (*Runner, *fixture) {
	t.Helper()
	params := config.DefaultParams()

	f := &fixture{
		strategy: &scriptedStrategy{calls: map[string]strategy.Direction{}},
		candles:  &fakeCandles{errs: map[string]error{}, closes: map[string]float64{}},
		market:   &fakeMarket{prices: map[string]float64{}, total: 1000, free: 800},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(nil),
		ledger:   ledger.NewLedger(env, config.FlipModeReopen, nil, nil, nil),
		balances: &memBalances{},
	}
	f.submitter = &fakeSubmitter{market: f.market}

	r := NewRunner(RunnerConfig{
		Env:           env,
		Symbols:       symbols,
		TimeFrame:     models.TimeFrame1h,
		HTFTimeFrame:  models.TimeFrame4h,
		CandleLimit:   10,
		EnableTrading: enableTrading,
	}, RunnerDeps{
		Candles:   f.candles,
		Market:    f.market,
		Evaluator: strategy.NewEvaluatorWith(f.strategy, nil, nil),
		Sizer:     sizing.NewSizer(params.Sizing, nil),
		Adjuster:  risk.NewAdjuster(params.Risk, nil),
		Submitter: f.submitter,
		Fills:     NewFillHandler(f.ledger, f.notifier, f.metrics, nil),
		Notifier:  f.notifier,
		Metrics:   f.metrics,
		Balances:  f.balances,
	}, nil)
	return r, f
}

func TestRunOnceSkipsFailingSymbols(t *testing.T) {
	r, f := newFixture(t, models.EnvPaper, true, "BTCUSDT", "ETHUSDT", "XRPUSDT", "SOLUSDT", "ADAUSDT")
	f.strategy.calls["BTCUSDT"] = strategy.DirectionLong
	f.strategy.calls["ETHUSDT"] = strategy.DirectionShort
	f.market.prices["BTCUSDT"] = 100
	f.market.prices["ETHUSDT"] = 100
	f.candles.errs["SOLUSDT"] = errors.New("timeout")
	f.candles.errs["ADAUSDT"] = fmt.Errorf("%w: 451", binance.ErrRegionRestricted)

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"BTCUSDT": "long", "ETHUSDT": "short", "XRPUSDT": "none"}, summary.Signals)
	assert.Equal(t, map[string]string{"SOLUSDT": SkipCandles, "ADAUSDT": SkipRegionRestricted}, summary.Skipped)

	require.Len(t, f.submitter.submitted, 2)
	assert.Equal(t, models.SideBuy, f.submitter.submitted[0].Side)
	assert.Equal(t, models.SideSell, f.submitter.submitted[1].Side)
	assert.InDelta(t, 0.5, f.submitter.submitted[0].Quantity, 1e-9)

	assert.Equal(t, ledger.StateLong, f.ledger.State("BTCUSDT"))
	assert.Equal(t, ledger.StateShort, f.ledger.State("ETHUSDT"))
	assert.Empty(t, summary.Trades)

	// two order results plus the summary
	require.Len(t, f.notifier.messages, 3)
	assert.Contains(t, f.notifier.messages[2], "run summary")
	assert.Contains(t, f.notifier.messages[2], "SOLUSDT: skipped, candles_unavailable")

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Orders.WithLabelValues("paper", "placed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SymbolsSkipped.WithLabelValues(SkipRegionRestricted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.OpenPositions.WithLabelValues("paper")))
	assert.Empty(t, f.balances.rows, "paper runs take no balance snapshot")
}

func TestRunOnceFlipClosesTrade(t *testing.T) {
	r, f := newFixture(t, models.EnvPaper, true, "BTCUSDT")
	f.strategy.calls["BTCUSDT"] = strategy.DirectionLong
	f.market.prices["BTCUSDT"] = 100

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	f.strategy.calls["BTCUSDT"] = strategy.DirectionShort
	f.market.prices["BTCUSDT"] = 110
	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Trades, 1)
	trade := summary.Trades[0]
	assert.Equal(t, models.PositionSideLong, trade.Side)
	assert.InDelta(t, 0.5, trade.Quantity, 1e-9)
	assert.InDelta(t, 5.0, trade.PnL, 1e-9)
	assert.Equal(t, ledger.StateShort, f.ledger.State("BTCUSDT"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ClosedTrades.WithLabelValues("paper", "win")))
}

func TestRunOnceTradingDisabled(t *testing.T) {
	r, f := newFixture(t, models.EnvPaper, false, "BTCUSDT")
	f.strategy.calls["BTCUSDT"] = strategy.DirectionLong
	f.market.prices["BTCUSDT"] = 100

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.submitter.submitted)
	assert.Empty(t, summary.Orders)
	assert.Equal(t, "long", summary.Signals["BTCUSDT"])
	assert.Equal(t, ledger.StateFlat, f.ledger.State("BTCUSDT"))
}

func TestRunOnceLiveBalanceUnavailableRejectsBatch(t *testing.T) {
	r, f := newFixture(t, models.EnvLive, true, "BTCUSDT")
	f.strategy.calls["BTCUSDT"] = strategy.DirectionLong
	f.market.prices["BTCUSDT"] = 100
	f.market.balanceErr = errors.New("api down")

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.submitter.submitted)
	assert.Contains(t, summary.Rejected, "balance unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RiskDropped.WithLabelValues("rejected")))
}

func TestRunOnceLiveScalesToCapAndSnapshotsBalance(t *testing.T) {
	r, f := newFixture(t, models.EnvLive, true, "BTCUSDT")
	f.strategy.calls["BTCUSDT"] = strategy.DirectionLong
	f.market.prices["BTCUSDT"] = 100

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	// cap = min(100, 1000*0.02, 800) = 20 against a 50 notional
	require.Len(t, f.submitter.submitted, 1)
	assert.InDelta(t, 0.2, f.submitter.submitted[0].Quantity, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RiskScaled))

	require.Len(t, f.balances.rows, 1)
	assert.Equal(t, "USDT", f.balances.rows[0].Asset)
	assert.Equal(t, 1000.0, f.balances.rows[0].Total)
}

func TestRunOnceLiveSummaryBalance(t *testing.T) {
	r, f := newFixture(t, models.EnvLive, false, "BTCUSDT")

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary.Balance)
	assert.False(t, summary.BalanceStale)
	assert.Equal(t, 800.0, summary.Balance.Free)

	// exchange down: the stored snapshot stands in
	f.market.balanceErr = errors.New("api down")
	summary, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary.Balance)
	assert.True(t, summary.BalanceStale)
	assert.Equal(t, 1000.0, summary.Balance.Total)
	assert.Len(t, f.balances.rows, 1)
	assert.Contains(t, f.notifier.messages[len(f.notifier.messages)-1], "Balance: 1000 total, 800 free USDT (as of")
}

func TestRunOnceFallsBackToLastClose(t *testing.T) {
	r, f := newFixture(t, models.EnvPaper, true, "BTCUSDT")
	f.strategy.calls["BTCUSDT"] = strategy.DirectionLong
	f.candles.closes["BTCUSDT"] = 50

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Skipped)
	require.Len(t, f.submitter.submitted, 1)
	assert.InDelta(t, 1.0, f.submitter.submitted[0].Quantity, 1e-9)
	// no exchange price: the paper order goes out at the default notional
	assert.Zero(t, testutil.ToFloat64(f.metrics.RiskDropped.WithLabelValues("unpriced")))
}

func TestRunOnceCancelled(t *testing.T) {
	r, _ := newFixture(t, models.EnvPaper, true, "BTCUSDT")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	r, f := newFixture(t, models.EnvPaper, false, "BTCUSDT")
	r.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(f.notifier.messages) > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestFillHandlerIgnoresSpotFills(t *testing.T) {
	l := ledger.NewLedger(models.EnvPaper, "", nil, nil, nil)
	n := &recordingNotifier{}
	h := NewFillHandler(l, n, nil, nil)

	trade := h.HandleResult(models.OrderResult{
		Request:   models.OrderRequest{Env: models.EnvPaper, Market: models.MarketSpot, Symbol: "BTCUSDT", Side: models.SideBuy, Quantity: 1},
		Success:   true,
		FillPrice: 100,
	})
	assert.Nil(t, trade)
	assert.Zero(t, h.OpenPositions())
	require.Len(t, n.messages, 1)
	assert.True(t, strings.HasPrefix(n.messages[0], "[TEST] [SPOT] OK"))
}

func TestFillHandlerFailedOrderLeavesLedger(t *testing.T) {
	l := ledger.NewLedger(models.EnvPaper, "", nil, nil, nil)
	h := NewFillHandler(l, &recordingNotifier{}, nil, nil)

	h.HandleResult(models.OrderResult{
		Request: models.OrderRequest{Env: models.EnvPaper, Market: models.MarketFutures, Symbol: "BTCUSDT", Side: models.SideBuy, Quantity: 1, PositionSide: models.PositionSideLong},
		Error:   "rejected",
	})
	assert.Zero(t, h.OpenPositions())
}

type staticKlines struct {
	fail map[string]bool
}

func (s *staticKlines) GetKlines(_ context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if s.fail[symbol] {
		return nil, errors.New("down")
	}
	return make([]models.Candle, limit), nil
}

func TestPriceHandlerBackfill(t *testing.T) {
	src := &staticKlines{fail: map[string]bool{"ETHUSDT": true}}
	h := NewPriceHandler(price.NewPriceFetcher(src, nil, 0, nil), []string{"BTCUSDT", "ETHUSDT"}, []string{"1h", "4h"}, 5, nil)
	assert.NoError(t, h.Backfill(context.Background()))

	src.fail["BTCUSDT"] = true
	assert.Error(t, h.Backfill(context.Background()))
}
