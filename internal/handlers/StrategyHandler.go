package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/metrics"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/operations/binance"
	"CryptoSignalEngine/internal/operations/notify"
	"CryptoSignalEngine/internal/services/risk"
	"CryptoSignalEngine/internal/services/sizing"
	"CryptoSignalEngine/internal/services/strategy"
)

// Skip reasons reported per symbol.
const (
	SkipRegionRestricted = "region_restricted"
	SkipCandles          = "candles_unavailable"
	SkipHTFCandles       = "htf_candles_unavailable"
	SkipInstrument       = "instrument_unavailable"
	SkipDegenerateSizing = "degenerate_sizing"
	SkipNoReferencePrice = "reference_price_unavailable"
)

const (
	riskDroppedDuplicate  = "duplicate"
	riskDroppedTruncated  = "max_orders"
	riskDroppedLowBalance = "low_balance"
	riskDroppedUnpriced   = "unpriced"
	riskDroppedRejected   = "rejected"
)

// CandleSource fetches candles oldest first; satisfied by price.PriceFetcher.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// OrderSubmitter places one order; satisfied by position.OrderExecutor.
type OrderSubmitter interface {
	Submit(ctx context.Context, req models.OrderRequest) models.OrderResult
}

// BalanceRecorder stores balance snapshots; satisfied by the balance repository.
type BalanceRecorder interface {
	Create(balance *models.Balance) error
	// GetLatest returns the newest snapshot, nil when there is none.
	GetLatest(env models.Env, asset string) (*models.Balance, error)
}

// TradeHistory summarizes closed trades; satisfied by the ledger file
// store and the trade repository.
type TradeHistory interface {
	Stats(env models.Env) (models.TradeStats, error)
}

type RunnerConfig struct {
	Env           models.Env
	Symbols       []string
	TimeFrame     string
	HTFTimeFrame  string
	CandleLimit   int
	EnableTrading bool
	Interval      time.Duration
	QuoteAsset    string
}

// Runner is one environment's evaluation loop: candles in, orders out.
// Runs never overlap.
type Runner struct {
	cfg       RunnerConfig
	candles   CandleSource
	market    risk.PricingContext
	evaluator *strategy.Evaluator
	sizer     *sizing.Sizer
	adjuster  *risk.Adjuster
	submitter OrderSubmitter
	fills     *FillHandler
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	balances  BalanceRecorder
	history   TradeHistory
	log       *logger.Logger
	now       func() time.Time

	mu sync.Mutex
}

// RunnerDeps bundles the collaborators of a Runner. Balances and History
// are optional.
type RunnerDeps struct {
	Candles   CandleSource
	Market    risk.PricingContext
	Evaluator *strategy.Evaluator
	Sizer     *sizing.Sizer
	Adjuster  *risk.Adjuster
	Submitter OrderSubmitter
	Fills     *FillHandler
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Balances  BalanceRecorder
	History   TradeHistory
}

func NewRunner(cfg RunnerConfig, deps RunnerDeps, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(log)
	}
	if deps.Fills == nil {
		deps.Fills = NewFillHandler(nil, deps.Notifier, deps.Metrics, log)
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Runner{
		cfg:       cfg,
		candles:   deps.Candles,
		market:    deps.Market,
		evaluator: deps.Evaluator,
		sizer:     deps.Sizer,
		adjuster:  deps.Adjuster,
		submitter: deps.Submitter,
		fills:     deps.Fills,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		balances:  deps.Balances,
		history:   deps.History,
		log:       log,
		now:       time.Now,
	}
}

// Start runs once immediately, then on every interval tick until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.Error("Run failed: %v", err)
	}
}

// RunOnce evaluates every symbol, risk-adjusts the batch, submits it when
// trading is enabled and reports the outcome. A failing symbol is skipped;
// only a cancelled context fails the run.
func (r *Runner) RunOnce(ctx context.Context) (*notify.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := r.now()
	r.log.Info("Starting %s run over %d symbols (%s, htf %s)", r.cfg.Env, len(r.cfg.Symbols), r.cfg.TimeFrame, r.cfg.HTFTimeFrame)

	summary := &notify.RunSummary{
		Env:     r.cfg.Env,
		Signals: make(map[string]string),
		Vetoes:  make(map[string]string),
		Skipped: make(map[string]string),
	}

	var orders []models.OrderRequest
	for _, symbol := range r.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		order, reason := r.processSymbol(ctx, symbol, summary)
		if reason != "" {
			summary.Skipped[symbol] = reason
			r.metrics.SymbolsSkipped.WithLabelValues(reason).Inc()
			continue
		}
		if order != nil {
			orders = append(orders, *order)
		}
	}

	adjusted := r.applyRisk(ctx, orders, summary)

	if len(adjusted) > 0 && !r.cfg.EnableTrading {
		r.log.Info("Trading disabled, %d orders not submitted", len(adjusted))
	}
	if r.cfg.EnableTrading {
		for _, req := range adjusted {
			res := r.submitter.Submit(ctx, req)
			summary.Orders = append(summary.Orders, res)
			if trade := r.fills.HandleResult(res); trade != nil {
				summary.Trades = append(summary.Trades, *trade)
			}
		}
	}

	r.metrics.OpenPositions.WithLabelValues(string(r.cfg.Env)).Set(float64(r.fills.OpenPositions()))
	summary.Balance, summary.BalanceStale = r.snapshotBalance(ctx)

	if r.history != nil {
		if stats, err := r.history.Stats(r.cfg.Env); err != nil {
			r.log.Warn("Error loading trade stats: %v", err)
		} else {
			summary.Stats = &stats
		}
	}

	r.notifier.Notify(notify.FormatRunSummary(*summary))
	r.metrics.RunDuration.Observe(r.now().Sub(started).Seconds())
	r.metrics.LastRun.Set(float64(r.now().Unix()))
	r.log.Info("Run finished: %d signals, %d skipped, %d orders, %d closed trades",
		len(summary.Signals), len(summary.Skipped), len(summary.Orders), len(summary.Trades))
	return summary, nil
}

// processSymbol returns the sized order for symbol, nil when the signal is
// None, or a skip reason when a collaborator failed.
func (r *Runner) processSymbol(ctx context.Context, symbol string, summary *notify.RunSummary) (*models.OrderRequest, string) {
	candles, err := r.candles.FetchCandles(ctx, symbol, r.cfg.TimeFrame, r.cfg.CandleLimit)
	if err != nil {
		return nil, r.fetchFailure(symbol, r.cfg.TimeFrame, err, SkipCandles)
	}

	var htf []models.Candle
	if r.cfg.HTFTimeFrame != "" {
		htf, err = r.candles.FetchCandles(ctx, symbol, r.cfg.HTFTimeFrame, r.cfg.CandleLimit)
		if err != nil {
			return nil, r.fetchFailure(symbol, r.cfg.HTFTimeFrame, err, SkipHTFCandles)
		}
	}

	sig := r.evaluator.Evaluate(symbol, candles, htf)
	summary.Signals[symbol] = sig.Direction.String()
	r.metrics.Signals.WithLabelValues(symbol, sig.Direction.String()).Inc()
	if filter, ok := sig.Diagnostics[strategy.KeyVetoedBy].(string); ok {
		summary.Vetoes[symbol] = filter
		r.metrics.Vetoes.WithLabelValues(filter).Inc()
	}
	if !sig.IsDirectional() {
		return nil, ""
	}

	price, err := r.market.ReferencePrice(ctx, symbol)
	if err != nil || !(price > 0) {
		if !(sig.Price > 0) {
			r.log.Warn("%s: no reference price: %v", symbol, err)
			return nil, SkipNoReferencePrice
		}
		r.log.Warn("%s: reference price unavailable (%v), using last close %.8f", symbol, err, sig.Price)
		price = sig.Price
	}

	inst, err := r.market.Instrument(ctx, symbol)
	if err != nil {
		r.log.Warn("%s: instrument metadata unavailable: %v", symbol, err)
		return nil, SkipInstrument
	}

	order, err := r.sizer.SizeOrder(sig, sizing.SizingInput{
		Env:            r.cfg.Env,
		ReferencePrice: price,
		Instrument:     inst,
	})
	if err != nil {
		r.log.Warn("%s: order dropped: %v", symbol, err)
		return nil, SkipDegenerateSizing
	}
	return order, ""
}

func (r *Runner) fetchFailure(symbol, timeframe string, err error, reason string) string {
	if errors.Is(err, binance.ErrRegionRestricted) {
		r.log.Warn("%s: exchange unavailable from this region, skipping for this run", symbol)
		return SkipRegionRestricted
	}
	r.log.Error("%s: error fetching %s candles: %v", symbol, timeframe, err)
	return reason
}

func (r *Runner) applyRisk(ctx context.Context, orders []models.OrderRequest, summary *notify.RunSummary) []models.OrderRequest {
	if len(orders) == 0 {
		return nil
	}

	adjusted, report, err := r.adjuster.Apply(ctx, r.cfg.Env, orders, r.market)
	if err != nil {
		summary.Rejected = err.Error()
		r.metrics.RiskDropped.WithLabelValues(riskDroppedRejected).Add(float64(len(orders)))
		r.log.Error("Risk control rejected the %s batch of %d orders: %v", r.cfg.Env, len(orders), err)
		return nil
	}

	if report.Rejected {
		summary.Rejected = report.RejectReason
		r.metrics.RiskDropped.WithLabelValues(riskDroppedRejected).Add(float64(len(orders)))
	}
	r.metrics.RiskScaled.Add(float64(len(report.Scaled)))
	for reason, n := range map[string]int{
		riskDroppedDuplicate:  report.Duplicates,
		riskDroppedTruncated:  report.Truncated,
		riskDroppedLowBalance: report.LowBalanceDropped,
		riskDroppedUnpriced:   report.Unpriced,
	} {
		if n > 0 {
			r.metrics.RiskDropped.WithLabelValues(reason).Add(float64(n))
		}
	}
	r.log.Info("Risk control: %d in, %d out, %d scaled, %d at default notional (cap %.2f)",
		report.Input, report.Output, len(report.Scaled), report.DefaultPriced, report.Cap)
	return adjusted
}

// snapshotBalance stores the live account balance once per run. When the
// exchange cannot be read it returns the last stored snapshot, marked stale.
func (r *Runner) snapshotBalance(ctx context.Context) (*models.Balance, bool) {
	if r.cfg.Env != models.EnvLive || r.balances == nil {
		return nil, false
	}
	total, free, err := r.market.AccountBalance(ctx)
	if err != nil {
		r.log.Warn("Error reading balance for snapshot: %v", err)
		last, lerr := r.balances.GetLatest(r.cfg.Env, r.cfg.QuoteAsset)
		if lerr != nil {
			r.log.Warn("Error loading last %s balance snapshot: %v", r.cfg.QuoteAsset, lerr)
			return nil, false
		}
		return last, last != nil
	}

	balance := &models.Balance{
		Env:         r.cfg.Env,
		Asset:       r.cfg.QuoteAsset,
		Total:       total,
		Free:        free,
		LastUpdated: r.now().UTC(),
	}
	if err := r.balances.Create(balance); err != nil {
		r.log.Warn("Error saving %s balance snapshot: %v", r.cfg.QuoteAsset, err)
	}
	return balance, false
}
