package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/handlers"
	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/metrics"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/operations/backtest"
	"CryptoSignalEngine/internal/operations/binance"
	"CryptoSignalEngine/internal/operations/notify"
	"CryptoSignalEngine/internal/operations/position"
	"CryptoSignalEngine/internal/operations/price"
	"CryptoSignalEngine/internal/repositories"
	"CryptoSignalEngine/internal/services/ledger"
	"CryptoSignalEngine/internal/services/risk"
	"CryptoSignalEngine/internal/services/sizing"
	"CryptoSignalEngine/internal/services/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	once := flag.Bool("once", false, "run one evaluation and exit (cron mode)")
	backfill := flag.Bool("backfill", false, "fetch and cache candle history, then exit")
	replay := flag.Bool("backtest", false, "replay candle history through the strategy, then exit")
	from := flag.String("from", "", "backtest start date (2006-01-02), read from the candle cache")
	to := flag.String("to", "", "backtest end date (2006-01-02), defaults to now")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	lg := logger.New(cfg.Run.LogLevel)

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var db *gorm.DB
	if cfg.Database.Enabled {
		db = setupDatabase(cfg.Database)
	}

	// Paper trades on the testnet with the test keys
	apiKey, secretKey := cfg.Exchange.Keys(cfg.Run.Env)
	client := binance.NewBinanceClient(cfg.Exchange.Market, apiKey, secretKey,
		cfg.Run.Env == models.EnvPaper, cfg.Exchange.QuoteAsset, lg)

	evaluator, err := strategy.NewEvaluator(cfg.Params, lg)
	if err != nil {
		log.Fatal("Failed to build strategy:", err)
	}

	var cache price.CandleCache
	if db != nil {
		cache = repositories.NewCandleRepository(db)
	}
	fetcher := price.NewPriceFetcher(client, cache, evaluator.RequiredBars(), lg)

	switch {
	case *backfill:
		timeframes := []string{cfg.Run.TimeFrame}
		if cfg.Run.HTFTimeFrame != "" {
			timeframes = append(timeframes, cfg.Run.HTFTimeFrame)
		}
		h := handlers.NewPriceHandler(fetcher, cfg.Run.Symbols, timeframes, cfg.Run.CandleLimit, lg)
		if err := h.Backfill(ctx); err != nil {
			log.Fatal("Backfill failed:", err)
		}
	case *replay:
		load, err := historyLoader(ctx, db, fetcher, cfg.Run.CandleLimit, *from, *to)
		if err != nil {
			log.Fatal("Backtest failed:", err)
		}
		if err := runBacktest(ctx, cfg, evaluator, load, client, lg); err != nil {
			log.Fatal("Backtest failed:", err)
		}
	default:
		runner, reg := buildRunner(cfg, db, client, evaluator, fetcher, lg)
		if *once {
			if _, err := runner.RunOnce(ctx); err != nil {
				log.Fatal("Run failed:", err)
			}
			return
		}
		if cfg.Run.MetricsAddr != "" {
			go serveMetrics(ctx, cfg.Run.MetricsAddr, reg, lg)
		}
		lg.Info("Running every %s, env=%s market=%s trading=%t dry_run=%t",
			cfg.Run.Interval, cfg.Run.Env, client.Market(), cfg.Run.EnableTrading, cfg.Run.DryRun)
		runner.Start(ctx)
		lg.Info("Shutdown complete")
	}
}

func buildRunner(cfg *config.Config, db *gorm.DB, client *binance.BinanceClient, evaluator *strategy.Evaluator, fetcher *price.PriceFetcher, lg *logger.Logger) (*handlers.Runner, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var (
		store    ledger.PositionStore
		sink     ledger.TradeSink
		history  handlers.TradeHistory
		audit    position.OrderAudit
		balances handlers.BalanceRecorder
	)
	if db != nil {
		trades := repositories.NewTradeRepository(db)
		store = repositories.NewPositionRepository(db)
		sink, history = trades, trades
		audit = repositories.NewOrderRepository(db)
		balances = repositories.NewBalanceRepository(db)
	} else {
		files, err := ledger.NewFileStore(cfg.Run.StateDir)
		if err != nil {
			log.Fatal("Failed to open ledger state dir:", err)
		}
		store, sink, history = files, files, files
	}

	book := ledger.NewLedger(cfg.Run.Env, cfg.Params.Ledger.FlipMode, store, sink, lg)
	if err := book.Load(); err != nil {
		log.Fatal("Failed to load virtual positions:", err)
	}

	notifier := newNotifier(cfg.Notify, lg)

	runner := handlers.NewRunner(handlers.RunnerConfig{
		Env:           cfg.Run.Env,
		Symbols:       cfg.Run.Symbols,
		TimeFrame:     cfg.Run.TimeFrame,
		HTFTimeFrame:  cfg.Run.HTFTimeFrame,
		CandleLimit:   cfg.Run.CandleLimit,
		EnableTrading: cfg.Run.EnableTrading,
		Interval:      cfg.Run.Interval,
		QuoteAsset:    cfg.Exchange.QuoteAsset,
	}, handlers.RunnerDeps{
		Candles:   fetcher,
		Market:    client,
		Evaluator: evaluator,
		Sizer:     sizing.NewSizer(cfg.Params.Sizing, lg),
		Adjuster:  risk.NewAdjuster(cfg.Params.Risk, lg),
		Submitter: position.NewOrderExecutor(client, audit, cfg.Run.DryRun, lg),
		Fills:     handlers.NewFillHandler(book, notifier, m, lg),
		Notifier:  notifier,
		Metrics:   m,
		Balances:  balances,
		History:   history,
	}, lg)
	return runner, reg
}

func newNotifier(cfg config.NotifyConfig, lg *logger.Logger) notify.Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		return notify.NewLogNotifier(lg)
	}
	tg, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, lg)
	if err != nil {
		lg.Warn("Telegram unavailable, logging notifications instead: %v", err)
		return notify.NewLogNotifier(lg)
	}
	return tg
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, lg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	lg.Info("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error("Metrics server stopped: %v", err)
	}
}

// candleLoader returns the history a backtest replays for one symbol and timeframe.
type candleLoader func(symbol, timeFrame string) ([]models.Candle, error)

// historyLoader reads a date range from the candle cache when one is given,
// otherwise the latest window from the exchange.
func historyLoader(ctx context.Context, db *gorm.DB, fetcher *price.PriceFetcher, limit int, from, to string) (candleLoader, error) {
	if from == "" {
		return func(symbol, timeFrame string) ([]models.Candle, error) {
			return fetcher.FetchCandles(ctx, symbol, timeFrame, limit)
		}, nil
	}
	if db == nil {
		return nil, errors.New("-from needs the candle cache, set DB_ENABLED")
	}

	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, fmt.Errorf("parse -from: %w", err)
	}
	end := time.Now().UTC()
	if to != "" {
		if end, err = time.Parse(time.DateOnly, to); err != nil {
			return nil, fmt.Errorf("parse -to: %w", err)
		}
	}

	repo := repositories.NewCandleRepository(db)
	return func(symbol, timeFrame string) ([]models.Candle, error) {
		candles, err := repo.GetCandlesByTimeFrame(symbol, timeFrame, start, end)
		if err == nil && len(candles) == 0 {
			err = fmt.Errorf("no cached %s %s candles between %s and %s, run -backfill first", symbol, timeFrame, start.Format(time.DateOnly), end.Format(time.DateOnly))
		}
		return candles, err
	}, nil
}

func runBacktest(ctx context.Context, cfg *config.Config, evaluator *strategy.Evaluator, load candleLoader, client *binance.BinanceClient, lg *logger.Logger) error {
	btConfig := backtest.NewConfig()
	btConfig.Window = cfg.Run.CandleLimit
	btConfig.FlipMode = cfg.Params.Ledger.FlipMode
	sizer := sizing.NewSizer(cfg.Params.Sizing, lg)

	fmt.Println("\n=== Backtest Results ===")
	for _, symbol := range cfg.Run.Symbols {
		candles, err := load(symbol, cfg.Run.TimeFrame)
		if err != nil {
			lg.Error("%s: %v", symbol, err)
			continue
		}
		var htf []models.Candle
		if cfg.Run.HTFTimeFrame != "" {
			if htf, err = load(symbol, cfg.Run.HTFTimeFrame); err != nil {
				lg.Error("%s: %v", symbol, err)
				continue
			}
		}

		symbolConfig := btConfig
		if inst, err := client.Instrument(ctx, symbol); err == nil {
			symbolConfig.Instrument = inst
		} else {
			lg.Warn("%s: instrument metadata unavailable, sizing without lot constraints: %v", symbol, err)
		}

		results, err := backtest.NewEngine(evaluator, sizer, symbolConfig, lg).Run(symbol, candles, htf)
		if err != nil {
			lg.Error("%v", err)
			continue
		}
		fmt.Println(results.Summary())
	}
	return nil
}

func setupDatabase(dbConfig config.DatabaseConfig) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dbConfig.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto migrate database schemas
	err = db.AutoMigrate(
		&models.Candle{},
		&models.VirtualPosition{},
		&models.ClosedTrade{},
		&models.OrderRecord{},
		&models.Balance{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	return db
}
