package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rewired-gh/mftrend/internal/api"
	"github.com/rewired-gh/mftrend/internal/config"
	"github.com/rewired-gh/mftrend/internal/logger"
	"github.com/rewired-gh/mftrend/internal/marketdata"
	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/params"
	"github.com/rewired-gh/mftrend/internal/report"
	"github.com/rewired-gh/mftrend/internal/scanner"
	"github.com/rewired-gh/mftrend/internal/storage"
	"github.com/rewired-gh/mftrend/internal/telegram"
	"github.com/rewired-gh/mftrend/internal/watchlist"
)

var (
	configPath   = flag.String("config", "configs/config.yaml", "Path to configuration file")
	once         = flag.Bool("once", false, "Run a single scan, print the tables and exit")
	modeFlag     = flag.String("mode", "", "Watchlist to scan (personal or market); overrides scan.mode")
	strategyFlag = flag.String("strategy", "", "Signal strategy (fixed or optimized); overrides scan.strategy")
	signalsOnly  = flag.Bool("signals-only", false, "With -once, only print rows with an enter recommendation or buy signal")
	showReport   = flag.String("show-report", "", "Print the tables of an exported xlsx report and exit")
	initParams   = flag.Bool("init-params", false, "Write a default parameter table for every watchlist symbol to params.path and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *modeFlag != "" {
		cfg.Scan.Mode = *modeFlag
	}
	if *strategyFlag != "" {
		cfg.Scan.Strategy = *strategyFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if *showReport != "" {
		if err := printReport(os.Stdout, *showReport, *signalsOnly); err != nil {
			logger.Fatal("Failed to show report: %v", err)
		}
		return
	}

	mode, _ := models.ParseWatchlistMode(cfg.Scan.Mode)
	strategy, _ := models.ParseStrategy(cfg.Scan.Strategy)

	store, err := storage.New(cfg.Storage.MaxScans, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.RotateScans(ctx); err != nil {
		logger.Warn("Failed to rotate scan history: %v", err)
	}

	cache, closeCache := newBarCache(ctx, cfg, store)
	defer closeCache()

	client := marketdata.NewClient(marketdata.Config{
		BaseURL:      cfg.MarketData.BaseURL,
		Suffix:       cfg.MarketData.Suffix,
		Timeout:      cfg.MarketData.Timeout,
		RequestGap:   cfg.MarketData.RequestGap,
		MaxRetries:   cfg.MarketData.MaxRetries,
		RetryBackoff: cfg.MarketData.RetryBackoff,
		UserAgent:    cfg.MarketData.UserAgent,
	})
	source := marketdata.NewCachedSource(client, cache, cfg.Cache.TTL)

	sc := scanner.New(source, scanner.Config{
		Concurrency: cfg.Scan.Concurrency,
		Period:      cfg.MarketData.Period,
		Indicators:  cfg.IndicatorSettings(),
		Fixed:       cfg.FixedThresholds(),
	})
	svc := scanner.NewService(ctx, sc)
	lists := watchlist.NewStore(cfg.Watchlist.Dir, cfg.WatchlistFiles())

	if *initParams {
		if err := writeDefaultParams(cfg.Params.Path, cfg.Params.DefaultTolerance, lists); err != nil {
			logger.Fatal("Failed to write parameter table: %v", err)
		}
		logger.Info("Default parameter table written to %s", cfg.Params.Path)
		return
	}
	loadParams := func() (*params.Table, error) {
		return params.Load(cfg.Params.Path, cfg.Params.DefaultTolerance)
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	registerHooks(svc, store, telegramClient, cfg)

	buildRequest := func(mode models.WatchlistMode, strategy models.Strategy) (scanner.Request, error) {
		symbols, err := lists.Load(mode)
		if err != nil {
			return scanner.Request{}, fmt.Errorf("failed to load %s watchlist: %w", mode, err)
		}
		req := scanner.Request{Mode: mode, Strategy: strategy, Symbols: symbols}
		if strategy == models.StrategyOptimized {
			table, err := loadParams()
			if err != nil {
				logger.Warn("Parameter table unavailable: %v", err)
			}
			req.Params = table
		}
		return req, nil
	}
	startScan := func(mode models.WatchlistMode, strategy models.Strategy) error {
		req, err := buildRequest(mode, strategy)
		if err != nil {
			return err
		}
		return svc.Trigger(req)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if *once {
		runOnce(ctx, svc, buildRequest, mode, strategy)
		return
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, telegram.Commands{
			Scan: func(m models.WatchlistMode) error { return startScan(m, strategy) },
			Signals: func() []models.SignalResult {
				if latest := svc.Latest(); latest != nil {
					return latest.BuySignals()
				}
				return nil
			},
		})
	}

	var wg sync.WaitGroup
	if cfg.Server.Enabled {
		router := api.NewRouter(api.Deps{
			Scans:           svc,
			Watchlists:      lists,
			History:         store,
			Params:          loadParams,
			StartScan:       startScan,
			DefaultStrategy: strategy,
			Thresholds:      cfg.FixedThresholds(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.NewServer(cfg.Server.Addr, router).Run(ctx); err != nil {
				logger.Error("Dashboard API stopped: %v", err)
				cancel()
			}
		}()
	}

	if cfg.Scan.OnStart {
		logger.Debug("Running initial scan")
		if err := startScan(mode, strategy); err != nil {
			logger.Warn("Initial scan not started: %v", err)
		}
	}

	runScheduler(ctx, cfg, store, func() error { return startScan(mode, strategy) })

	svc.Cancel()
	svc.Wait()
	wg.Wait()
	logger.Info("Service stopped")
}

// newBarCache opens the configured cache backend. The returned func
// releases it.
func newBarCache(ctx context.Context, cfg *config.Config, store *storage.Storage) (marketdata.BarCache, func()) {
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := storage.NewRedisCache(ctx, storage.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Redis cache: %v", err)
		}
		logger.Info("Using Redis bar cache at %s", cfg.Cache.RedisAddr)
		return rc, func() {
			if err := rc.Close(); err != nil {
				logger.Warn("Failed to close Redis cache: %v", err)
			}
		}
	case "none":
		logger.Info("Bar cache disabled")
		return nil, func() {}
	default:
		return store, func() {}
	}
}

// registerHooks persists, exports and announces every published scan, and
// reports failure streaks to Telegram.
func registerHooks(svc *scanner.Service, store *storage.Storage, tg *telegram.Client, cfg *config.Config) {
	var (
		mu                  sync.Mutex
		consecutiveFailures int
	)

	svc.OnFailure(func(err error) {
		mu.Lock()
		consecutiveFailures++
		first := consecutiveFailures == 1
		mu.Unlock()

		if first && tg != nil {
			if sendErr := tg.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
	})

	svc.OnComplete(func(ctx context.Context, scan *scanner.Scan) {
		mu.Lock()
		failures := consecutiveFailures
		consecutiveFailures = 0
		mu.Unlock()

		summary := scan.Summary()
		logger.Info("Scan %s completed in %v: %d results, %d skipped, %d signals",
			scan.ID, scan.FinishedAt.Sub(scan.StartedAt).Round(time.Millisecond),
			summary.Results, len(scan.Skipped), summary.Signals)

		if err := store.SaveScan(ctx, summary, scan.Results, scan.Skipped); err != nil {
			logger.Error("Failed to save scan %s: %v", scan.ID, err)
		}

		if cfg.Report.AutoExport {
			if path, err := report.Export(cfg.Report.Dir, scan); err != nil {
				logger.Error("Failed to export report: %v", err)
			} else {
				logger.Info("Report exported to %s", path)
			}
		}

		if tg == nil {
			return
		}
		if failures > 0 {
			if err := tg.SendRecovery(failures); err != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", err)
			}
		}
		buys := scan.BuySignals()
		if len(buys) == 0 {
			logger.Info("No buy signals this scan")
			return
		}
		if err := tg.SendSignals(buys, scan.FinishedAt); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
		} else {
			logger.Info("Sent Telegram notification with %d buy signals", len(buys))
		}
	})
}

// runOnce scans synchronously and prints the result tables.
func runOnce(
	ctx context.Context,
	svc *scanner.Service,
	buildRequest func(models.WatchlistMode, models.Strategy) (scanner.Request, error),
	mode models.WatchlistMode,
	strategy models.Strategy,
) {
	req, err := buildRequest(mode, strategy)
	if err != nil {
		logger.Fatal("Failed to prepare scan: %v", err)
	}
	req.Progress = func(done, total int) {
		logger.Debug("Scanned %d/%d", done, total)
	}

	scan, err := svc.Run(ctx, req)
	if err != nil {
		logger.Fatal("Scan failed: %v", err)
	}

	report.RenderTables(os.Stdout, scan.Results, *signalsOnly)
	for _, s := range scan.Skipped {
		fmt.Fprintf(os.Stdout, "skipped %s: %s\n", s.Symbol, s.Reason)
	}
}

// printReport renders the tables of a report written by report.Export.
func printReport(w io.Writer, path string, signalsOnly bool) error {
	results, err := report.Read(path)
	if err != nil {
		return err
	}
	report.RenderTables(w, results, signalsOnly)
	return nil
}

// writeDefaultParams seeds path with default parameters for the symbols of
// both watchlists. Existing rows in path are kept.
func writeDefaultParams(path string, tolerance float64, lists *watchlist.Store) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".xlsx" {
		return fmt.Errorf("%w: only .xlsx can be written, got %q", params.ErrUnsupportedFormat, ext)
	}
	rows := make(map[string]models.OptimizationParams)
	for _, mode := range []models.WatchlistMode{models.ModePersonal, models.ModeMarket} {
		symbols, err := lists.Load(mode)
		if err != nil {
			return fmt.Errorf("failed to load %s watchlist: %w", mode, err)
		}
		for _, sym := range symbols {
			rows[sym] = models.DefaultOptimizationParams()
		}
	}
	if existing, err := params.Load(path, tolerance); err == nil {
		for _, sym := range existing.Symbols() {
			rows[sym] = existing.Get(sym)
		}
	}
	return params.WriteXLSX(path, params.NewTable(rows))
}

// runScheduler triggers scans on the configured interval, rotates scan
// history and purges stale cached bars until ctx is cancelled.
func runScheduler(ctx context.Context, cfg *config.Config, store *storage.Storage, scan func() error) {
	if cfg.Scan.Interval <= 0 {
		logger.Info("Scheduled scans disabled, waiting for requests")
		<-ctx.Done()
		return
	}

	logger.Info("Starting scan schedule (interval: %v, mode: %s, strategy: %s)",
		cfg.Scan.Interval, cfg.Scan.Mode, cfg.Scan.Strategy)

	ticker := time.NewTicker(cfg.Scan.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled scan")
			if err := scan(); err != nil {
				logger.Warn("Scheduled scan not started: %v", err)
			}
			if err := store.RotateScans(ctx); err != nil {
				logger.Warn("Failed to rotate scan history: %v", err)
			}
			if cfg.Cache.Backend == "sqlite" {
				if n, err := store.PurgeBars(ctx, cfg.Cache.TTL); err != nil {
					logger.Warn("Failed to purge cached bars: %v", err)
				} else if n > 0 {
					logger.Debug("Purged %d stale cached bar sets", n)
				}
			}
		}
	}
}
