// Package scanner runs the per-symbol fetch, indicator and signal pipeline
// over a watchlist on a bounded worker pool.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/logger"
	"github.com/rewired-gh/mftrend/internal/marketdata"
	"github.com/rewired-gh/mftrend/internal/metrics"
	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/signal"
	"github.com/rewired-gh/mftrend/internal/watchlist"
)

var (
	ErrNoSymbols    = errors.New("no symbols to scan")
	ErrNoParameters = errors.New("optimized scan needs a parameter table, none loaded")
)

// Skip reasons.
const (
	ReasonNoData       = "no data"
	ReasonInsufficient = "insufficient data"
)

const defaultConcurrency = 4

type Config struct {
	Concurrency int
	Period      string
	Indicators  indicator.Settings
	Fixed       signal.FixedThresholds
}

func DefaultConfig() Config {
	return Config{
		Concurrency: defaultConcurrency,
		Period:      "8mo",
		Fixed:       signal.DefaultFixedThresholds(),
	}
}

// ParamTable is the optimized-strategy parameter snapshot.
type ParamTable interface {
	signal.ParamLookup
	Len() int
}

// Request is the snapshot one scan works from. Nothing in it is modified
// by the scan.
type Request struct {
	Mode     models.WatchlistMode
	Strategy models.Strategy
	Symbols  []string
	Params   ParamTable
	// Progress, if set, is called from worker goroutines after each symbol.
	Progress func(done, total int)
}

type Scanner struct {
	source marketdata.Fetcher
	config Config
	now    func() time.Time
}

func New(source marketdata.Fetcher, config Config) *Scanner {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.Period == "" {
		config.Period = DefaultConfig().Period
	}
	if config.Fixed == (signal.FixedThresholds{}) {
		config.Fixed = signal.DefaultFixedThresholds()
	}
	return &Scanner{source: source, config: config, now: time.Now}
}

// Validate reports request errors that make a scan pointless to start.
func (s *Scanner) Validate(req Request) error {
	if _, ok := models.ParseStrategy(string(req.Strategy)); !ok {
		return fmt.Errorf("unknown strategy %q", req.Strategy)
	}
	if len(watchlist.Normalize(req.Symbols)) == 0 {
		return ErrNoSymbols
	}
	if req.Strategy == models.StrategyOptimized && (req.Params == nil || req.Params.Len() == 0) {
		return ErrNoParameters
	}
	return nil
}

type outcome struct {
	result *models.SignalResult
	frame  *indicator.Frame
	skip   string
}

// Run evaluates every symbol of req. Results keep the request's symbol
// order. A cancelled scan returns the context error and no partial scan.
func (s *Scanner) Run(ctx context.Context, req Request) (*Scan, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	symbols := watchlist.Normalize(req.Symbols)
	scan := &Scan{
		ID:        uuid.NewString(),
		Mode:      req.Mode,
		Strategy:  req.Strategy,
		Symbols:   symbols,
		StartedAt: s.now(),
	}

	evalConfig := signal.Config{
		ScanID:   scan.ID,
		Strategy: req.Strategy,
		Fixed:    s.config.Fixed,
		Now:      s.now,
	}
	if req.Params != nil {
		evalConfig.Params = req.Params
	}
	ev, err := signal.New(evalConfig)
	if err != nil {
		return nil, err
	}

	logger.Info("Scan %s started: %d symbols, mode=%s strategy=%s", scan.ID, len(symbols), req.Mode, ev.Strategy())

	outcomes := make([]outcome, len(symbols))
	jobs := make(chan int)
	progress := newCounter(len(symbols), req.Progress)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range symbols {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- i:
			}
		}
		return nil
	})
	workers := s.config.Concurrency
	if workers > len(symbols) {
		workers = len(symbols)
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case i, ok := <-jobs:
					if !ok {
						return nil
					}
					outcomes[i] = s.process(gctx, ev, symbols[i])
					progress.inc()
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("Scan %s aborted: %v", scan.ID, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scan.Results = make([]models.SignalResult, 0, len(symbols))
	scan.Skipped = []models.Skip{}
	scan.frames = make(map[string]*indicator.Frame)
	for i, o := range outcomes {
		if o.result == nil {
			scan.Skipped = append(scan.Skipped, models.Skip{Symbol: symbols[i], Reason: o.skip})
			metrics.SymbolsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			continue
		}
		scan.Results = append(scan.Results, *o.result)
		scan.frames[o.result.Symbol] = o.frame
		metrics.SymbolsTotal.WithLabelValues(metrics.OutcomeEvaluated).Inc()
		metrics.SignalsTotal.WithLabelValues(string(o.result.MFSignal)).Inc()
	}
	scan.FinishedAt = s.now()
	metrics.ScanDuration.Observe(scan.FinishedAt.Sub(scan.StartedAt).Seconds())

	logger.Info("Scan %s finished in %s: %d results, %d signals, %d skipped",
		scan.ID, scan.FinishedAt.Sub(scan.StartedAt).Round(time.Millisecond),
		len(scan.Results), len(scan.Signals()), len(scan.Skipped))
	return scan, nil
}

// process runs one symbol. Any failure, including a panic, becomes a skip
// so no symbol can affect another.
func (s *Scanner) process(ctx context.Context, ev *signal.Evaluator, symbol string) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic while scanning %s: %v", symbol, r)
			out = outcome{skip: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	bars, err := s.source.FetchBars(ctx, symbol, s.config.Period)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{skip: "cancelled"}
		}
		logger.Warn("Skipping %s: %v", symbol, err)
		return outcome{skip: fmt.Sprintf("fetch failed: %v", err)}
	}
	if len(bars) == 0 {
		logger.Warn("Skipping %s: %s", symbol, ReasonNoData)
		return outcome{skip: ReasonNoData}
	}

	frame, err := indicator.Build(symbol, bars, s.config.Indicators)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			logger.Warn("Skipping %s: %v", symbol, err)
			return outcome{skip: ReasonInsufficient}
		}
		logger.Warn("Skipping %s: indicator error: %v", symbol, err)
		return outcome{skip: fmt.Sprintf("indicator error: %v", err)}
	}

	res, err := ev.Evaluate(frame)
	if err != nil {
		if errors.Is(err, signal.ErrShortSeries) {
			return outcome{skip: ReasonInsufficient}
		}
		logger.Warn("Skipping %s: evaluation error: %v", symbol, err)
		return outcome{skip: fmt.Sprintf("evaluation error: %v", err)}
	}
	logger.Debug("%s: %s %s %s", symbol, res.AlphaStatus, res.Recommendation, res.MFSignal)
	return outcome{result: &res, frame: frame}
}
