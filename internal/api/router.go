// Package api serves the dashboard HTTP API.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/mftrend/internal/chart"
	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/logger"
	"github.com/rewired-gh/mftrend/internal/metrics"
	"github.com/rewired-gh/mftrend/internal/models"
	"github.com/rewired-gh/mftrend/internal/params"
	"github.com/rewired-gh/mftrend/internal/report"
	"github.com/rewired-gh/mftrend/internal/scanner"
	"github.com/rewired-gh/mftrend/internal/signal"
	"github.com/rewired-gh/mftrend/internal/storage"
	"github.com/rewired-gh/mftrend/internal/watchlist"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ScanService interface {
	Latest() *scanner.Scan
	Frame(symbol string) (*indicator.Frame, bool)
	Status() scanner.Status
}

type Watchlists interface {
	Load(mode models.WatchlistMode) ([]string, error)
	Save(mode models.WatchlistMode, symbols []string) error
	Add(mode models.WatchlistMode, symbol string) ([]string, error)
	Remove(mode models.WatchlistMode, symbol string) ([]string, error)
}

type History interface {
	RecentScans(ctx context.Context, limit int) ([]models.ScanSummary, error)
	GetScan(ctx context.Context, scanID string) (models.ScanSummary, error)
	ScanResults(ctx context.Context, scanID string) ([]models.SignalResult, error)
	ScanSkips(ctx context.Context, scanID string) ([]models.Skip, error)
}

// Deps are the collaborators the router serves from. History and Params
// are optional.
type Deps struct {
	Scans      ScanService
	Watchlists Watchlists
	History    History
	// Params loads the current optimized-strategy parameter table.
	Params func() (*params.Table, error)
	// StartScan validates and starts a background scan.
	StartScan       func(mode models.WatchlistMode, strategy models.Strategy) error
	DefaultStrategy models.Strategy
	// Thresholds place the convergence markers; zero means the defaults.
	Thresholds signal.FixedThresholds
}

type handler struct {
	deps Deps
}

func newHandler(deps Deps) *handler {
	if deps.DefaultStrategy == "" {
		deps.DefaultStrategy = models.StrategyFixed
	}
	if deps.Thresholds == (signal.FixedThresholds{}) {
		deps.Thresholds = signal.DefaultFixedThresholds()
	}
	return &handler{deps: deps}
}

// NewRouter builds the gin engine with every dashboard route registered.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	h := newHandler(deps)
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.POST("/scans", h.startScan)
	api.GET("/scans", h.listScans)
	api.GET("/scans/status", h.scanStatus)
	api.GET("/scans/latest", h.latestScan)
	api.GET("/scans/latest/report", h.latestReport)
	api.GET("/scans/:id", h.getScan)
	api.GET("/params", h.listParams)
	api.GET("/frames/:symbol", h.frame)
	api.GET("/charts/:symbol", h.chart)
	api.GET("/watchlists/:mode", h.getWatchlist)
	api.PUT("/watchlists/:mode", h.putWatchlist)
	api.POST("/watchlists/:mode/symbols", h.addSymbol)
	api.DELETE("/watchlists/:mode/symbols/:symbol", h.removeSymbol)
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) startScan(c *gin.Context) {
	var req struct {
		Mode     string `json:"mode"`
		Strategy string `json:"strategy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := models.ModePersonal
	if req.Mode != "" {
		m, ok := models.ParseWatchlistMode(req.Mode)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode " + strconv.Quote(req.Mode)})
			return
		}
		mode = m
	}
	strategy := h.deps.DefaultStrategy
	if req.Strategy != "" {
		s, ok := models.ParseStrategy(req.Strategy)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown strategy " + strconv.Quote(req.Strategy)})
			return
		}
		strategy = s
	}

	if h.deps.StartScan == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scanning is not available"})
		return
	}
	if err := h.deps.StartScan(mode, strategy); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scanner.ErrNoSymbols) || errors.Is(err, scanner.ErrNoParameters) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"mode": mode, "strategy": strategy})
}

func (h *handler) listScans(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"scans": []models.ScanSummary{}})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	scans, err := h.deps.History.RecentScans(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to list scans: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans})
}

func (h *handler) getScan(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan history is not available"})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	summary, err := h.deps.History.GetScan(ctx, id)
	if errors.Is(err, storage.ErrScanNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan " + strconv.Quote(id) + " not found"})
		return
	}
	if err != nil {
		logger.Error("Failed to load scan %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan"})
		return
	}
	results, err := h.deps.History.ScanResults(ctx, id)
	if err != nil {
		logger.Error("Failed to load results of scan %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan"})
		return
	}
	skips, err := h.deps.History.ScanSkips(ctx, id)
	if err != nil {
		logger.Error("Failed to load skips of scan %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan"})
		return
	}
	if c.Query("filter") == "signals" {
		kept := results[:0]
		for _, r := range results {
			if r.HasSignal() {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	c.JSON(http.StatusOK, gin.H{"scan": summary, "results": results, "skipped": skips})
}

func (h *handler) listParams(c *gin.Context) {
	if h.deps.Params == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "parameter table is not configured"})
		return
	}
	table, err := h.deps.Params()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	type row struct {
		Symbol string `json:"symbol"`
		models.OptimizationParams
	}
	rows := make([]row, 0, table.Len())
	for _, sym := range table.Symbols() {
		rows = append(rows, row{Symbol: sym, OptimizationParams: table.Get(sym)})
	}
	c.JSON(http.StatusOK, gin.H{"params": rows, "defaults": models.DefaultOptimizationParams()})
}

func (h *handler) scanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Scans.Status())
}

func (h *handler) latestScan(c *gin.Context) {
	scan := h.deps.Scans.Latest()
	if scan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed scan"})
		return
	}
	results := scan.Results
	if c.Query("filter") == "signals" {
		results = scan.Signals()
	}
	if results == nil {
		results = []models.SignalResult{}
	}
	c.JSON(http.StatusOK, gin.H{
		"scan":    scan.Summary(),
		"results": results,
		"skipped": scan.Skipped,
	})
}

func (h *handler) latestReport(c *gin.Context) {
	scan := h.deps.Scans.Latest()
	if scan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed scan"})
		return
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, scan.Results); err != nil {
		logger.Error("Failed to build report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.FileName(scan.FinishedAt)+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *handler) lookupFrame(c *gin.Context) (*indicator.Frame, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	f, ok := h.deps.Scans.Frame(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame for " + symbol + " in the latest scan"})
		return nil, false
	}
	return f, true
}

func (h *handler) frame(c *gin.Context) {
	f, ok := h.lookupFrame(c)
	if !ok {
		return
	}
	dates := make([]string, f.Len())
	closes := make([]float64, f.Len())
	for i, b := range f.Bars {
		dates[i] = b.Date.Format("2006-01-02")
		closes[i] = b.Close
	}
	columns := make(map[string][]*float64)
	latest := make(map[string]*float64)
	warmup := 0
	for name, s := range f.Columns() {
		columns[name] = s.Nullable()
		if v, ok := s.Last(); ok {
			latest[name] = &v
		} else {
			latest[name] = nil
		}
		// Rows before warmup miss at least one indicator.
		first := s.FirstDefined()
		if first < 0 {
			first = f.Len()
		}
		if first > warmup {
			warmup = first
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  f.Symbol,
		"dates":   dates,
		"close":   closes,
		"columns": columns,
		"latest":  latest,
		"warmup":  warmup,
		"signals": signal.History(f, h.deps.Thresholds),
	})
}

func (h *handler) chart(c *gin.Context) {
	f, ok := h.lookupFrame(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := chart.Render(&buf, f, signal.History(f, h.deps.Thresholds)); err != nil {
		logger.Error("Failed to render chart for %s: %v", f.Symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render chart"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func parseMode(c *gin.Context) (models.WatchlistMode, bool) {
	mode, ok := models.ParseWatchlistMode(c.Param("mode"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown watchlist " + strconv.Quote(c.Param("mode"))})
	}
	return mode, ok
}

func (h *handler) getWatchlist(c *gin.Context) {
	mode, ok := parseMode(c)
	if !ok {
		return
	}
	symbols, err := h.deps.Watchlists.Load(mode)
	if err != nil {
		logger.Error("Failed to load %s watchlist: %v", mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "symbols": symbols})
}

func (h *handler) putWatchlist(c *gin.Context) {
	mode, ok := parseMode(c)
	if !ok {
		return
	}
	var req struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbols := watchlist.Normalize(req.Symbols)
	for _, s := range symbols {
		if err := watchlist.ValidateSymbol(s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := h.deps.Watchlists.Save(mode, symbols); err != nil {
		logger.Error("Failed to save %s watchlist: %v", mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "symbols": symbols})
}

func (h *handler) addSymbol(c *gin.Context) {
	mode, ok := parseMode(c)
	if !ok {
		return
	}
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbols, err := h.deps.Watchlists.Add(mode, req.Symbol)
	if errors.Is(err, watchlist.ErrInvalidSymbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Error("Failed to add %s to %s watchlist: %v", req.Symbol, mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "symbols": symbols})
}

func (h *handler) removeSymbol(c *gin.Context) {
	mode, ok := parseMode(c)
	if !ok {
		return
	}
	symbols, err := h.deps.Watchlists.Remove(mode, c.Param("symbol"))
	if err != nil {
		logger.Error("Failed to remove %s from %s watchlist: %v", c.Param("symbol"), mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "symbols": symbols})
}
