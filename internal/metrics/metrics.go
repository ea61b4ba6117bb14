package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SymbolsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mftrend_symbols_total", Help: "Symbols processed by scans, by outcome"},
		[]string{"outcome"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mftrend_signals_total", Help: "Signal results produced, by money-flow signal"},
		[]string{"signal"},
	)
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mftrend_cache_requests_total", Help: "Bar cache lookups, by result"},
		[]string{"result"},
	)
	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mftrend_scan_duration_seconds",
		Help:    "Wall time of completed scans",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)

// Outcome labels for SymbolsTotal.
const (
	OutcomeEvaluated = "evaluated"
	OutcomeSkipped   = "skipped"
)

// Result labels for CacheRequestsTotal.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

func init() {
	prometheus.MustRegister(SymbolsTotal, SignalsTotal, CacheRequestsTotal, ScanDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
