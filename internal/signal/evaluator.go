// Package signal classifies the newest bars of a derived frame into a
// per-symbol signal result.
package signal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/models"
)

// Offsets of the reference bars behind the latest one.
const (
	shortLookback = 5
	longLookback  = 20
)

// ErrShortSeries is returned when the frame has no bar at the long lookback.
var ErrShortSeries = errors.New("series too short for evaluation")

// FixedThresholds are the rule constants of the fixed strategy. Bands are
// inclusive, the ADX floor is strict.
type FixedThresholds struct {
	ADXMin  float64 `json:"adx_min"`
	MFILow  float64 `json:"mfi_low"`
	MFIHigh float64 `json:"mfi_high"`
	RSILow  float64 `json:"rsi_low"`
	RSIHigh float64 `json:"rsi_high"`
}

func DefaultFixedThresholds() FixedThresholds {
	return FixedThresholds{
		ADXMin:  20,
		MFILow:  48,
		MFIHigh: 68,
		RSILow:  48,
		RSIHigh: 58,
	}
}

func (t FixedThresholds) Validate() error {
	if t.ADXMin < 0 || t.ADXMin > 100 {
		return fmt.Errorf("adx_min must be between 0 and 100")
	}
	if t.MFILow > t.MFIHigh {
		return fmt.Errorf("mfi band is empty: %.2f > %.2f", t.MFILow, t.MFIHigh)
	}
	if t.RSILow > t.RSIHigh {
		return fmt.Errorf("rsi band is empty: %.2f > %.2f", t.RSILow, t.RSIHigh)
	}
	return nil
}

// ParamLookup resolves optimized thresholds for a symbol.
type ParamLookup interface {
	Lookup(symbol string) (models.OptimizationParams, bool)
}

type Config struct {
	ScanID   string
	Strategy models.Strategy
	Fixed    FixedThresholds
	// Params may be nil; every symbol then uses the default tuple.
	Params ParamLookup
	Now    func() time.Time
}

// Evaluator applies one strategy to derived frames. It holds no mutable
// state and may be shared by the workers of a scan.
type Evaluator struct {
	config Config
}

func New(config Config) (*Evaluator, error) {
	if _, ok := models.ParseStrategy(string(config.Strategy)); !ok {
		return nil, fmt.Errorf("unknown strategy %q", config.Strategy)
	}
	if config.Fixed == (FixedThresholds{}) {
		config.Fixed = DefaultFixedThresholds()
	}
	if err := config.Fixed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixed thresholds: %w", err)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Evaluator{config: config}, nil
}

func (e *Evaluator) Strategy() models.Strategy {
	return e.config.Strategy
}

// Evaluate classifies the latest bar of f.
func (e *Evaluator) Evaluate(f *indicator.Frame) (models.SignalResult, error) {
	n := f.Len()
	if n <= longLookback {
		return models.SignalResult{}, fmt.Errorf("%w: %d bars, need %d", ErrShortSeries, n, longLookback+1)
	}
	w := newWindow(f, n-1)

	res := models.SignalResult{
		ScanID:         e.config.ScanID,
		Symbol:         f.Symbol,
		Strategy:       e.config.Strategy,
		Price:          w.close(),
		Stoploss:       finite(f.SLLine[w.t0]),
		Recommendation: models.RecommendBrokenTrend,
		ADX:            finite(f.ADX[w.t0]),
		MFI:            finite(f.MFI[w.t0]),
		RSI:            finite(f.RSI[w.t0]),
		AlphaTrend:     finite(f.AlphaTrend[w.t0]),
		FlowState:      models.FlowWeak,
		GapPct:         w.gapPct(),
		BarDate:        f.Bars[w.t0].Date,
		EvaluatedAt:    e.config.Now(),
	}
	if w.accumulating() {
		res.FlowState = models.FlowPositive
	}
	if w.trendIntact() {
		res.Recommendation = models.RecommendEnter
	}

	switch e.config.Strategy {
	case models.StrategyOptimized:
		p := e.paramsFor(f.Symbol)
		res.Params = &p
		res.AlphaStatus = status(w.closeAbove(f.AlphaTrend))
		res.MFSignal = models.SignalAccumulating
		if w.optimizedConvergence(p) {
			res.MFSignal = models.SignalGold
		}
	default:
		res.AlphaStatus = status(w.closeAbove(f.MA20))
		res.MFSignal = models.SignalWatch
		if w.fixedConvergence(e.config.Fixed) {
			res.MFSignal = models.SignalMainBuy
		}
	}
	return res, nil
}

func (e *Evaluator) paramsFor(symbol string) models.OptimizationParams {
	if e.config.Params != nil {
		if p, ok := e.config.Params.Lookup(symbol); ok {
			return p
		}
	}
	return models.DefaultOptimizationParams()
}

// History returns every bar index at which the fixed-strategy convergence
// held together with close above both MA20 and the stop line.
func History(f *indicator.Frame, thresholds FixedThresholds) []int {
	var out []int
	for i := longLookback; i < f.Len(); i++ {
		w := newWindow(f, i)
		if w.fixedConvergence(thresholds) && w.trendIntact() {
			out = append(out, i)
		}
	}
	return out
}

func status(buy bool) models.AlphaStatus {
	if buy {
		return models.AlphaBuy
	}
	return models.AlphaSell
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
