package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/rewired-gh/mftrend/internal/models"
)

// Frame is the derived frame for one symbol: the bars plus every indicator
// column, all index-aligned. A Frame is not modified after Build returns it.
type Frame struct {
	Symbol     string
	Bars       []models.Bar
	MFI        Series
	RSI        Series
	ADL        Series
	ADX        Series
	ATR        Series
	SLLine     Series
	MA20       Series
	AlphaTrend Series
}

// Build computes the derived frame for bars.
func Build(symbol string, bars []models.Bar, cfg Settings) (*Frame, error) {
	cfg = NormalizeSettings(cfg)
	if len(bars) < cfg.MinBars {
		return nil, fmt.Errorf("%w: %d bars, need %d", ErrInsufficientData, len(bars), cfg.MinBars)
	}
	if err := models.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("invalid bars: %w", err)
	}

	ind, err := Compute(bars, cfg)
	if err != nil {
		return nil, err
	}
	highs, lows, closes, _ := splitBars(bars)

	f := &Frame{
		Symbol:     symbol,
		Bars:       bars,
		MFI:        ind.MFI,
		RSI:        ind.RSI,
		ADL:        ind.ADL,
		ADX:        ind.ADX,
		ATR:        ind.ATR,
		SLLine:     StopLine(closes, ind.ATR, cfg.StopWindow, cfg.StopATRMult),
		MA20:       fromTalib(talib.Sma(closes, cfg.MAPeriod), cfg.MAPeriod-1),
		AlphaTrend: AlphaTrend(highs, lows, closes, ind.MFI, cfg.AlphaCoeff, cfg.AlphaPeriod, cfg.AlphaMFIPivot),
	}
	if err := f.checkAligned(); err != nil {
		return nil, err
	}
	return f, nil
}

// StopLine returns the rolling maximum over window bars of
// close[i-1] - mult*atr[i-1]. Only previous-bar values feed position i.
func StopLine(closes []float64, atr Series, window int, mult float64) Series {
	n := len(closes)
	base := undefinedSeries(n)
	for i := 1; i < n; i++ {
		if a, ok := atr.At(i - 1); ok {
			base[i] = closes[i-1] - mult*a
		}
	}
	out := undefinedSeries(n)
	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		best := math.Inf(-1)
		for j := start; j <= i; j++ {
			if v, ok := base.At(j); ok && v > best {
				best = v
			}
		}
		if !math.IsInf(best, -1) {
			out[i] = best
		}
	}
	return out
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Bars) }

// Close returns the close at row i.
func (f *Frame) Close(i int) float64 { return f.Bars[i].Close }

// Columns returns the indicator columns by name.
func (f *Frame) Columns() map[string]Series {
	return map[string]Series{
		"mfi":         f.MFI,
		"rsi":         f.RSI,
		"adl":         f.ADL,
		"adx":         f.ADX,
		"atr":         f.ATR,
		"sl_line":     f.SLLine,
		"ma20":        f.MA20,
		"alpha_trend": f.AlphaTrend,
	}
}

func (f *Frame) checkAligned() error {
	for name, col := range f.Columns() {
		if len(col) != len(f.Bars) {
			return fmt.Errorf("column %s has %d rows, want %d", name, len(col), len(f.Bars))
		}
	}
	return nil
}
