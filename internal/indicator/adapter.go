// Package indicator turns a daily bar series into the derived indicator frame
// used by the signal evaluator: MFI, RSI, ADL, ADX, ATR, MA20, the trailing
// stop line and the Alpha Trend line.
package indicator

import (
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/rewired-gh/mftrend/internal/models"
)

// ErrInsufficientData is returned when a series is too short to leave the
// combined warm-up periods.
var ErrInsufficientData = errors.New("insufficient data")

const (
	defaultMFIPeriod     = 14
	defaultRSIPeriod     = 14
	defaultADXPeriod     = 14
	defaultATRPeriod     = 14
	defaultMAPeriod      = 20
	defaultStopWindow    = 20
	defaultStopATRMult   = 2.0
	defaultAlphaCoeff    = 1.0
	defaultAlphaPeriod   = 14
	defaultAlphaMFIPivot = 50.0
	defaultMinBars       = 30
)

// Settings controls indicator periods. Zero fields take defaults.
type Settings struct {
	MFIPeriod     int     `json:"mfi_period,omitempty"`
	RSIPeriod     int     `json:"rsi_period,omitempty"`
	ADXPeriod     int     `json:"adx_period,omitempty"`
	ATRPeriod     int     `json:"atr_period,omitempty"`
	MAPeriod      int     `json:"ma_period,omitempty"`
	StopWindow    int     `json:"stop_window,omitempty"`
	StopATRMult   float64 `json:"stop_atr_mult,omitempty"`
	AlphaCoeff    float64 `json:"alpha_coeff,omitempty"`
	AlphaPeriod   int     `json:"alpha_period,omitempty"`
	AlphaMFIPivot float64 `json:"alpha_mfi_pivot,omitempty"`
	MinBars       int     `json:"min_bars,omitempty"`
}

func NormalizeSettings(in Settings) Settings {
	out := in
	if out.MFIPeriod <= 0 {
		out.MFIPeriod = defaultMFIPeriod
	}
	if out.RSIPeriod <= 0 {
		out.RSIPeriod = defaultRSIPeriod
	}
	if out.ADXPeriod <= 0 {
		out.ADXPeriod = defaultADXPeriod
	}
	if out.ATRPeriod <= 0 {
		out.ATRPeriod = defaultATRPeriod
	}
	if out.MAPeriod <= 0 {
		out.MAPeriod = defaultMAPeriod
	}
	if out.StopWindow <= 0 {
		out.StopWindow = defaultStopWindow
	}
	if out.StopATRMult <= 0 {
		out.StopATRMult = defaultStopATRMult
	}
	if out.AlphaCoeff <= 0 {
		out.AlphaCoeff = defaultAlphaCoeff
	}
	if out.AlphaPeriod <= 0 {
		out.AlphaPeriod = defaultAlphaPeriod
	}
	if out.AlphaMFIPivot <= 0 {
		out.AlphaMFIPivot = defaultAlphaMFIPivot
	}
	if out.MinBars <= 0 {
		out.MinBars = defaultMinBars
	}
	// ADX needs 2*period bars before its first value.
	if need := 2 * out.ADXPeriod; out.MinBars < need {
		out.MinBars = need
	}
	return out
}

// Indicators holds the library-computed columns.
type Indicators struct {
	MFI Series
	RSI Series
	ADL Series
	ADX Series
	ATR Series
}

// Compute produces MFI, RSI, ADL, ADX and ATR aligned with bars.
func Compute(bars []models.Bar, cfg Settings) (Indicators, error) {
	cfg = NormalizeSettings(cfg)
	if len(bars) < cfg.MinBars {
		return Indicators{}, fmt.Errorf("%w: %d bars, need %d", ErrInsufficientData, len(bars), cfg.MinBars)
	}
	highs, lows, closes, volumes := splitBars(bars)

	return Indicators{
		MFI: clamp(fromTalib(talib.Mfi(highs, lows, closes, volumes, cfg.MFIPeriod), cfg.MFIPeriod), 0, 100),
		RSI: clamp(fromTalib(talib.Rsi(closes, cfg.RSIPeriod), cfg.RSIPeriod), 0, 100),
		ADL: fromTalib(talib.Ad(highs, lows, closes, volumes), 0),
		ADX: clamp(fromTalib(talib.Adx(highs, lows, closes, cfg.ADXPeriod), 2*cfg.ADXPeriod-1), 0, 100),
		ATR: fromTalib(talib.Atr(highs, lows, closes, cfg.ATRPeriod), cfg.ATRPeriod),
	}, nil
}

func splitBars(bars []models.Bar) (highs, lows, closes, volumes []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	volumes = make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	return highs, lows, closes, volumes
}
