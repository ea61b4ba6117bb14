package signal

import (
	"math"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/models"
)

// window anchors the rule checks at bar t0. Any comparison that touches an
// undefined value is false.
type window struct {
	f   *indicator.Frame
	t0  int
	t5  int
	t20 int
}

func newWindow(f *indicator.Frame, t0 int) window {
	return window{f: f, t0: t0, t5: t0 - shortLookback, t20: t0 - longLookback}
}

func (w window) close() float64 {
	return w.f.Close(w.t0)
}

// rising reports s[t0] > s[ref].
func (w window) rising(s indicator.Series, ref int) bool {
	now, ok := s.At(w.t0)
	if !ok {
		return false
	}
	then, ok := s.At(ref)
	return ok && now > then
}

func (w window) above(s indicator.Series, min float64) bool {
	v, ok := s.At(w.t0)
	return ok && v > min
}

func (w window) atLeast(s indicator.Series, min float64) bool {
	v, ok := s.At(w.t0)
	return ok && v >= min
}

func (w window) within(s indicator.Series, lo, hi float64) bool {
	v, ok := s.At(w.t0)
	return ok && v >= lo && v <= hi
}

func (w window) closeAbove(s indicator.Series) bool {
	v, ok := s.At(w.t0)
	return ok && w.close() > v
}

func (w window) accumulating() bool {
	return w.rising(w.f.ADL, w.t20)
}

func (w window) trendIntact() bool {
	return w.closeAbove(w.f.SLLine) && w.closeAbove(w.f.MA20)
}

func (w window) gapPct() float64 {
	ma, ok := w.f.MA20.At(w.t0)
	if !ok || ma == 0 {
		return 0
	}
	return math.Round((w.close()/ma-1)*100*10) / 10
}

func (w window) fixedConvergence(t FixedThresholds) bool {
	f := w.f
	trend := w.above(f.ADX, t.ADXMin) && w.rising(f.ADX, w.t5)
	mfi := w.within(f.MFI, t.MFILow, t.MFIHigh) && w.rising(f.MFI, w.t20)
	rsi := w.within(f.RSI, t.RSILow, t.RSIHigh) && w.rising(f.RSI, w.t20)
	return trend && mfi && rsi && w.accumulating()
}

func (w window) optimizedConvergence(p models.OptimizationParams) bool {
	f := w.f
	trend := w.atLeast(f.ADX, p.Relaxed(p.ADXMin)) && w.rising(f.ADX, w.t5)
	mfi := w.atLeast(f.MFI, p.Relaxed(p.MFIBuy)) && w.rising(f.MFI, w.t20)
	rsi := w.atLeast(f.RSI, p.Relaxed(p.RSIBuy)) && w.rising(f.RSI, w.t20)
	return trend && mfi && rsi && w.closeAbove(f.AlphaTrend)
}
