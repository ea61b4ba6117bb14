package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// AlphaTrend computes the Alpha Trend line: a ratchet that trails price from
// below (low - coeff*ATR) while money flow is above pivot and from above
// (high + coeff*ATR) otherwise. ATR here is the simple mean of true range over
// period bars.
func AlphaTrend(highs, lows, closes []float64, mfi Series, coeff float64, period int, pivot float64) Series {
	if len(closes) == 0 {
		return Series{}
	}
	tr := talib.TRange(highs, lows, closes)
	// tr[0] has no previous close, so the first full window ends at period.
	atr := fromTalib(talib.Sma(tr, period), period)
	return alphaTrendLine(highs, lows, atr, mfi, coeff, pivot)
}

// alphaTrendLine runs the recurrence. The line is seeded by the first bar
// whose inputs are defined; bars with undefined inputs are NaN and do not
// touch the ratchet.
func alphaTrendLine(highs, lows []float64, atr, mfi Series, coeff, pivot float64) Series {
	out := undefinedSeries(len(highs))
	var prev float64
	seeded := false
	for i := 1; i < len(highs); i++ {
		a, okATR := atr.At(i)
		m, okMFI := mfi.At(i)
		if !okATR || !okMFI {
			continue
		}
		var v float64
		if m > pivot {
			v = lows[i] - coeff*a
			if seeded {
				v = math.Max(v, prev)
			}
		} else {
			v = highs[i] + coeff*a
			if seeded {
				v = math.Min(v, prev)
			}
		}
		out[i] = v
		prev = v
		seeded = true
	}
	return out
}
