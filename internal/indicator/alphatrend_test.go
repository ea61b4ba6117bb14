package indicator

import (
	"math"
	"testing"
)

func nan() float64 { return math.NaN() }

func seriesEqual(t *testing.T, name string, got, want Series) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len = %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		gv, gok := got.At(i)
		wv, wok := want.At(i)
		if gok != wok {
			t.Errorf("%s[%d]: defined = %v, want %v (got %v)", name, i, gok, wok, got[i])
			continue
		}
		if gok && math.Abs(gv-wv) > 1e-9 {
			t.Errorf("%s[%d] = %v, want %v", name, i, gv, wv)
		}
	}
}

func TestAlphaTrendLine(t *testing.T) {
	tests := []struct {
		name  string
		highs []float64
		lows  []float64
		atr   Series
		mfi   Series
		want  Series
	}{
		{
			name:  "strong flow ratchets up then holds when flow weakens",
			highs: []float64{10, 11, 12, 13, 12},
			lows:  []float64{9, 10, 11, 12, 11},
			atr:   Series{nan(), 1, 1, 1, 1},
			mfi:   Series{nan(), 60, 60, 40, 40},
			want:  Series{nan(), 9, 10, 10, 10},
		},
		{
			name:  "weak flow seeds from above",
			highs: []float64{10, 11, 12, 16, 18},
			lows:  []float64{9, 10, 11, 15, 17},
			atr:   Series{nan(), 1, 1, 1, 1},
			mfi:   Series{nan(), 40, 40, 60, 60},
			want:  Series{nan(), 12, 12, 14, 16},
		},
		{
			name:  "undefined inputs keep the line undefined",
			highs: []float64{10, 11, 12, 13},
			lows:  []float64{9, 10, 11, 12},
			atr:   Series{nan(), nan(), 1, 1},
			mfi:   Series{nan(), 60, nan(), 60},
			want:  Series{nan(), nan(), nan(), 11},
		},
		{
			name:  "computed zero is a value, not a sentinel",
			highs: []float64{1, 1, 1},
			lows:  []float64{1, 1, 1},
			atr:   Series{nan(), 1, 1},
			mfi:   Series{nan(), 60, 40},
			want:  Series{nan(), 0, 0},
		},
		{
			name:  "pivot itself counts as weak flow",
			highs: []float64{10, 10},
			lows:  []float64{8, 8},
			atr:   Series{nan(), 2},
			mfi:   Series{nan(), 50},
			want:  Series{nan(), 12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alphaTrendLine(tt.highs, tt.lows, tt.atr, tt.mfi, 1.0, 50)
			seriesEqual(t, "alpha", got, tt.want)
		})
	}
}

func TestAlphaTrendLine_Coefficient(t *testing.T) {
	got := alphaTrendLine(
		[]float64{10, 10},
		[]float64{8, 8},
		Series{nan(), 2},
		Series{nan(), 70},
		1.5, 50,
	)
	seriesEqual(t, "alpha", got, Series{nan(), 5})
}

func TestAlphaTrend_NoLookAhead(t *testing.T) {
	bars := syntheticBars(120)
	highs, lows, closes, _ := splitBars(bars)
	mfi := Series(make([]float64, len(bars)))
	for i := range mfi {
		// alternate regimes so both branches run
		if (i/10)%2 == 0 {
			mfi[i] = 62
		} else {
			mfi[i] = 41
		}
	}

	full := AlphaTrend(highs, lows, closes, mfi, 1.0, 14, 50)
	for _, k := range []int{30, 60, 90} {
		prefix := AlphaTrend(highs[:k], lows[:k], closes[:k], mfi[:k], 1.0, 14, 50)
		seriesEqual(t, "alpha prefix", prefix, full[:k])
	}
}

func TestAlphaTrend_WarmUp(t *testing.T) {
	bars := syntheticBars(40)
	highs, lows, closes, _ := splitBars(bars)
	mfi := Series(make([]float64, len(bars)))
	for i := range mfi {
		mfi[i] = 55
	}
	got := AlphaTrend(highs, lows, closes, mfi, 1.0, 14, 50)
	if len(got) != len(bars) {
		t.Fatalf("len = %d, want %d", len(got), len(bars))
	}
	for i := 0; i < 14; i++ {
		if got.Defined(i) {
			t.Errorf("alpha[%d] should be undefined during ATR warm-up, got %v", i, got[i])
		}
	}
	if !got.Defined(14) {
		t.Error("alpha[14] should be defined once the first full ATR window exists")
	}
	for i := 15; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Errorf("alpha[%d]=%v fell below alpha[%d]=%v under strong flow", i, got[i], i-1, got[i-1])
		}
	}
}
