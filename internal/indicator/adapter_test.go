package indicator

import (
	"math"
	"testing"
)

func TestCompute_OscillatorsBounded(t *testing.T) {
	ind, err := Compute(syntheticBars(250), Settings{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for name, col := range map[string]Series{"mfi": ind.MFI, "rsi": ind.RSI, "adx": ind.ADX} {
		defined := 0
		for i := range col {
			v, ok := col.At(i)
			if !ok {
				continue
			}
			defined++
			if v < 0 || v > 100 {
				t.Errorf("%s[%d] = %v out of [0,100]", name, i, v)
			}
		}
		if defined == 0 {
			t.Errorf("%s has no defined values", name)
		}
	}
}

func TestClamp(t *testing.T) {
	s := Series{nan(), -9.3e-15, 50, 100.00000000000003}
	got := clamp(s, 0, 100)
	seriesEqual(t, "clamp", got, Series{nan(), 0, 50, 100})
	if !math.IsNaN(got[0]) {
		t.Error("undefined values must stay NaN")
	}
}
