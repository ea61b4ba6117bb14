package chart

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/models"
)

func testFrame(t *testing.T) *indicator.Frame {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, 80)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/6) + float64(i)*0.3
		bars[i] = models.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c - 0.5,
			High:   c + 1.5,
			Low:    c - 1.5,
			Close:  c,
			Volume: 1000 + float64(i%7)*150,
		}
	}
	f, err := indicator.Build("FPT", bars, indicator.Settings{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return f
}

func TestRender(t *testing.T) {
	f := testFrame(t)
	var buf bytes.Buffer
	if err := Render(&buf, f, []int{40, 60, 500}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{"FPT MF-Trend", "FPT price", "MFI / RSI", "ADX", "ADL", "Alpha Trend", "Convergence", "2024-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(out, "NaN") {
		t.Error("undefined values should render as null, found NaN")
	}
}

func TestRenderEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, nil, nil); err == nil {
		t.Error("expected error for nil frame")
	}
	if err := Render(&buf, &indicator.Frame{}, nil); err == nil {
		t.Error("expected error for empty frame")
	}
}

func TestLineData(t *testing.T) {
	s := indicator.Series{math.NaN(), 1.5, math.Inf(1), 2}
	got := lineData(s)
	if got[0].Value != nil || got[2].Value != nil {
		t.Errorf("undefined values should be nil, got %v and %v", got[0].Value, got[2].Value)
	}
	if got[1].Value != 1.5 || got[3].Value != 2.0 {
		t.Errorf("defined values not kept: %+v", got)
	}
}
