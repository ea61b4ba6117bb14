package models

import (
	"testing"
	"time"
)

func TestBarValidate(t *testing.T) {
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{
			name:    "valid bar",
			bar:     Bar{Date: day, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000},
			wantErr: false,
		},
		{
			name:    "missing date",
			bar:     Bar{Open: 10, High: 11, Low: 9, Close: 10.5},
			wantErr: true,
		},
		{
			name:    "negative close",
			bar:     Bar{Date: day, Open: 10, High: 11, Low: 9, Close: -1},
			wantErr: true,
		},
		{
			name:    "negative volume",
			bar:     Bar{Date: day, Open: 10, High: 11, Low: 9, Close: 10, Volume: -5},
			wantErr: true,
		},
		{
			name:    "high below low",
			bar:     Bar{Date: day, Open: 10, High: 8, Low: 9, Close: 10},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Bar.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBars_Order(t *testing.T) {
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	bar := func(d time.Time) Bar { return Bar{Date: d, Open: 1, High: 1, Low: 1, Close: 1} }

	if err := ValidateBars([]Bar{bar(day), bar(day.AddDate(0, 0, 1)), bar(day.AddDate(0, 0, 4))}); err != nil {
		t.Errorf("expected increasing bars to validate, got %v", err)
	}
	if err := ValidateBars([]Bar{bar(day), bar(day)}); err == nil {
		t.Error("expected error for duplicate date")
	}
	if err := ValidateBars([]Bar{bar(day.AddDate(0, 0, 1)), bar(day)}); err == nil {
		t.Error("expected error for decreasing date")
	}
}

func TestOptimizationParams(t *testing.T) {
	p := DefaultOptimizationParams()
	if p.ADXMin != 20 || p.RSIBuy != 48 || p.MFIBuy != 48 || p.Tolerance != 0.02 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	p.Tolerance = 0.04
	if got := p.Relaxed(20); got < 19.1999 || got > 19.2001 {
		t.Errorf("Relaxed(20) = %f, want 19.2", got)
	}
	p.Tolerance = 1.5
	if err := p.Validate(); err == nil {
		t.Error("expected error for tolerance >= 1")
	}
}

func TestParseStrategy(t *testing.T) {
	if s, ok := ParseStrategy(" Optimized "); !ok || s != StrategyOptimized {
		t.Errorf("ParseStrategy(optimized) = %q, %v", s, ok)
	}
	if _, ok := ParseStrategy("magic"); ok {
		t.Error("expected unknown strategy to fail")
	}
}

func TestSignalResult_HasSignal(t *testing.T) {
	tests := []struct {
		name string
		r    SignalResult
		want bool
	}{
		{"enter only", SignalResult{Recommendation: RecommendEnter, MFSignal: SignalWatch}, true},
		{"main buy only", SignalResult{Recommendation: RecommendBrokenTrend, MFSignal: SignalMainBuy}, true},
		{"gold", SignalResult{Recommendation: RecommendBrokenTrend, MFSignal: SignalGold}, true},
		{"nothing", SignalResult{Recommendation: RecommendBrokenTrend, MFSignal: SignalAccumulating}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.HasSignal(); got != tt.want {
				t.Errorf("HasSignal() = %v, want %v", got, tt.want)
			}
		})
	}
}
