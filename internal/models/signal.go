package models

import (
	"strings"
	"time"
)

type AlphaStatus string

const (
	AlphaBuy  AlphaStatus = "BUY"
	AlphaSell AlphaStatus = "SELL"
)

type Recommendation string

const (
	RecommendEnter       Recommendation = "enter"
	RecommendBrokenTrend Recommendation = "broken-trend"
)

type FlowState string

const (
	FlowPositive FlowState = "positive"
	FlowWeak     FlowState = "weak"
)

// MFSignal is the money-flow classification of a symbol. The fixed strategy
// yields main-buy or watch, the optimized strategy gold or accumulating.
type MFSignal string

const (
	SignalMainBuy      MFSignal = "main-buy"
	SignalWatch        MFSignal = "watch"
	SignalGold         MFSignal = "gold"
	SignalAccumulating MFSignal = "accumulating"
)

// IsBuy reports whether the signal is one of the buy classifications.
func (s MFSignal) IsBuy() bool {
	return s == SignalMainBuy || s == SignalGold
}

// Strategy selects which rule set the evaluator applies.
type Strategy string

const (
	StrategyFixed     Strategy = "fixed"
	StrategyOptimized Strategy = "optimized"
)

// ParseStrategy maps a config/CLI string to a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyFixed:
		return StrategyFixed, true
	case StrategyOptimized:
		return StrategyOptimized, true
	default:
		return "", false
	}
}

// SignalResult is the per-symbol outcome of one scan. It is never modified
// after the evaluator returns it.
type SignalResult struct {
	ScanID         string              `json:"scan_id,omitempty"`
	Symbol         string              `json:"symbol"`
	Strategy       Strategy            `json:"strategy"`
	Price          float64             `json:"price"`
	AlphaStatus    AlphaStatus         `json:"alpha_status"`
	GapPct         float64             `json:"gap_pct"`
	Stoploss       float64             `json:"stoploss"`
	Recommendation Recommendation      `json:"recommendation"`
	ADX            float64             `json:"adx"`
	MFI            float64             `json:"mfi"`
	RSI            float64             `json:"rsi"`
	AlphaTrend     float64             `json:"alpha_trend"`
	FlowState      FlowState           `json:"flow_state"`
	MFSignal       MFSignal            `json:"mf_signal"`
	Params         *OptimizationParams `json:"params,omitempty"`
	BarDate        time.Time           `json:"bar_date"`
	EvaluatedAt    time.Time           `json:"evaluated_at"`
}

// HasSignal reports whether the result passes the "signals only" quick
// filter: an enter recommendation or a buy signal.
func (r *SignalResult) HasSignal() bool {
	return r.Recommendation == RecommendEnter || r.MFSignal.IsBuy()
}
