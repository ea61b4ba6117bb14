package models

import "errors"

// Default optimization thresholds used when a symbol has no row in the
// parameter table.
const (
	DefaultADXMin    = 20.0
	DefaultRSIBuy    = 48.0
	DefaultMFIBuy    = 48.0
	DefaultTolerance = 0.02
)

// OptimizationParams holds the per-symbol thresholds for the optimized strategy.
type OptimizationParams struct {
	ADXMin    float64 `json:"adx_min" yaml:"adx_min"`
	RSIBuy    float64 `json:"rsi_buy" yaml:"rsi_buy"`
	MFIBuy    float64 `json:"mfi_buy" yaml:"mfi_buy"`
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
}

// DefaultOptimizationParams returns the fallback tuple {20, 48, 48, 0.02}.
func DefaultOptimizationParams() OptimizationParams {
	return OptimizationParams{
		ADXMin:    DefaultADXMin,
		RSIBuy:    DefaultRSIBuy,
		MFIBuy:    DefaultMFIBuy,
		Tolerance: DefaultTolerance,
	}
}

// Validate checks parameter ranges.
func (p *OptimizationParams) Validate() error {
	if p.ADXMin < 0 || p.ADXMin > 100 {
		return errors.New("adx_min must be between 0 and 100")
	}
	if p.RSIBuy < 0 || p.RSIBuy > 100 {
		return errors.New("rsi_buy must be between 0 and 100")
	}
	if p.MFIBuy < 0 || p.MFIBuy > 100 {
		return errors.New("mfi_buy must be between 0 and 100")
	}
	if p.Tolerance < 0 || p.Tolerance >= 1 {
		return errors.New("tolerance must be in [0, 1)")
	}
	return nil
}

// Relaxed returns threshold lowered by the tolerance fraction.
func (p *OptimizationParams) Relaxed(threshold float64) float64 {
	return threshold * (1 - p.Tolerance)
}
