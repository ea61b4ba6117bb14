// Package models defines the core domain entities: daily bars, optimization
// parameters, signal results and scans.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Bar is one trading-day record for a symbol.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks bar field constraints.
func (b *Bar) Validate() error {
	if b.Date.IsZero() {
		return errors.New("bar date must not be empty")
	}
	if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 {
		return errors.New("bar prices must not be negative")
	}
	if b.Volume < 0 {
		return errors.New("bar volume must not be negative")
	}
	if b.High < b.Low {
		return errors.New("bar high must be >= low")
	}
	return nil
}

// ValidateBars checks every bar and that dates are strictly increasing.
func ValidateBars(bars []Bar) error {
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !bars[i].Date.After(bars[i-1].Date) {
			return fmt.Errorf("bar %d: date %s is not after %s", i,
				bars[i].Date.Format("2006-01-02"), bars[i-1].Date.Format("2006-01-02"))
		}
	}
	return nil
}
