package models

import "time"

// WatchlistMode names one of the persisted symbol lists.
type WatchlistMode string

const (
	ModePersonal WatchlistMode = "personal"
	ModeMarket   WatchlistMode = "market"
)

// ParseWatchlistMode maps a config/CLI string to a WatchlistMode.
func ParseWatchlistMode(s string) (WatchlistMode, bool) {
	switch WatchlistMode(s) {
	case ModePersonal, ModeMarket:
		return WatchlistMode(s), true
	default:
		return "", false
	}
}

// Skip records why a symbol produced no result in a scan.
type Skip struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// ScanSummary is the persisted header of a completed scan.
type ScanSummary struct {
	ID         string        `json:"id"`
	Mode       WatchlistMode `json:"mode"`
	Strategy   Strategy      `json:"strategy"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Symbols    int           `json:"symbols"`
	Results    int           `json:"results"`
	Signals    int           `json:"signals"`
}
