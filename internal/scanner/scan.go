package scanner

import (
	"sync"
	"time"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/models"
)

// Scan is the immutable outcome of one completed scan.
type Scan struct {
	ID         string                `json:"id"`
	Mode       models.WatchlistMode  `json:"mode"`
	Strategy   models.Strategy       `json:"strategy"`
	Symbols    []string              `json:"symbols"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Results    []models.SignalResult `json:"results"`
	Skipped    []models.Skip         `json:"skipped"`

	frames map[string]*indicator.Frame
}

// Frame returns the derived frame computed for symbol during the scan.
func (s *Scan) Frame(symbol string) (*indicator.Frame, bool) {
	f, ok := s.frames[symbol]
	return f, ok
}

// Signals returns the results passing the "signals only" filter.
func (s *Scan) Signals() []models.SignalResult {
	var out []models.SignalResult
	for _, r := range s.Results {
		if r.HasSignal() {
			out = append(out, r)
		}
	}
	return out
}

// BuySignals returns the results classified main-buy or gold.
func (s *Scan) BuySignals() []models.SignalResult {
	var out []models.SignalResult
	for _, r := range s.Results {
		if r.MFSignal.IsBuy() {
			out = append(out, r)
		}
	}
	return out
}

func (s *Scan) Summary() models.ScanSummary {
	return models.ScanSummary{
		ID:         s.ID,
		Mode:       s.Mode,
		Strategy:   s.Strategy,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Symbols:    len(s.Symbols),
		Results:    len(s.Results),
		Signals:    len(s.Signals()),
	}
}

type counter struct {
	mu    sync.Mutex
	done  int
	total int
	fn    func(done, total int)
}

func newCounter(total int, fn func(done, total int)) *counter {
	return &counter{total: total, fn: fn}
}

func (c *counter) inc() {
	if c.fn == nil {
		return
	}
	c.mu.Lock()
	c.done++
	done := c.done
	c.mu.Unlock()
	c.fn(done, c.total)
}
