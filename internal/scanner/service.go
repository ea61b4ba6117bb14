package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rewired-gh/mftrend/internal/indicator"
	"github.com/rewired-gh/mftrend/internal/logger"
)

// Status describes the scan currently in flight, if any.
type Status struct {
	Running bool   `json:"running"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	LastID  string `json:"last_id,omitempty"`
	LastErr string `json:"last_error,omitempty"`
}

// Service owns the most recent completed scan. Starting a scan cancels the
// one in flight; only the newest scan may publish its result.
type Service struct {
	base    context.Context
	scanner *Scanner

	mu         sync.Mutex
	latest     *Scan
	cancel     context.CancelFunc
	generation uint64
	lastErr    error
	onComplete []func(context.Context, *Scan)
	onFailure  []func(error)

	done  atomic.Int64
	total atomic.Int64
	wg    sync.WaitGroup
}

// NewService binds background scans to base; cancelling base stops them.
func NewService(base context.Context, sc *Scanner) *Service {
	return &Service{base: base, scanner: sc}
}

// OnComplete registers fn to run after a scan is published. Hooks run on
// the scanning goroutine in registration order.
func (s *Service) OnComplete(fn func(context.Context, *Scan)) {
	s.mu.Lock()
	s.onComplete = append(s.onComplete, fn)
	s.mu.Unlock()
}

// OnFailure registers fn to run when a scan fails for a reason other than
// cancellation.
func (s *Service) OnFailure(fn func(error)) {
	s.mu.Lock()
	s.onFailure = append(s.onFailure, fn)
	s.mu.Unlock()
}

// Run scans synchronously, cancelling any scan in flight, and publishes the
// result if no newer scan has started meanwhile.
func (s *Service) Run(ctx context.Context, req Request) (*Scan, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	s.cancel = cancel
	s.mu.Unlock()

	s.done.Store(0)
	s.total.Store(0)
	userProgress := req.Progress
	req.Progress = func(done, total int) {
		if s.isCurrent(gen) {
			s.done.Store(int64(done))
			s.total.Store(int64(total))
		}
		if userProgress != nil {
			userProgress(done, total)
		}
	}

	scan, err := s.scanner.Run(ctx, req)

	s.mu.Lock()
	current := s.generation == gen
	if current {
		s.cancel = nil
		s.lastErr = err
		if err == nil {
			s.latest = scan
		}
	}
	completeHooks := append([]func(context.Context, *Scan){}, s.onComplete...)
	failureHooks := append([]func(error){}, s.onFailure...)
	s.mu.Unlock()

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			for _, fn := range failureHooks {
				fn(err)
			}
		}
		return nil, err
	}
	if !current {
		logger.Info("Scan %s superseded, not published", scan.ID)
		return scan, nil
	}
	for _, fn := range completeHooks {
		fn(s.base, scan)
	}
	return scan, nil
}

// Trigger validates req and starts the scan in the background.
func (s *Service) Trigger(req Request) error {
	if err := s.scanner.Validate(req); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Run(s.base, req); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Scan failed: %v", err)
		}
	}()
	return nil
}

// Cancel stops the scan in flight, if any.
func (s *Service) Cancel() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Wait blocks until background scans started by Trigger have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Latest() *Scan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Frame returns symbol's derived frame from the latest scan.
func (s *Service) Frame(symbol string) (*indicator.Frame, bool) {
	latest := s.Latest()
	if latest == nil {
		return nil, false
	}
	return latest.Frame(symbol)
}

func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{Running: s.cancel != nil}
	if s.latest != nil {
		st.LastID = s.latest.ID
	}
	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}
	s.mu.Unlock()
	st.Done = int(s.done.Load())
	st.Total = int(s.total.Load())
	return st
}

func (s *Service) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}
