package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LaunchPolicy decides what happens to started siblings when a launch fails.
type LaunchPolicy int

const (
	// BestEffort keeps already started processes running.
	BestEffort LaunchPolicy = iota
	// AllOrNothing stops every started process and reports the failure.
	AllOrNothing
)

// ClearPolicy decides what Clear does with handles that are still running.
type ClearPolicy int

const (
	// StopOnClear kills running handles before dropping them.
	StopOnClear ClearPolicy = iota
	// LeakOnClear drops handles without terminating them.
	LeakOnClear
)

// ParseLaunchPolicy accepts "best-effort" or "all-or-nothing".
func ParseLaunchPolicy(s string) (LaunchPolicy, error) {
	switch strings.ToLower(s) {
	case "", "best-effort":
		return BestEffort, nil
	case "all-or-nothing":
		return AllOrNothing, nil
	}
	return BestEffort, fmt.Errorf("unknown launch policy %q: use best-effort or all-or-nothing", s)
}

// ParseClearPolicy accepts "stop" or "leak".
func ParseClearPolicy(s string) (ClearPolicy, error) {
	switch strings.ToLower(s) {
	case "", "stop":
		return StopOnClear, nil
	case "leak":
		return LeakOnClear, nil
	}
	return StopOnClear, fmt.Errorf("unknown clear policy %q: use stop or leak", s)
}

const pollInterval = 50 * time.Millisecond

// Set owns the handles produced by one compile.
type Set struct {
	LaunchPolicy LaunchPolicy
	ClearPolicy  ClearPolicy
	Logger       *zap.Logger
	// OnLaunch, if set, observes every launch attempt.
	OnLaunch func(h Handle, err error)

	mu      sync.Mutex
	handles []Handle
}

// Add appends h; handles launch in insertion order.
func (s *Set) Add(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = append(s.handles, h)
}

// Handles returns the owned handles in insertion order.
func (s *Set) Handles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Len returns the number of owned handles.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Clear drops every handle, stopping running ones first unless ClearPolicy
// is LeakOnClear.
func (s *Set) Clear() {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	if s.ClearPolicy == LeakOnClear {
		return
	}
	for _, h := range handles {
		if err := h.Stop(); err != nil {
			s.logger().Warn("stop on clear failed", zap.Error(err))
		}
	}
}

// Launch starts every handle in insertion order without waiting for any of
// them to finish. Under BestEffort a failing handle does not prevent the
// rest from starting; under AllOrNothing the started ones are stopped again.
func (s *Set) Launch() error {
	var errs []error
	var started []Handle
	for _, h := range s.Handles() {
		err := h.Launch()
		if s.OnLaunch != nil {
			s.OnLaunch(h, err)
		}
		if err == nil {
			started = append(started, h)
			continue
		}
		errs = append(errs, err)
		if s.LaunchPolicy == AllOrNothing {
			s.logger().Warn("launch failed, stopping started processes", zap.Int("started", len(started)))
			for _, st := range started {
				if stopErr := st.Stop(); stopErr != nil {
					errs = append(errs, stopErr)
				}
			}
			break
		}
	}
	return errors.Join(errs...)
}

// Stop force-terminates every handle.
func (s *Set) Stop() error {
	var errs []error
	for _, h := range s.Handles() {
		if err := h.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsRunning reports whether any handle is running.
func (s *Set) IsRunning() bool {
	for _, h := range s.Handles() {
		if h.IsRunning() {
			return true
		}
	}
	return false
}

// Running returns how many handles are running.
func (s *Set) Running() int {
	n := 0
	for _, h := range s.Handles() {
		if h.IsRunning() {
			n++
		}
	}
	return n
}

// Wait polls until no handle is running or ctx is done.
func (s *Set) Wait(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for s.IsRunning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Set) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
