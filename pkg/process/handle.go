// Package process runs compiled pipeline stages as OS processes.
package process

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultStopTimeout bounds how long Stop waits for a killed process to be
// reaped.
const DefaultStopTimeout = 2 * time.Second

// Handle is the lifecycle of one launched unit.
type Handle interface {
	Launch() error
	Stop() error
	IsRunning() bool
}

// LaunchError is returned when a process could not be started.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// HandleConfig configures a CommandHandle.
type HandleConfig struct {
	Spawner     Spawner
	StopTimeout time.Duration
	Logger      *zap.Logger
}

// CommandHandle runs one command line and captures everything it prints.
type CommandHandle struct {
	command     string
	spawner     Spawner
	stopTimeout time.Duration
	logger      *zap.Logger
	output      Buffer

	mu   sync.Mutex
	proc Proc
}

// NewCommandHandle returns a not-yet-started handle for command.
func NewCommandHandle(command string, cfg HandleConfig) *CommandHandle {
	h := &CommandHandle{
		command:     command,
		spawner:     cfg.Spawner,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger,
	}
	if h.spawner == nil {
		h.spawner = ShellSpawner{}
	}
	if h.stopTimeout <= 0 {
		h.stopTimeout = DefaultStopTimeout
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Command returns the command line this handle runs.
func (h *CommandHandle) Command() string { return h.command }

// Launch starts the process, stopping a previous instance first. Output from
// an earlier run is discarded. Launch returns as soon as the process has
// started.
func (h *CommandHandle) Launch() error {
	if h.IsRunning() {
		if err := h.Stop(); err != nil {
			return &LaunchError{Command: h.command, Err: err}
		}
	}
	h.output.Reset()

	proc, err := h.spawner.Spawn(h.command, &h.output)
	if err != nil {
		h.logger.Error("launch failed", zap.String("command", h.command), zap.Error(err))
		return &LaunchError{Command: h.command, Err: err}
	}
	h.mu.Lock()
	h.proc = proc
	h.mu.Unlock()

	h.logger.Info("launch", zap.String("command", h.command), zap.Int("pid", proc.Pid()))
	return nil
}

// Stop kills the process group and waits for it to be reaped. It is a no-op
// when nothing is running.
func (h *CommandHandle) Stop() error {
	h.mu.Lock()
	proc := h.proc
	h.mu.Unlock()
	if proc == nil {
		return nil
	}
	select {
	case <-proc.Done():
		return nil
	default:
	}

	if err := proc.Kill(true); err != nil {
		return fmt.Errorf("kill pid %d: %w", proc.Pid(), err)
	}
	select {
	case <-proc.Done():
		h.logger.Info("stopped", zap.String("command", h.command), zap.Int("pid", proc.Pid()))
		return nil
	case <-time.After(h.stopTimeout):
		return fmt.Errorf("pid %d did not exit within %s", proc.Pid(), h.stopTimeout)
	}
}

// IsRunning polls the process without blocking.
func (h *CommandHandle) IsRunning() bool {
	h.mu.Lock()
	proc := h.proc
	h.mu.Unlock()
	if proc == nil {
		return false
	}
	_, exited := proc.ExitCode()
	return !exited
}

// ExitCode returns the exit status once the process has exited.
func (h *CommandHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	proc := h.proc
	h.mu.Unlock()
	if proc == nil {
		return 0, false
	}
	return proc.ExitCode()
}

// Output returns everything captured so far, including partial output of a
// running process.
func (h *CommandHandle) Output() string { return h.output.String() }
