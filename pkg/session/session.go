// Package session ties a graph to the channels and processes of its runs.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/vpe/pkg/channel"
	"github.com/ravi-parthasarathy/vpe/pkg/compiler"
	"github.com/ravi-parthasarathy/vpe/pkg/graph"
	"github.com/ravi-parthasarathy/vpe/pkg/metrics"
	"github.com/ravi-parthasarathy/vpe/pkg/process"
)

// Options configure a Session. The zero value runs commands with /bin/sh
// and creates FIFOs under channel.DefaultDir.
type Options struct {
	// FifoDir must not be shared with another session: channel names are
	// only unique within one allocator.
	FifoDir string
	// Creator defaults to a FifoCreator that fails on an existing path.
	// Set FifoCreator.ReplaceStale only when FifoDir belongs to this
	// session alone.
	Creator            channel.Creator
	Spawner            process.Spawner
	Registry           *compiler.Registry
	DuplicatorTemplate string
	StopTimeout        time.Duration
	LaunchPolicy       process.LaunchPolicy
	ClearPolicy        process.ClearPolicy
	// FreshChannels releases every channel before each run instead of
	// reusing the ones created for unchanged edges.
	FreshChannels bool
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Status is a snapshot of one compiled unit.
type Status struct {
	NodeID   string     `json:"node_id"`
	Slot     graph.Slot `json:"slot,omitempty"`
	Kind     string     `json:"kind"`
	Command  string     `json:"command"`
	Running  bool       `json:"running"`
	Exited   bool       `json:"exited"`
	ExitCode int        `json:"exit_code"`
	Output   string     `json:"output,omitempty"`
}

// Session owns the channel allocator and process set of one graph. Run,
// Stop and Close are serialized; status readers may be called concurrently.
type Session struct {
	graph   *graph.Graph
	opts    Options
	logger  *zap.Logger
	alloc   *channel.Allocator
	set     *process.Set
	metrics *metrics.Metrics

	mu      sync.Mutex
	plan    *compiler.Plan
	handles []*process.CommandHandle
	byNode  map[string]*process.CommandHandle
}

// New creates a session for g. The FIFO directory is created unless the
// creator is a dry run.
func New(g *graph.Graph, opts Options) (*Session, error) {
	if opts.FifoDir == "" {
		opts.FifoDir = channel.DefaultDir
	}
	if err := channel.ValidateDir(opts.FifoDir); err != nil {
		return nil, err
	}
	if opts.Creator == nil {
		opts.Creator = channel.FifoCreator{}
	}
	if opts.Spawner == nil {
		opts.Spawner = process.ShellSpawner{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("graph", g.Name))

	if _, dry := opts.Creator.(*channel.DryRunCreator); !dry {
		if err := os.MkdirAll(opts.FifoDir, 0o755); err != nil {
			return nil, fmt.Errorf("create fifo dir: %w", err)
		}
	}

	s := &Session{
		graph:   g,
		opts:    opts,
		logger:  logger,
		alloc:   channel.NewAllocator(opts.FifoDir, opts.Creator, logger),
		metrics: opts.Metrics,
		byNode:  make(map[string]*process.CommandHandle),
	}
	s.set = &process.Set{
		LaunchPolicy: opts.LaunchPolicy,
		ClearPolicy:  opts.ClearPolicy,
		Logger:       logger,
		OnLaunch: func(_ process.Handle, err error) {
			s.metrics.RecordLaunch(err)
		},
	}
	return s, nil
}

// Graph returns the graph this session runs.
func (s *Session) Graph() *graph.Graph { return s.graph }

// Run drops the previous process set and its duplicator channels, compiles
// the graph and launches every unit. A compile failure leaves the session with no processes. Launch
// failures are returned after the rest of the set has been handled
// according to the launch policy.
func (s *Session) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set.Clear()
	s.plan = nil
	s.handles = nil
	s.byNode = make(map[string]*process.CommandHandle)
	if s.opts.FreshChannels {
		s.alloc.ReleaseAll()
	} else {
		// Duplicator links are recreated by every compile.
		s.alloc.ReleaseAnonymous()
	}

	before := s.alloc.Len()
	start := time.Now()
	plan, err := compiler.Compile(s.graph, s.alloc, compiler.Options{
		Registry:           s.opts.Registry,
		DuplicatorTemplate: s.opts.DuplicatorTemplate,
		Logger:             s.logger,
	})
	if err != nil {
		s.logger.Error("compile failed", zap.Error(err))
		s.metrics.RecordRun(metrics.ResultCompileError)
		s.metrics.SetRunning(0)
		return fmt.Errorf("compile: %w", err)
	}
	s.metrics.RecordCompile(time.Since(start), s.alloc.Len()-before, len(plan.Duplicators()))

	for _, u := range plan.Units {
		h := process.NewCommandHandle(u.Command, process.HandleConfig{
			Spawner:     s.opts.Spawner,
			StopTimeout: s.opts.StopTimeout,
			Logger:      s.logger.With(zap.String("node", u.NodeID), zap.Stringer("unit", u.Kind)),
		})
		s.set.Add(h)
		s.handles = append(s.handles, h)
		if u.Kind == compiler.UnitNode {
			s.byNode[u.NodeID] = h
		}
	}
	s.plan = plan

	err = s.set.Launch()
	s.metrics.SetRunning(s.set.Running())
	if err != nil {
		s.metrics.RecordRun(metrics.ResultLaunchError)
		return err
	}
	s.metrics.RecordRun(metrics.ResultOK)
	s.logger.Info("pipeline started", zap.Int("units", len(plan.Units)), zap.Int("channels", s.alloc.Len()))
	return nil
}

// Stop kills every process of the current run.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.set.Stop()
	s.metrics.SetRunning(s.set.Running())
	return err
}

// Close stops every process and removes every channel.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.set.Stop()
	s.set.Clear()
	s.alloc.ReleaseAll()
	s.metrics.SetRunning(0)
	return err
}

// IsRunning reports whether any process of the current run is alive.
func (s *Session) IsRunning() bool { return s.set.IsRunning() }

// Wait blocks until every process has exited or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	err := s.set.Wait(ctx)
	s.metrics.SetRunning(s.set.Running())
	return err
}

// Plan returns the plan of the last successful compile, or nil.
func (s *Session) Plan() *compiler.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Channels returns the live channel names.
func (s *Session) Channels() []string { return s.alloc.Channels() }

// Handle returns the process handle of node id in the current run.
// Duplicators have no node handle.
func (s *Session) Handle(id string) (*process.CommandHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byNode[id]
	return h, ok
}

// NodeStatus returns the status of node id in the current run.
func (s *Session) NodeStatus(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return Status{}, false
	}
	for i, u := range s.plan.Units {
		if u.Kind == compiler.UnitNode && u.NodeID == id {
			return statusOf(u, s.handles[i]), true
		}
	}
	return Status{}, false
}

// Statuses returns the status of every unit in launch order.
func (s *Session) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return nil
	}
	out := make([]Status, len(s.plan.Units))
	for i, u := range s.plan.Units {
		out[i] = statusOf(u, s.handles[i])
	}
	return out
}

func statusOf(u compiler.Unit, h *process.CommandHandle) Status {
	code, exited := h.ExitCode()
	return Status{
		NodeID:   u.NodeID,
		Slot:     u.Slot,
		Kind:     u.Kind.String(),
		Command:  u.Command,
		Running:  h.IsRunning(),
		Exited:   exited,
		ExitCode: code,
		Output:   h.Output(),
	}
}
