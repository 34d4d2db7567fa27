package compiler

import (
	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

// Stage compiles one node kind into launchable units.
// Prepare resolves n against the graph in ctx and hands every unit it
// produces to ctx.Collect.
type Stage interface {
	Prepare(ctx *Context, n *graph.Node) error
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx *Context, n *graph.Node) error

func (f StageFunc) Prepare(ctx *Context, n *graph.Node) error { return f(ctx, n) }

// Registry maps node kinds to Stage implementations.
type Registry struct {
	stages map[string]Stage
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// DefaultRegistry knows the built-in command kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(graph.KindCommand, CommandStage{})
	return r
}

// Register associates a stage with a node kind.
func (r *Registry) Register(kind string, s Stage) {
	r.stages[kind] = s
}

// Get returns the stage for a node kind.
func (r *Registry) Get(kind string) (Stage, bool) {
	s, ok := r.stages[kind]
	return s, ok
}

// CommandStage compiles shell command templates.
type CommandStage struct{}

func (CommandStage) Prepare(ctx *Context, n *graph.Node) error {
	command, err := Resolve(ctx, n)
	if err != nil {
		return err
	}
	ctx.Collect(Unit{NodeID: n.ID, Kind: UnitNode, Command: command})
	return nil
}
