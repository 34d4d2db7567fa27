// Package compiler turns a node graph into the command lines of a
// FIFO-connected process pipeline.
package compiler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

// UnitKind tells node commands from synthesized duplicators.
type UnitKind int

const (
	UnitNode UnitKind = iota
	UnitDuplicator
)

func (k UnitKind) String() string {
	if k == UnitDuplicator {
		return "dup"
	}
	return "node"
}

// Unit is one launchable command. For duplicators NodeID and Slot name the
// fanned-out producer output.
type Unit struct {
	NodeID  string
	Slot    graph.Slot
	Kind    UnitKind
	Command string
}

// Plan is the result of a successful compile.
type Plan struct {
	Units []Unit
}

// Commands returns every command line in launch order.
func (p *Plan) Commands() []string {
	out := make([]string, len(p.Units))
	for i, u := range p.Units {
		out[i] = u.Command
	}
	return out
}

// Duplicators returns the synthesized duplicator units.
func (p *Plan) Duplicators() []Unit {
	var out []Unit
	for _, u := range p.Units {
		if u.Kind == UnitDuplicator {
			out = append(out, u)
		}
	}
	return out
}

// NodeUnit returns the unit compiled for node id.
func (p *Plan) NodeUnit(id string) (Unit, bool) {
	for _, u := range p.Units {
		if u.Kind == UnitNode && u.NodeID == id {
			return u, true
		}
	}
	return Unit{}, false
}

// Options tune Compile.
type Options struct {
	// Registry defaults to DefaultRegistry().
	Registry *Registry
	// DuplicatorTemplate defaults to DefaultDuplicator.
	DuplicatorTemplate string
	Logger             *zap.Logger
}

// Compile resolves every node of g into a Plan.
//
// The edge pass materialises a channel for every connection, visiting each
// edge once from its producer. The node pass then prepares nodes in
// insertion order; no topological order is needed because opening a FIFO
// blocks until both ends are present. The first failure aborts the compile
// and no plan is returned.
func Compile(g *graph.Graph, alloc Allocator, opts Options) (*Plan, error) {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, err := newContext(g, alloc, opts.DuplicatorTemplate)
	if err != nil {
		return nil, err
	}

	for _, n := range g.Nodes() {
		for _, c := range g.OutgoingConnections(n.ID) {
			name, err := ctx.Channel(c)
			if err != nil {
				return nil, fmt.Errorf("edge %s: %w", c, err)
			}
			if name == "" {
				return nil, &ChannelAllocationError{NodeID: c.OutputNode, Slot: c.OutputSlot}
			}
		}
	}

	for _, n := range g.Nodes() {
		stage, ok := reg.Get(n.Kind)
		if !ok {
			return nil, &UnknownKindError{NodeID: n.ID, Kind: n.Kind}
		}
		if err := stage.Prepare(ctx, n); err != nil {
			return nil, err
		}
	}

	plan := &Plan{Units: ctx.units}
	logger.Debug("compiled",
		zap.Int("nodes", len(g.Nodes())),
		zap.Int("units", len(plan.Units)),
		zap.Int("duplicators", len(plan.Duplicators())))
	return plan, nil
}
