package compiler

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/ravi-parthasarathy/vpe/pkg/channel"
	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

// DefaultDuplicator copies one channel into two. Fields: From, To, To2.
const DefaultDuplicator = "vp dup {{.From}} {{.To}} {{.To2}}"

// Allocator hands out channel names for edges.
type Allocator interface {
	GetOrCreate(key channel.Key) (string, error)
	CreateAnonymous() (string, error)
}

// Context carries the state of one compile.
type Context struct {
	Graph *graph.Graph

	alloc Allocator
	dup   *template.Template
	units []Unit
}

func newContext(g *graph.Graph, alloc Allocator, dupTemplate string) (*Context, error) {
	if dupTemplate == "" {
		dupTemplate = DefaultDuplicator
	}
	tpl, err := template.New("dup").Option("missingkey=error").Parse(dupTemplate)
	if err != nil {
		return nil, fmt.Errorf("duplicator template: %w", err)
	}
	return &Context{Graph: g, alloc: alloc, dup: tpl}, nil
}

// Collect appends a unit to the plan under construction.
func (c *Context) Collect(u Unit) {
	c.units = append(c.units, u)
}

// Channel returns the channel realising conn.
func (c *Context) Channel(conn graph.Connection) (string, error) {
	return c.alloc.GetOrCreate(keyOf(conn))
}

// Anonymous allocates a channel tied to no edge.
func (c *Context) Anonymous() (string, error) {
	return c.alloc.CreateAnonymous()
}

// Duplicator renders the command copying from into to and to2.
func (c *Context) Duplicator(from, to, to2 string) (string, error) {
	var buf bytes.Buffer
	err := c.dup.Execute(&buf, struct{ From, To, To2 string }{from, to, to2})
	if err != nil {
		return "", fmt.Errorf("duplicator template: %w", err)
	}
	return buf.String(), nil
}

func keyOf(conn graph.Connection) channel.Key {
	return channel.Key{
		InputNode:  conn.InputNode,
		InputSlot:  string(conn.InputSlot),
		OutputNode: conn.OutputNode,
		OutputSlot: string(conn.OutputSlot),
	}
}

// Resolve substitutes channel names for every declared placeholder of n.
// Fan-out outputs get a duplicator chain, whose units are collected into ctx
// before the caller collects n itself.
//
// Channel names never contain '<' or '>', so one substitution cannot create
// a token for a later one.
func Resolve(ctx *Context, n *graph.Node) (string, error) {
	command := n.Command

	for i := 0; i < n.Inputs; i++ {
		slot := graph.InputSlots[i]
		conn, ok := ctx.Graph.InputConnection(n.ID, slot)
		if !ok {
			return "", &UnresolvedInputError{NodeID: n.ID, Slot: slot}
		}
		name, err := ctx.Channel(conn)
		if err != nil {
			return "", fmt.Errorf("node %q slot %s: %w", n.ID, slot, err)
		}
		if name == "" {
			return "", &ChannelAllocationError{NodeID: n.ID, Slot: slot}
		}
		command = strings.ReplaceAll(command, string(slot), name)
	}

	for i := 0; i < n.Outputs; i++ {
		slot := graph.OutputSlots[i]
		conns := ctx.Graph.OutputConnections(n.ID, slot)
		var (
			name string
			err  error
		)
		switch len(conns) {
		case 0:
			return "", &UnresolvedOutputError{NodeID: n.ID, Slot: slot}
		case 1:
			name, err = ctx.Channel(conns[0])
		default:
			name, err = fanOut(ctx, n, slot, conns)
		}
		if err != nil {
			return "", fmt.Errorf("node %q slot %s: %w", n.ID, slot, err)
		}
		if name == "" {
			return "", &ChannelAllocationError{NodeID: n.ID, Slot: slot}
		}
		command = strings.ReplaceAll(command, string(slot), name)
	}

	return command, nil
}

// fanOut feeds len(conns) consumers from one producer through a chain of
// two-way duplicators and returns the channel the producer should write to.
//
//	head0 ─dup─┬─> conns[0]
//	           └─> head1 ─dup─┬─> conns[1]
//	                          └─> conns[2]
func fanOut(ctx *Context, n *graph.Node, slot graph.Slot, conns []graph.Connection) (string, error) {
	head, err := ctx.Anonymous()
	if err != nil {
		return "", err
	}
	first := head
	last := len(conns) - 1
	for i := 0; i < last; i++ {
		from := head
		var to string
		if i == last-1 {
			to, err = ctx.Channel(conns[i+1])
		} else {
			head, err = ctx.Anonymous()
			to = head
		}
		if err != nil {
			return "", err
		}
		to2, err := ctx.Channel(conns[i])
		if err != nil {
			return "", err
		}
		if from == "" || to == "" || to2 == "" {
			return "", &ChannelAllocationError{NodeID: n.ID, Slot: slot}
		}
		command, err := ctx.Duplicator(from, to, to2)
		if err != nil {
			return "", err
		}
		ctx.Collect(Unit{NodeID: n.ID, Slot: slot, Kind: UnitDuplicator, Command: command})
	}
	return first, nil
}
