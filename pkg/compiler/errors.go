package compiler

import (
	"fmt"

	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

// UnresolvedInputError is returned when a declared input slot has no
// connection.
type UnresolvedInputError struct {
	NodeID string
	Slot   graph.Slot
}

func (e *UnresolvedInputError) Error() string {
	return fmt.Sprintf("node %q: input slot %s not connected", e.NodeID, e.Slot)
}

// UnresolvedOutputError is returned when a declared output slot has no
// connection.
type UnresolvedOutputError struct {
	NodeID string
	Slot   graph.Slot
}

func (e *UnresolvedOutputError) Error() string {
	return fmt.Sprintf("node %q: output slot %s not connected", e.NodeID, e.Slot)
}

// ChannelAllocationError is returned when a connection resolves to an empty
// channel name.
type ChannelAllocationError struct {
	NodeID string
	Slot   graph.Slot
}

func (e *ChannelAllocationError) Error() string {
	return fmt.Sprintf("node %q: slot %s has no channel", e.NodeID, e.Slot)
}

// UnknownKindError is returned when no stage is registered for a node kind.
type UnknownKindError struct {
	NodeID string
	Kind   string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("node %q: no stage registered for kind %q", e.NodeID, e.Kind)
}
