package graph

import (
	"fmt"
	"strings"
)

// MaxSlots is the number of placeholder tokens in each slot alphabet.
const MaxSlots = 7

// Slot is a placeholder token naming one input or output of a node,
// e.g. "<1" or ">2".
type Slot string

// InputSlots and OutputSlots are the ordered token alphabets. A template
// declares its arity by using a contiguous prefix of them.
var (
	InputSlots  = [MaxSlots]Slot{"<1", "<2", "<3", "<4", "<5", "<6", "<7"}
	OutputSlots = [MaxSlots]Slot{">1", ">2", ">3", ">4", ">5", ">6", ">7"}
)

// IsInput reports whether s belongs to the input alphabet.
func (s Slot) IsInput() bool { return indexOf(InputSlots, s) >= 0 }

// IsOutput reports whether s belongs to the output alphabet.
func (s Slot) IsOutput() bool { return indexOf(OutputSlots, s) >= 0 }

// Index returns the 0-based position of s in its alphabet, or -1.
func (s Slot) Index() int {
	if i := indexOf(InputSlots, s); i >= 0 {
		return i
	}
	return indexOf(OutputSlots, s)
}

func indexOf(alphabet [MaxSlots]Slot, s Slot) int {
	for i, t := range alphabet {
		if t == s {
			return i
		}
	}
	return -1
}

// KindCommand is the node kind for shell command stages.
const KindCommand = "command"

// Node is one pipeline stage.
type Node struct {
	ID      string
	Kind    string
	Title   string
	Command string

	// Inputs and Outputs are derived from Command by SetCommand.
	Inputs  int
	Outputs int
}

// SetCommand replaces the node's template and recomputes its arity.
//
// Arity is the length of the longest prefix of the token alphabet present in
// the template, so "<1 <3" declares a single input and "<3" is left as
// literal text. Lint reports such gaps.
func (n *Node) SetCommand(template string) {
	n.Command = template
	n.Inputs = prefixArity(template, InputSlots)
	n.Outputs = prefixArity(template, OutputSlots)
}

func prefixArity(template string, alphabet [MaxSlots]Slot) int {
	n := 0
	for n < MaxSlots && strings.Contains(template, string(alphabet[n])) {
		n++
	}
	return n
}

// Connection is a directed edge: OutputSlot of OutputNode feeds InputSlot of
// InputNode. Connections compare structurally.
type Connection struct {
	InputNode  string
	InputSlot  Slot
	OutputNode string
	OutputSlot Slot
}

func (c Connection) String() string {
	return fmt.Sprintf("%s%s -> %s%s", c.OutputNode, c.OutputSlot, c.InputNode, c.InputSlot)
}

// Graph owns the nodes and the single list of connections between them.
// Nodes keep no copies of their edges; every per-node view is a query over
// the edge list. A Graph is not safe for concurrent mutation.
type Graph struct {
	Name string

	nodes []*Node
	index map[string]*Node
	edges []Connection
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{Name: name, index: make(map[string]*Node)}
}

// AddNode adds a node with a generated ID.
func (g *Graph) AddNode(kind, command string) *Node {
	n, err := g.AddNodeWithID(NewNodeID(), kind, command)
	if err != nil {
		// ULIDs do not collide within one process.
		panic(err)
	}
	return n
}

// AddNodeWithID adds a node under a caller-chosen ID. An empty kind means
// KindCommand.
func (g *Graph) AddNodeWithID(id, kind, command string) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node id must not be empty")
	}
	if _, ok := g.index[id]; ok {
		return nil, fmt.Errorf("duplicate node id %q", id)
	}
	if kind == "" {
		kind = KindCommand
	}
	n := &Node{ID: id, Kind: kind}
	n.SetCommand(command)
	g.nodes = append(g.nodes, n)
	g.index[id] = n
	return n, nil
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	return g.index[id]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// RemoveNode deletes a node together with every connection touching it.
func (g *Graph) RemoveNode(id string) {
	if _, ok := g.index[id]; !ok {
		return
	}
	delete(g.index, id)
	for i, n := range g.nodes {
		if n.ID == id {
			g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
			break
		}
	}
	kept := g.edges[:0]
	for _, c := range g.edges {
		if c.InputNode != id && c.OutputNode != id {
			kept = append(kept, c)
		}
	}
	g.edges = kept
}

// AddConnection inserts c. Input slots are exclusive: a connection already
// occupying c's input slot is removed first. Output slots may fan out.
func (g *Graph) AddConnection(c Connection) error {
	if g.index[c.InputNode] == nil {
		return fmt.Errorf("connection %s: unknown input node %q", c, c.InputNode)
	}
	if g.index[c.OutputNode] == nil {
		return fmt.Errorf("connection %s: unknown output node %q", c, c.OutputNode)
	}
	if !c.InputSlot.IsInput() {
		return fmt.Errorf("connection %s: %q is not an input slot", c, c.InputSlot)
	}
	if !c.OutputSlot.IsOutput() {
		return fmt.Errorf("connection %s: %q is not an output slot", c, c.OutputSlot)
	}
	if old, ok := g.InputConnection(c.InputNode, c.InputSlot); ok {
		if old == c {
			return nil
		}
		g.RemoveConnection(old)
	}
	g.edges = append(g.edges, c)
	return nil
}

// RemoveConnection deletes the connection equal to c. Absent connections are
// ignored.
func (g *Graph) RemoveConnection(c Connection) {
	for i, e := range g.edges {
		if e == c {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return
		}
	}
}

// Connections returns every connection in definition order.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, len(g.edges))
	copy(out, g.edges)
	return out
}

// ConnectionsOf returns the connections touching id on either side.
func (g *Graph) ConnectionsOf(id string) []Connection {
	return g.filter(func(c Connection) bool { return c.InputNode == id || c.OutputNode == id })
}

// OutgoingConnections returns the connections where id is the producer.
// Visiting OutgoingConnections of every node enumerates each edge once.
func (g *Graph) OutgoingConnections(id string) []Connection {
	return g.filter(func(c Connection) bool { return c.OutputNode == id })
}

// IncomingConnections returns the connections where id is the consumer.
func (g *Graph) IncomingConnections(id string) []Connection {
	return g.filter(func(c Connection) bool { return c.InputNode == id })
}

// InputConnection returns the connection feeding slot of node id, if any.
func (g *Graph) InputConnection(id string, slot Slot) (Connection, bool) {
	for _, c := range g.edges {
		if c.InputNode == id && c.InputSlot == slot {
			return c, true
		}
	}
	return Connection{}, false
}

// OutputConnections returns every connection fed by slot of node id.
func (g *Graph) OutputConnections(id string, slot Slot) []Connection {
	return g.filter(func(c Connection) bool { return c.OutputNode == id && c.OutputSlot == slot })
}

func (g *Graph) filter(keep func(Connection) bool) []Connection {
	var out []Connection
	for _, c := range g.edges {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
