package graph

import (
	"fmt"
	"sort"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// Default slots used when an edge omits its "out" or "in" attribute.
const (
	DefaultOutputSlot = Slot(">1")
	DefaultInputSlot  = Slot("<1")
)

// Presets resolves a node "preset" attribute to a kind and command template.
type Presets interface {
	Preset(name string) (kind, command string, ok bool)
}

// ParseOptions tune ParseDOT.
type ParseOptions struct {
	// Presets resolves nodes that carry a preset attribute instead of cmd.
	Presets Presets
}

// ParseDOT builds a Graph from a Graphviz DOT document.
//
//	digraph demo {
//	  cam  [cmd="webcam2vpp >1"]
//	  show [cmd="vpp2win <1"]
//	  cam -> show [out=">1", in="<1"]
//	}
//
// Nodes are added in order of first appearance so that compiled plans are
// deterministic.
func ParseDOT(src string, opts ParseOptions) (*Graph, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// gographviz.Graph validates attribute names against the Graphviz set;
	// cmd/kind/out/in are ours, so collect through a permissive Interface.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	g := New(collector.name)
	for _, id := range collector.order {
		attrs := collector.nodes[id]
		kind, command := attrs["kind"], attrs["cmd"]
		if name := attrs["preset"]; name != "" && command == "" {
			if opts.Presets == nil {
				return nil, fmt.Errorf("node %q: preset %q given but no presets configured", id, name)
			}
			pkind, pcmd, ok := opts.Presets.Preset(name)
			if !ok {
				return nil, fmt.Errorf("node %q: unknown preset %q", id, name)
			}
			command = pcmd
			if kind == "" {
				kind = pkind
			}
		}
		n, err := g.AddNodeWithID(id, kind, command)
		if err != nil {
			return nil, err
		}
		n.Title = attrs["title"]
	}

	for _, e := range collector.edges {
		c := Connection{
			InputNode:  e.to,
			InputSlot:  slotOr(e.attrs["in"], DefaultInputSlot),
			OutputNode: e.from,
			OutputSlot: slotOr(e.attrs["out"], DefaultOutputSlot),
		}
		if err := g.AddConnection(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func slotOr(v string, def Slot) Slot {
	if v == "" {
		return def
	}
	return Slot(v)
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to string
	attrs    map[string]string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name  string
	order []string
	nodes map[string]map[string]string
	edges []rawEdge
}

func newDOTCollector() *dotCollector {
	return &dotCollector{nodes: make(map[string]map[string]string)}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, attrs map[string]string) error {
	e := rawEdge{from: unquote(src), to: unquote(dst), attrs: make(map[string]string, len(attrs))}
	for k, v := range attrs {
		e.attrs[k] = unquote(v)
	}
	c.edges = append(c.edges, e)
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, _, _ string) error { return nil }

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// unquote strips surrounding double-quotes from a DOT ID and decodes the
// \" and \\ escapes. Other backslash sequences are kept verbatim.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	body := s[1 : len(s)-1]
	if !strings.Contains(body, `\`) {
		return body
	}
	var sb strings.Builder
	sb.Grow(len(body))
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) && (body[i+1] == '"' || body[i+1] == '\\') {
			i++
		}
		sb.WriteByte(body[i])
	}
	return sb.String()
}

// ─── writer ──────────────────────────────────────────────────────────────────

// dotQuote returns the value as a DOT-safe string, quoting if necessary.
func dotQuote(s string) string {
	needsQuote := s == "" ||
		strings.ContainsAny(s, " \t\n\\\"{}[]<>=;,:-.")
	if needsQuote {
		escaped := strings.ReplaceAll(s, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	}
	return s
}

// DOT renders g as a canonical digraph that ParseDOT reads back.
func (g *Graph) DOT() string {
	var sb strings.Builder

	name := g.Name
	if name == "" {
		name = "pipeline"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))

	for _, n := range g.nodes {
		attrs := map[string]string{"cmd": n.Command}
		if n.Kind != KindCommand {
			attrs["kind"] = n.Kind
		}
		if n.Title != "" {
			attrs["title"] = n.Title
		}
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + dotQuote(attrs[k])
		}
		fmt.Fprintf(&sb, "  %s [%s]\n", dotQuote(n.ID), strings.Join(parts, ", "))
	}

	for _, c := range g.edges {
		fmt.Fprintf(&sb, "  %s -> %s [out=%s, in=%s]\n",
			dotQuote(c.OutputNode), dotQuote(c.InputNode),
			dotQuote(string(c.OutputSlot)), dotQuote(string(c.InputSlot)))
	}

	sb.WriteString("}\n")
	return sb.String()
}
