package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/vpe/pkg/catalog"
	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

func graphCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <graph.dot>",
		Short: "Print a human-readable summary of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.loadGraph(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(out, g.DOT())
			case "text", "":
				fmt.Fprint(out, renderText(g))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// topoOrder returns node IDs in BFS order from the source nodes (no incoming
// connections); nodes only reachable through cycles are appended in
// insertion order.
func topoOrder(g *graph.Graph) []string {
	visited := map[string]bool{}
	var order, queue []string

	for _, n := range g.Nodes() {
		if len(g.IncomingConnections(n.ID)) == 0 {
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		order = append(order, cur)
		for _, c := range g.OutgoingConnections(cur) {
			if !visited[c.InputNode] {
				queue = append(queue, c.InputNode)
			}
		}
	}

	for _, n := range g.Nodes() {
		if !visited[n.ID] {
			order = append(order, n.ID)
		}
	}
	return order
}

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// renderText produces the human-readable text summary.
func renderText(g *graph.Graph) string {
	var sb strings.Builder

	nodes, conns := g.Nodes(), g.Connections()
	fmt.Fprintf(&sb, "Graph: %s  (%d nodes, %d connections)\n", g.Name, len(nodes), len(conns))

	maxIDLen := 4 // minimum "node"
	for _, n := range nodes {
		if len(n.ID) > maxIDLen {
			maxIDLen = len(n.ID)
		}
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, id := range topoOrder(g) {
		n := g.Node(id)
		slots := fmt.Sprintf("%d→%d", n.Inputs, n.Outputs)
		fmt.Fprintf(&sb, "  %-*s  %-8s  %-5s  %s\n", maxIDLen, id, n.Kind, slots, truncate(n.Command, 60))
	}

	fmt.Fprintf(&sb, "\nConnections:\n")
	maxFromLen := 4
	for _, c := range conns {
		if l := len(c.OutputNode) + len(c.OutputSlot); l > maxFromLen {
			maxFromLen = l
		}
	}
	for _, c := range conns {
		from := c.OutputNode + string(c.OutputSlot)
		fmt.Fprintf(&sb, "  %-*s  →  %s%s\n", maxFromLen, from, c.InputNode, c.InputSlot)
	}

	return sb.String()
}

// renderPresets lists catalog presets as an aligned table.
func renderPresets(cat *catalog.Catalog) string {
	var sb strings.Builder
	names := cat.Names()

	maxName := 4
	for _, n := range names {
		if len(n) > maxName {
			maxName = len(n)
		}
	}
	for _, name := range names {
		p, _ := cat.Lookup(name)
		fmt.Fprintf(&sb, "%-*s  %s\n", maxName, name, p.Command)
		if p.Description != "" {
			fmt.Fprintf(&sb, "%-*s  # %s\n", maxName, "", p.Description)
		}
	}
	return sb.String()
}

func demoCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Write the default webcam → map → window graph as DOT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := demoGraph()
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), g.DOT())
				return nil
			}
			if err := os.WriteFile(outPath, []byte(g.DOT()), 0o644); err != nil {
				return fmt.Errorf("write demo graph: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// demoGraph is the canvas a new editor session starts with.
func demoGraph() (*graph.Graph, error) {
	g := graph.New("demo")
	for _, n := range []struct{ id, cmd string }{
		{"webcam", "webcam2vpp >1"},
		{"map", `vp map <1 >1 "(x/255)^2*255"`},
		{"window", "vpp2win <1"},
	} {
		if _, err := g.AddNodeWithID(n.id, graph.KindCommand, n.cmd); err != nil {
			return nil, err
		}
	}
	for _, c := range []graph.Connection{
		{InputNode: "map", InputSlot: "<1", OutputNode: "webcam", OutputSlot: ">1"},
		{InputNode: "window", InputSlot: "<1", OutputNode: "map", OutputSlot: ">1"},
	} {
		if err := g.AddConnection(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}
