package graph

import (
	"fmt"
	"strings"
)

// Severity ranks a lint finding.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// LintError describes a structural problem in a graph.
type LintError struct {
	NodeID   string
	Severity Severity
	Message  string
}

func (e LintError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// Lint checks a graph for problems that would make a run fail or hang.
// Returns all discovered findings (not just the first), in node order.
func Lint(g *Graph) []LintError {
	var errs []LintError
	add := func(id string, sev Severity, format string, args ...any) {
		errs = append(errs, LintError{NodeID: id, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	for _, n := range g.nodes {
		if strings.TrimSpace(n.Command) == "" {
			add(n.ID, SeverityError, "empty command")
		}

		// Tokens past the contiguous prefix are not slots; they stay literal.
		for _, alphabet := range [][MaxSlots]Slot{InputSlots, OutputSlots} {
			arity := prefixArity(n.Command, alphabet)
			for i := arity + 1; i < MaxSlots; i++ {
				if strings.Contains(n.Command, string(alphabet[i])) {
					add(n.ID, SeverityWarning, "placeholder %s ignored: %s is missing", alphabet[i], alphabet[arity])
				}
			}
		}

		for i := 0; i < n.Inputs; i++ {
			if _, ok := g.InputConnection(n.ID, InputSlots[i]); !ok {
				add(n.ID, SeverityError, "input slot %s not connected", InputSlots[i])
			}
		}
		for i := 0; i < n.Outputs; i++ {
			if len(g.OutputConnections(n.ID, OutputSlots[i])) == 0 {
				add(n.ID, SeverityError, "output slot %s not connected", OutputSlots[i])
			}
		}

		// A channel on an undeclared slot is created but never opened by
		// this node, so the peer blocks forever.
		for _, c := range g.OutgoingConnections(n.ID) {
			if c.OutputSlot.Index() >= n.Outputs {
				add(n.ID, SeverityError, "connection %s uses undeclared output slot %s", c, c.OutputSlot)
			}
		}
		for _, c := range g.IncomingConnections(n.ID) {
			if c.InputSlot.Index() >= n.Inputs {
				add(n.ID, SeverityError, "connection %s uses undeclared input slot %s", c, c.InputSlot)
			}
		}
	}
	return errs
}

// LintErr calls Lint and returns nil if there are no error-level findings,
// or a combined error listing them. Warnings are left out.
func LintErr(g *Graph) error {
	var msgs []string
	for _, e := range Lint(g) {
		if e.Severity == SeverityError {
			msgs = append(msgs, e.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("graph validation failed:\n  %s", strings.Join(msgs, "\n  "))
}
