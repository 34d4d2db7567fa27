package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ravi-parthasarathy/vpe/pkg/session"
)

// runReport is the JSON document written by "run --report".
type runReport struct {
	Graph    string           `json:"graph"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
	Channels []string         `json:"channels"`
	Units    []session.Status `json:"units"`
	Error    string           `json:"error,omitempty"`
}

func newReport(s *session.Session, started time.Time, runErr error) runReport {
	r := runReport{
		Graph:    s.Graph().Name,
		Started:  started,
		Finished: time.Now(),
		Channels: s.Channels(),
		Units:    s.Statuses(),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// writeReport serialises r to path as JSON. An empty path is a no-op.
func writeReport(path string, r runReport) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// printConsole dumps the captured output of every unit.
func printConsole(w io.Writer, statuses []session.Status) {
	for _, st := range statuses {
		label := st.NodeID
		if st.Kind == "dup" {
			label += " (dup " + string(st.Slot) + ")"
		}
		state := "running"
		if st.Exited {
			state = fmt.Sprintf("exit %d", st.ExitCode)
		}
		fmt.Fprintf(w, "── %s [%s] %s\n", label, state, st.Command)
		if st.Output != "" {
			fmt.Fprint(w, st.Output)
			if st.Output[len(st.Output)-1] != '\n' {
				fmt.Fprintln(w)
			}
		}
	}
}
