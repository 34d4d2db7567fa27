package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ─── TestWriteReport ──────────────────────────────────────────────────────────

func TestWriteReport_WritesJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	rep := runReport{
		Graph:    "demo",
		Started:  time.Unix(0, 0).UTC(),
		Finished: time.Unix(1, 0).UTC(),
		Channels: []string{"tmp/fifo0"},
		Error:    "boom",
	}
	if err := writeReport(out, rep); err != nil {
		t.Fatalf("writeReport: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["graph"] != "demo" {
		t.Errorf("graph = %v, want demo", got["graph"])
	}
	if got["error"] != "boom" {
		t.Errorf("error = %v, want boom", got["error"])
	}
}

func TestWriteReport_NoOp(t *testing.T) {
	if err := writeReport("", runReport{}); err != nil {
		t.Fatalf("expected no error for empty path, got: %v", err)
	}
}

func TestWriteReport_BadPath(t *testing.T) {
	if err := writeReport("/nonexistent/dir/report.json", runReport{}); err == nil {
		t.Fatal("expected error writing to bad path")
	}
}

// ─── TestInitLogger ───────────────────────────────────────────────────────────

func TestInitLogger_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "DEBUG", "INFO"} {
		for _, dev := range []bool{false, true} {
			if _, err := initLogger(lvl, dev); err != nil {
				t.Errorf("initLogger(%q, %v): unexpected error: %v", lvl, dev, err)
			}
		}
	}
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	if _, err := initLogger("verbose", false); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// ─── rendering ────────────────────────────────────────────────────────────────

func TestTopoOrder_Demo(t *testing.T) {
	g, err := demoGraph()
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(topoOrder(g), ",")
	if got != "webcam,map,window" {
		t.Errorf("topoOrder = %s", got)
	}
}

func TestTopoOrder_Cycle(t *testing.T) {
	g := graph.New("loop")
	for _, id := range []string{"a", "b"} {
		if _, err := g.AddNodeWithID(id, "", "f <1 >1"); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range []graph.Connection{
		{InputNode: "b", InputSlot: "<1", OutputNode: "a", OutputSlot: ">1"},
		{InputNode: "a", InputSlot: "<1", OutputNode: "b", OutputSlot: ">1"},
	} {
		if err := g.AddConnection(c); err != nil {
			t.Fatal(err)
		}
	}
	if got := strings.Join(topoOrder(g), ","); got != "a,b" {
		t.Errorf("topoOrder = %s, want a,b", got)
	}
}

func TestRenderText(t *testing.T) {
	g, err := demoGraph()
	if err != nil {
		t.Fatal(err)
	}
	text := renderText(g)
	for _, want := range []string{
		"Graph: demo  (3 nodes, 2 connections)",
		"webcam2vpp >1",
		"webcam>1  →  map<1",
		"1→1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("renderText missing %q:\n%s", want, text)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 3); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}

// ─── commands ─────────────────────────────────────────────────────────────────

func TestDemoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.dot")
	if _, err := execute(t, "demo", "-o", path); err != nil {
		t.Fatalf("demo: %v", err)
	}
	out, err := execute(t, "lint", path)
	if err != nil {
		t.Fatalf("lint demo: %v\n%s", err, out)
	}
	if !strings.Contains(out, `OK: graph "demo" is valid (3 nodes, 2 connections)`) {
		t.Errorf("unexpected lint output: %s", out)
	}
}

func TestCompileCmd(t *testing.T) {
	g, err := demoGraph()
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "demo.dot", g.DOT())

	out, err := execute(t, "compile", "--fifo-dir", "/run/vpe", path)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := strings.Join([]string{
		"mkfifo /run/vpe/fifo0",
		"mkfifo /run/vpe/fifo1",
		"webcam2vpp /run/vpe/fifo0",
		`vp map /run/vpe/fifo0 /run/vpe/fifo1 "(x/255)^2*255"`,
		"vpp2win /run/vpe/fifo1",
	}, "\n") + "\n"
	if out != want {
		t.Errorf("compile output:\n%s\nwant:\n%s", out, want)
	}
}

func TestCompileCmd_Unresolved(t *testing.T) {
	path := writeFile(t, "bad.dot", `digraph bad { sink [cmd="cat <1"] }`)
	if _, err := execute(t, "compile", path); err == nil || !strings.Contains(err.Error(), "input slot <1 not connected") {
		t.Fatalf("expected unresolved input error, got %v", err)
	}
}

func TestLintCmd_ReportsErrors(t *testing.T) {
	path := writeFile(t, "bad.dot", `digraph bad {
		src  [cmd="gen >1 >3"]
		sink [cmd="cat <1"]
	}`)
	out, err := execute(t, "lint", path)
	if err == nil {
		t.Fatal("expected lint failure")
	}
	for _, want := range []string{"warning:", "placeholder >3 ignored", `error: node "sink": input slot <1 not connected`} {
		if !strings.Contains(out, want) {
			t.Errorf("lint output missing %q:\n%s", want, out)
		}
	}
}

func TestNodesCmd(t *testing.T) {
	cat := writeFile(t, "nodes.yaml", "presets:\n  - name: blur\n    command: vp blur <1 >1\n")
	out, err := execute(t, "nodes", "--catalog", cat)
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	for _, want := range []string{"blur", "vp blur <1 >1", "Video Input", "webcam2vpp >1"} {
		if !strings.Contains(out, want) {
			t.Errorf("nodes output missing %q:\n%s", want, out)
		}
	}
}

func TestGraphCmd_Formats(t *testing.T) {
	path := writeFile(t, "g.dot", `digraph g {
		cam [preset="webcam"]
		win [preset="window"]
		cam -> win
	}`)
	out, err := execute(t, "graph", path)
	if err != nil || !strings.Contains(out, "cam>1  →  win<1") {
		t.Fatalf("graph text: %v\n%s", err, out)
	}
	out, err = execute(t, "graph", "--format", "dot", path)
	if err != nil || !strings.Contains(out, `cmd="webcam2vpp >1"`) {
		t.Fatalf("graph dot: %v\n%s", err, out)
	}
	if _, err := execute(t, "graph", "--format", "svg", path); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRunCmd_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, "pair.dot", `digraph pair {
		a [cmd="printf hello > >1"]
		b [cmd="cat <1"]
		a -> b
	}`)
	report := filepath.Join(dir, "report.json")

	out, err := execute(t, "run", "--fifo-dir", filepath.Join(dir, "fifos"), "--console", "--report", report, path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("console output missing node output:\n%s", out)
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep runReport
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if len(rep.Units) != 2 || rep.Units[1].Output != "hello" || rep.Error != "" {
		t.Errorf("unexpected report: %+v", rep)
	}
	if _, err := os.Stat(filepath.Join(dir, "fifos", "fifo0")); !os.IsNotExist(err) {
		t.Errorf("fifo left behind after run: %v", err)
	}
}

func TestRunCmd_InvalidGraph(t *testing.T) {
	path := writeFile(t, "bad.dot", `digraph bad { sink [cmd="cat <1"] }`)
	_, err := execute(t, "run", "--fifo-dir", t.TempDir(), path)
	if err == nil || !strings.Contains(err.Error(), "invalid graph") {
		t.Fatalf("expected invalid graph error, got %v", err)
	}
}
