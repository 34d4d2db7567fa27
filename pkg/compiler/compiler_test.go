package compiler_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/vpe/pkg/channel"
	"github.com/ravi-parthasarathy/vpe/pkg/compiler"
	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type testGraph struct {
	t *testing.T
	g *graph.Graph
}

func newGraph(t *testing.T) *testGraph {
	return &testGraph{t: t, g: graph.New("t")}
}

func (tg *testGraph) node(id, command string) *testGraph {
	tg.t.Helper()
	_, err := tg.g.AddNodeWithID(id, "", command)
	require.NoError(tg.t, err)
	return tg
}

func (tg *testGraph) link(out string, outSlot graph.Slot, in string, inSlot graph.Slot) *testGraph {
	tg.t.Helper()
	require.NoError(tg.t, tg.g.AddConnection(graph.Connection{
		InputNode: in, InputSlot: inSlot, OutputNode: out, OutputSlot: outSlot,
	}))
	return tg
}

func dryAllocator() (*channel.Allocator, *channel.DryRunCreator) {
	dr := &channel.DryRunCreator{}
	return channel.NewAllocator("tmp", dr, nil), dr
}

func hasPlaceholder(s string) bool {
	for i := 0; i < graph.MaxSlots; i++ {
		if strings.Contains(s, string(graph.InputSlots[i])) || strings.Contains(s, string(graph.OutputSlots[i])) {
			return true
		}
	}
	return false
}

func unit(t *testing.T, p *compiler.Plan, id string) compiler.Unit {
	t.Helper()
	u, ok := p.NodeUnit(id)
	require.True(t, ok, "no unit for node %q", id)
	return u
}

// ─── scenarios ───────────────────────────────────────────────────────────────

func TestCompile_SingleEdge(t *testing.T) {
	tg := newGraph(t).
		node("A", "cmd <1 >1").
		node("B", "cmd2 <1").
		node("S", "src >1").
		link("S", ">1", "A", "<1").
		link("A", ">1", "B", "<1")
	alloc, dr := dryAllocator()

	p, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	require.NoError(t, err)

	require.Len(t, p.Units, 3)
	assert.Empty(t, p.Duplicators())
	a, b := unit(t, p, "A"), unit(t, p, "B")

	// Edge pass visits S's edge after A's because S was added last.
	assert.Equal(t, "cmd tmp/fifo1 tmp/fifo0", a.Command)
	assert.Equal(t, "cmd2 tmp/fifo0", b.Command)
	for _, c := range p.Commands() {
		assert.False(t, hasPlaceholder(c), c)
	}
	assert.Equal(t, []string{"tmp/fifo0", "tmp/fifo1"}, dr.Paths())
}

func TestCompile_FanOutTwo(t *testing.T) {
	tg := newGraph(t).
		node("A", "src >1").
		node("B", "sinkb <1").
		node("C", "sinkc <1").
		link("A", ">1", "B", "<1").
		link("A", ">1", "C", "<1")
	alloc, _ := dryAllocator()

	p, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	require.NoError(t, err)

	dups := p.Duplicators()
	require.Len(t, dups, 1)
	require.Len(t, p.Units, 4)
	assert.Equal(t, compiler.UnitDuplicator, p.Units[0].Kind, "duplicators are collected before their producer")

	// fifo0 = A->B, fifo1 = A->C, fifo2 = chain head.
	assert.Equal(t, "vp dup tmp/fifo2 tmp/fifo1 tmp/fifo0", dups[0].Command)
	assert.Equal(t, "A", dups[0].NodeID)
	assert.Equal(t, graph.Slot(">1"), dups[0].Slot)
	assert.Equal(t, "src tmp/fifo2", unit(t, p, "A").Command, "producer writes the duplicator's input")
	assert.Equal(t, "sinkb tmp/fifo0", unit(t, p, "B").Command)
	assert.Equal(t, "sinkc tmp/fifo1", unit(t, p, "C").Command)
}

func TestCompile_FanOutChain(t *testing.T) {
	tg := newGraph(t).node("A", "src >1")
	consumers := []string{"B", "C", "D", "E"}
	for _, id := range consumers {
		tg.node(id, "sink <1").link("A", ">1", id, "<1")
	}
	alloc, _ := dryAllocator()

	p, err := compiler.Compile(tg.g, alloc, compiler.Options{
		DuplicatorTemplate: "dup {{.From}} {{.To}} {{.To2}}",
	})
	require.NoError(t, err)

	dups := p.Duplicators()
	require.Len(t, dups, len(consumers)-1)

	// Follow the chain from the producer's channel; every consumer channel
	// must be reached exactly once.
	type dup struct{ to, to2 string }
	byFrom := map[string]dup{}
	for _, d := range dups {
		f := strings.Fields(d.Command)
		require.Len(t, f, 4)
		_, seen := byFrom[f[1]]
		require.False(t, seen, "channel %s read by two duplicators", f[1])
		byFrom[f[1]] = dup{to: f[2], to2: f[3]}
	}
	reached := map[string]int{}
	head := strings.TrimPrefix(unit(t, p, "A").Command, "src ")
	for {
		d, ok := byFrom[head]
		if !ok {
			reached[head]++
			break
		}
		reached[d.to2]++
		head = d.to
	}
	for _, id := range consumers {
		ch := strings.TrimPrefix(unit(t, p, id).Command, "sink ")
		assert.Equal(t, 1, reached[ch], "consumer %s channel %s", id, ch)
	}
	assert.Len(t, reached, len(consumers), "no channel shared between consumers")
}

func TestCompile_MultipleInputsAndOutputs(t *testing.T) {
	tg := newGraph(t).
		node("A", "gen >1 >2").
		node("M", "mix <1 <2 >1 | tee <1").
		node("Z", "out <1").
		link("A", ">1", "M", "<1").
		link("A", ">2", "M", "<2").
		link("M", ">1", "Z", "<1")
	alloc, _ := dryAllocator()

	p, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	require.NoError(t, err)
	assert.Equal(t, "gen tmp/fifo0 tmp/fifo1", unit(t, p, "A").Command)
	assert.Equal(t, "mix tmp/fifo0 tmp/fifo1 tmp/fifo2 | tee tmp/fifo0", unit(t, p, "M").Command,
		"every occurrence of a token is replaced")
}

func TestCompile_ZeroSlotNode(t *testing.T) {
	tg := newGraph(t).node("L", "ls -l")
	alloc, dr := dryAllocator()
	p, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ls -l"}, p.Commands())
	assert.Empty(t, dr.Paths())
}

// ─── failures ────────────────────────────────────────────────────────────────

func TestCompile_UnresolvedInput(t *testing.T) {
	tg := newGraph(t).
		node("S", "src >1").
		node("D", "sink <1").
		node("K", "keep <1").
		link("S", ">1", "K", "<1")
	alloc, _ := dryAllocator()

	p, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	assert.Nil(t, p)
	var uie *compiler.UnresolvedInputError
	require.ErrorAs(t, err, &uie)
	assert.Equal(t, "D", uie.NodeID)
	assert.Equal(t, graph.Slot("<1"), uie.Slot)
}

func TestCompile_UnresolvedOutput(t *testing.T) {
	tg := newGraph(t).node("S", "src >1 >2").node("K", "keep <1").link("S", ">1", "K", "<1")
	alloc, _ := dryAllocator()

	_, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	var uoe *compiler.UnresolvedOutputError
	require.ErrorAs(t, err, &uoe)
	assert.Equal(t, "S", uoe.NodeID)
	assert.Equal(t, graph.Slot(">2"), uoe.Slot)
}

type failingCreator struct{ err error }

func (c failingCreator) Create(string) error { return c.err }
func (c failingCreator) Remove(string) error { return nil }

func TestCompile_ResourceCreationAbortsInEdgePass(t *testing.T) {
	tg := newGraph(t).node("S", "src >1").node("K", "keep <1").link("S", ">1", "K", "<1")
	denied := errors.New("permission denied")
	alloc := channel.NewAllocator("tmp", failingCreator{err: denied}, nil)

	p, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	assert.Nil(t, p)
	var rce *channel.ResourceCreationError
	require.ErrorAs(t, err, &rce)
	assert.ErrorIs(t, err, denied)
	assert.Contains(t, err.Error(), "S>1 -> K<1")
}

// emptyAllocator returns empty names without error.
type emptyAllocator struct{}

func (emptyAllocator) GetOrCreate(channel.Key) (string, error) { return "", nil }
func (emptyAllocator) CreateAnonymous() (string, error)        { return "", nil }

func TestCompile_EmptyChannelName(t *testing.T) {
	tg := newGraph(t).node("S", "src >1").node("K", "keep <1").link("S", ">1", "K", "<1")
	_, err := compiler.Compile(tg.g, emptyAllocator{}, compiler.Options{})
	var cae *compiler.ChannelAllocationError
	require.ErrorAs(t, err, &cae)
	assert.Equal(t, "S", cae.NodeID)
}

func TestCompile_UnknownKind(t *testing.T) {
	g := graph.New("t")
	_, err := g.AddNodeWithID("x", "hologram", "beam")
	require.NoError(t, err)
	alloc, _ := dryAllocator()

	_, err = compiler.Compile(g, alloc, compiler.Options{})
	var uke *compiler.UnknownKindError
	require.ErrorAs(t, err, &uke)
	assert.Equal(t, "hologram", uke.Kind)
}

func TestCompile_BadDuplicatorTemplate(t *testing.T) {
	tg := newGraph(t).node("L", "ls")
	alloc, _ := dryAllocator()
	_, err := compiler.Compile(tg.g, alloc, compiler.Options{DuplicatorTemplate: "dup {{.From"})
	assert.ErrorContains(t, err, "duplicator template")
}

// ─── re-runs and extension ───────────────────────────────────────────────────

func TestCompile_RecompileReusesChannels(t *testing.T) {
	tg := newGraph(t).node("A", "src >1").node("B", "sink <1").link("A", ">1", "B", "<1")
	alloc, dr := dryAllocator()

	first, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	require.NoError(t, err)
	second, err := compiler.Compile(tg.g, alloc, compiler.Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Commands(), second.Commands())
	assert.Len(t, dr.Paths(), 1, "no new channel for an existing edge")
}

func TestCompile_CustomStage(t *testing.T) {
	reg := compiler.DefaultRegistry()
	reg.Register("tee", compiler.StageFunc(func(ctx *compiler.Context, n *graph.Node) error {
		cmd, err := compiler.Resolve(ctx, n)
		if err != nil {
			return err
		}
		ctx.Collect(compiler.Unit{NodeID: n.ID, Kind: compiler.UnitNode, Command: "nice " + cmd})
		return nil
	}))

	g := graph.New("t")
	_, err := g.AddNodeWithID("a", "", "src >1")
	require.NoError(t, err)
	_, err = g.AddNodeWithID("b", "tee", "sink <1")
	require.NoError(t, err)
	require.NoError(t, g.AddConnection(graph.Connection{InputNode: "b", InputSlot: "<1", OutputNode: "a", OutputSlot: ">1"}))

	alloc, _ := dryAllocator()
	p, err := compiler.Compile(g, alloc, compiler.Options{Registry: reg})
	require.NoError(t, err)
	assert.Equal(t, "nice sink tmp/fifo0", unit(t, p, "b").Command)
}

func TestUnitKindString(t *testing.T) {
	assert.Equal(t, "node", compiler.UnitNode.String())
	assert.Equal(t, "dup", compiler.UnitDuplicator.String())
}
