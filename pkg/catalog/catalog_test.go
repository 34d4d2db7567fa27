package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/vpe/pkg/catalog"
	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

func TestDefault(t *testing.T) {
	c := catalog.Default()
	assert.Equal(t, []string{"Video Input", "Video Output", "map", "vpp operator", "webcam", "window"}, c.Names())

	p, ok := c.Lookup("vpp operator")
	require.True(t, ok)
	assert.Equal(t, "ls <1 >1 >2", p.Command)
	assert.Equal(t, graph.KindCommand, p.Kind)

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestAdd_Rejects(t *testing.T) {
	c := catalog.New()
	assert.Error(t, c.Add(catalog.Preset{Command: "ls"}))
	assert.Error(t, c.Add(catalog.Preset{Name: "x"}))
	assert.Zero(t, c.Len())
}

const custom = `
presets:
  - name: blur
    command: vp blur <1 >1 3
    description: box blur
  - name: Video Input
    command: vid2vpp movie.mkv >1
  - name: sink
    kind: debug
    command: cat <1
`

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o600))

	c, err := catalog.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Len())

	p, _ := c.Lookup("Video Input")
	assert.Equal(t, "vid2vpp movie.mkv >1", p.Command, "file presets replace built-ins")

	kind, cmd, ok := c.Preset("sink")
	require.True(t, ok)
	assert.Equal(t, "debug", kind)
	assert.Equal(t, "cat <1", cmd)

	p, _ = c.Lookup("blur")
	assert.Equal(t, "box blur", p.Description)
}

func TestLoad_Errors(t *testing.T) {
	_, err := catalog.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read catalog")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets:\n  - name: x\n"), 0o600))
	_, err = catalog.Load(path)
	assert.ErrorContains(t, err, `preset "x" has no command`)
}

func TestMarshalParse(t *testing.T) {
	data, err := catalog.Default().Marshal()
	require.NoError(t, err)

	c := catalog.New()
	require.NoError(t, c.Parse(data))
	assert.Equal(t, catalog.Default().Names(), c.Names())
	p, _ := c.Lookup("map")
	assert.Equal(t, `vp map <1 >1 "(x/255)^2*255"`, p.Command)
}

func TestPresetsResolveInDOT(t *testing.T) {
	g, err := graph.ParseDOT(`digraph p {
		cam [preset="webcam"]
		win [preset="window"]
		cam -> win
	}`, graph.ParseOptions{Presets: catalog.Default()})
	require.NoError(t, err)
	assert.Equal(t, "webcam2vpp >1", g.Node("cam").Command)
	assert.Equal(t, 1, g.Node("win").Inputs)
	assert.Len(t, g.Connections(), 1)
}
