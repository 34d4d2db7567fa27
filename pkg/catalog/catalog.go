// Package catalog holds the named node presets a graph can refer to.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/ravi-parthasarathy/vpe/pkg/graph"
)

// Preset is a reusable node definition.
type Preset struct {
	Name        string `yaml:"name" json:"name"`
	Kind        string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Command     string `yaml:"command" json:"command"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type file struct {
	Presets []Preset `yaml:"presets"`
}

// Catalog maps preset names to presets.
type Catalog struct {
	presets map[string]Preset
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{presets: make(map[string]Preset)}
}

// Default returns the built-in presets.
func Default() *Catalog {
	c := New()
	for _, p := range []Preset{
		{Name: "vpp operator", Command: "ls <1 >1 >2", Description: "generic operator with one input and two outputs"},
		{Name: "Video Input", Command: "vid2vpp file.avi >1", Description: "decode a video file into a frame stream"},
		{Name: "Video Output", Command: "vpp2vid <1 file.avi", Description: "encode a frame stream into a video file"},
		{Name: "webcam", Command: "webcam2vpp >1", Description: "capture frames from the default camera"},
		{Name: "map", Command: `vp map <1 >1 "(x/255)^2*255"`, Description: "apply a per-pixel expression"},
		{Name: "window", Command: "vpp2win <1", Description: "display a frame stream in a window"},
	} {
		_ = c.Add(p)
	}
	return c
}

// Add inserts or replaces a preset. An empty kind means a shell command.
func (c *Catalog) Add(p Preset) error {
	if p.Name == "" {
		return fmt.Errorf("preset has no name")
	}
	if p.Command == "" {
		return fmt.Errorf("preset %q has no command", p.Name)
	}
	if p.Kind == "" {
		p.Kind = graph.KindCommand
	}
	c.presets[p.Name] = p
	return nil
}

// Lookup returns the preset called name.
func (c *Catalog) Lookup(name string) (Preset, bool) {
	p, ok := c.presets[name]
	return p, ok
}

// Preset implements graph.Presets.
func (c *Catalog) Preset(name string) (kind, command string, ok bool) {
	p, ok := c.presets[name]
	return p.Kind, p.Command, ok
}

// Names returns every preset name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.presets))
	for n := range c.presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of presets.
func (c *Catalog) Len() int { return len(c.presets) }

// Parse reads presets from YAML into c, replacing presets with the same name.
func (c *Catalog) Parse(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	for i, p := range f.Presets {
		if err := c.Add(p); err != nil {
			return fmt.Errorf("preset %d: %w", i, err)
		}
	}
	return nil
}

// Load returns the built-in presets overlaid with the ones in path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c := Default()
	if err := c.Parse(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Marshal encodes every preset as YAML, sorted by name.
func (c *Catalog) Marshal() ([]byte, error) {
	var f file
	for _, n := range c.Names() {
		f.Presets = append(f.Presets, c.presets[n])
	}
	return yaml.Marshal(f)
}
