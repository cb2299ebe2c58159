// Package preset holds named output presets that bound the long side of the
// result when no explicit target dimensions are given.
package preset

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// Preset is a named size limit.
type Preset struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	MaxLongSide int    `toml:"max_long_side"` // 0 keeps the source size
}

// file is the on-disk layout of a presets file.
type file struct {
	Presets []Preset `toml:"preset"`
}

// Registry resolves preset identifiers.
type Registry struct {
	presets map[string]Preset
}

var builtin = []Preset{
	{ID: "original", Name: "Original size"},
	{ID: "uhd", Name: "4K", MaxLongSide: 3840},
	{ID: "fhd", Name: "Full HD", MaxLongSide: 1920},
	{ID: "hd", Name: "HD", MaxLongSide: 1280},
	{ID: "social", Name: "Social media", MaxLongSide: 1080},
	{ID: "web", Name: "Web", MaxLongSide: 800},
	{ID: "thumbnail", Name: "Thumbnail", MaxLongSide: 320},
}

// Default returns a registry with the built-in presets.
func Default() *Registry {
	r := &Registry{presets: make(map[string]Preset, len(builtin))}
	for _, p := range builtin {
		r.presets[p.ID] = p
	}
	return r
}

// LoadFile returns the built-in presets extended (or overridden) by the
// presets declared in a TOML file. An empty path yields the defaults.
func LoadFile(path string) (*Registry, error) {
	r := Default()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	if err := r.Merge(data); err != nil {
		return nil, err
	}

	return r, nil
}

// Merge adds the presets from TOML data to the registry.
func (r *Registry) Merge(data []byte) error {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse presets: %w", err)
	}

	for _, p := range f.Presets {
		if p.ID == "" {
			return fmt.Errorf("preset without id")
		}
		if p.MaxLongSide < 0 {
			return fmt.Errorf("preset %s: negative max_long_side", p.ID)
		}
		r.presets[p.ID] = p
	}

	return nil
}

// Lookup returns the preset with the given id.
func (r *Registry) Lookup(id string) (Preset, bool) {
	p, ok := r.presets[id]
	return p, ok
}

// MaxLongSide returns the long-side limit for id, or 0 when the preset is
// unknown or unbounded.
func (r *Registry) MaxLongSide(id string) int {
	if r == nil || id == "" {
		return 0
	}
	return r.presets[id].MaxLongSide
}

// All returns the presets sorted by id.
func (r *Registry) All() []Preset {
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
