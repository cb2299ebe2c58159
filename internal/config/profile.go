package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aliskhannn/imgshift/internal/model"
)

// Profiles are named processing option sets.
type Profiles map[string]model.ProcessingOptions

// LoadProfiles reads a YAML document of named option profiles.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes profiles, filling unset fields from
// model.DefaultOptions and validating each entry.
func ParseProfiles(data []byte) (Profiles, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	out := make(Profiles, len(raw))
	for name, node := range raw {
		opts := model.DefaultOptions()
		if err := node.Decode(&opts); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		opts, err := opts.Validate()
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		out[name] = opts
	}

	return out, nil
}

// Options returns the named profile, or the defaults for an empty name.
func (p Profiles) Options(name string) (model.ProcessingOptions, error) {
	if name == "" {
		return model.DefaultOptions(), nil
	}
	opts, ok := p[name]
	if !ok {
		return model.ProcessingOptions{}, fmt.Errorf("unknown profile %q", name)
	}
	return opts, nil
}
