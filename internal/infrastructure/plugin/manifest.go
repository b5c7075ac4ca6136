package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes one plugin directory's plugin.yaml: which registered
// Hooks factory to instantiate and its configuration (spec §4.5's plugin
// host, generalized from the teacher's sideload.Manifest (manifest.yaml,
// also yaml.v3-backed) to the lifecycle-hook vocabulary — onInit/onTick/
// beforeModel/... instead of a sideloaded process's runtime/transport/
// capability declarations).
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	Author      string `yaml:"author,omitempty"`

	// HookType selects the registered HookFactory (see builtin.go).
	// Plugins are native Go implementations of service.Hooks rather than
	// dynamically loaded executables, so this names a compiled-in
	// factory rather than an entry-point script.
	HookType string   `yaml:"hookType"`
	Tags     []string `yaml:"tags,omitempty"`
	Enabled  bool     `yaml:"enabled"`

	Config map[string]any `yaml:"config,omitempty"`
}

// LoadManifest loads and validates a plugin manifest from a directory.
func LoadManifest(pluginDir string) (*Manifest, error) {
	path := filepath.Join(pluginDir, "plugin.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no manifest found at %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks that required fields are present.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("missing required field: name")
	}
	if m.HookType == "" {
		return fmt.Errorf("missing required field: hookType")
	}
	return nil
}
