// Package manifest loads YAML descriptor files used to seed the registry
// with known components before any of them report in.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vigil-dev/vigil/internal/registry"
)

// File is the root structure for a component manifest.
type File struct {
	Components []ComponentDef `yaml:"components"`
}

// ComponentDef defines a single component in YAML.
type ComponentDef struct {
	ID           string            `yaml:"id"`           // e.g., "athena"; required and unique within the file
	Name         string            `yaml:"name"`         // Human-readable name
	Type         string            `yaml:"type"`         // e.g., "service", "worker", "gateway"
	Version      string            `yaml:"version"`      // e.g., "1.2.0"
	Capabilities []string          `yaml:"capabilities"` // Declared capabilities for filtering
	Dependencies []string          `yaml:"dependencies"` // Component ids this component depends on
	Metadata     map[string]string `yaml:"metadata"`     // Static annotations; typed values arrive via heartbeats
}

// Load reads a manifest file and converts it into registration descriptors.
// Component ids must be non-empty and unique within the file; every
// descriptor is validated before it is returned.
func Load(path string) ([]registry.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if len(file.Components) == 0 {
		return nil, fmt.Errorf("no components found in manifest %s", path)
	}

	seen := make(map[registry.ComponentID]bool, len(file.Components))
	descriptors := make([]registry.Descriptor, 0, len(file.Components))
	for _, def := range file.Components {
		desc, err := buildDescriptor(def)
		if err != nil {
			return nil, fmt.Errorf("component %q in %s: %w", def.ID, path, err)
		}
		if seen[desc.ComponentID] {
			return nil, fmt.Errorf("component %q in %s: duplicate id", def.ID, path)
		}
		seen[desc.ComponentID] = true
		descriptors = append(descriptors, desc)
	}

	return descriptors, nil
}

// buildDescriptor converts a ComponentDef into a registry.Descriptor.
func buildDescriptor(def ComponentDef) (registry.Descriptor, error) {
	var deps []registry.ComponentID
	for _, dep := range def.Dependencies {
		deps = append(deps, registry.ComponentID(dep))
	}

	var meta registry.Metadata
	if len(def.Metadata) > 0 {
		meta = make(registry.Metadata, len(def.Metadata))
		for k, v := range def.Metadata {
			meta[k] = registry.StringValue(v)
		}
	}

	desc := registry.Descriptor{
		ComponentID:   registry.ComponentID(def.ID),
		ComponentName: def.Name,
		ComponentType: def.Type,
		Version:       def.Version,
		Capabilities:  def.Capabilities,
		Dependencies:  deps,
		Metadata:      meta,
	}
	if err := desc.Validate(); err != nil {
		return registry.Descriptor{}, err
	}
	return desc, nil
}
