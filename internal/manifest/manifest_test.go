package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigil-dev/vigil/internal/registry"
)

// writeManifest writes YAML content to a temp file and returns its path.
func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "components.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		yamlContent string
		wantCount   int
		wantErr     bool
		errContains string
	}{
		{
			name: "valid single component",
			yamlContent: `
components:
  - id: athena
    name: Athena
    type: service
    version: "1.2.0"
`,
			wantCount: 1,
		},
		{
			name: "valid multiple components",
			yamlContent: `
components:
  - id: athena
    name: Athena
    type: service
    version: "1.2.0"
  - id: hermes
    name: Hermes
    type: worker
    version: "0.9.1"
  - id: iris
    type: gateway
`,
			wantCount: 3,
		},
		{
			name: "component with all fields",
			yamlContent: `
components:
  - id: athena
    name: Athena
    type: service
    version: "1.2.0"
    capabilities: [chat, memory]
    dependencies: [hermes]
    metadata:
      region: eu-1
`,
			wantCount: 1,
		},
		{
			name:        "empty components array",
			yamlContent: "components: []\n",
			wantErr:     true,
			errContains: "no components found",
		},
		{
			name:        "empty file",
			yamlContent: "",
			wantErr:     true,
			errContains: "no components found",
		},
		{
			name: "duplicate id",
			yamlContent: `
components:
  - id: athena
    type: service
  - id: athena
    type: worker
`,
			wantErr:     true,
			errContains: "duplicate id",
		},
		{
			name: "missing id",
			yamlContent: `
components:
  - name: Athena
    type: service
`,
			wantErr:     true,
			errContains: "component_id",
		},
		{
			name: "id with whitespace",
			yamlContent: `
components:
  - id: "athena prod"
    type: service
`,
			wantErr:     true,
			errContains: "must not contain whitespace",
		},
		{
			name: "invalid dependency id",
			yamlContent: `
components:
  - id: athena
    dependencies: ["bad id"]
`,
			wantErr:     true,
			errContains: "dependency",
		},
		{
			name: "reserved metadata key",
			yamlContent: `
components:
  - id: athena
    metadata:
      $time: "2024-01-01"
`,
			wantErr:     true,
			errContains: "reserved",
		},
		{
			name:        "malformed yaml",
			yamlContent: "components: [\n",
			wantErr:     true,
			errContains: "parse manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, tt.yamlContent)

			descriptors, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			require.Len(t, descriptors, tt.wantCount)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read manifest")
}

func TestLoad_DescriptorFields(t *testing.T) {
	path := writeManifest(t, `
components:
  - id: athena
    name: Athena
    type: service
    version: "1.2.0"
    capabilities: [chat, memory]
    dependencies: [hermes, iris]
    metadata:
      region: eu-1
      tier: gold
`)

	descriptors, err := Load(path)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)

	desc := descriptors[0]
	require.Equal(t, registry.ComponentID("athena"), desc.ComponentID)
	require.Equal(t, "Athena", desc.ComponentName)
	require.Equal(t, "service", desc.ComponentType)
	require.Equal(t, "1.2.0", desc.Version)
	require.Equal(t, []string{"chat", "memory"}, desc.Capabilities)
	require.Equal(t, []registry.ComponentID{"hermes", "iris"}, desc.Dependencies)
	require.Equal(t, registry.Metadata{
		"region": registry.StringValue("eu-1"),
		"tier":   registry.StringValue("gold"),
	}, desc.Metadata)
}

func TestLoad_MinimalComponent(t *testing.T) {
	path := writeManifest(t, `
components:
  - id: hermes
`)

	descriptors, err := Load(path)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)

	desc := descriptors[0]
	require.Equal(t, registry.ComponentID("hermes"), desc.ComponentID)
	require.Empty(t, desc.ComponentName)
	require.Nil(t, desc.Capabilities)
	require.Nil(t, desc.Dependencies)
	require.Nil(t, desc.Metadata)
}

func TestLoad_PreservesDeclarationOrder(t *testing.T) {
	path := writeManifest(t, `
components:
  - id: zeta
  - id: alpha
  - id: mid
`)

	descriptors, err := Load(path)
	require.NoError(t, err)

	var ids []registry.ComponentID
	for _, d := range descriptors {
		ids = append(ids, d.ComponentID)
	}
	require.Equal(t, []registry.ComponentID{"zeta", "alpha", "mid"}, ids)
}

func TestLoad_DescriptorsRegister(t *testing.T) {
	path := writeManifest(t, `
components:
  - id: athena
    name: Athena
    type: service
    version: "1.2.0"
    dependencies: [hermes]
  - id: hermes
    name: Hermes
    type: service
    version: "0.9.1"
`)

	descriptors, err := Load(path)
	require.NoError(t, err)

	store := registry.NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range descriptors {
		reg, inst, err := registry.NewRegistration(&descriptors[i], now)
		require.NoError(t, err)
		require.NoError(t, store.Put(reg, inst))
	}
	require.Equal(t, map[registry.ComponentState]int{registry.StateStarting: 2}, store.Count())
}
