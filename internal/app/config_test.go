package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
agent:
  name: alpha
  sysPrompt: "You are a helpful assistant."
registry:
  mode: local
  localRoot: /tmp/agentbridge-registry
endpoint:
  register: true
  host: 10.0.0.5
  port: 9000
observability:
  listenAddress: ":9102"
snapshot:
  path: /tmp/agentbridge.db
log:
  level: debug
  development: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "alpha", cfg.Agent.Name)
	require.Equal(t, "You are a helpful assistant.", cfg.Agent.SysPrompt)
	require.Equal(t, 10, cfg.Agent.MaxTurns, "default applies")
	require.Equal(t, RegistryModeLocal, cfg.Registry.Mode)
	require.Equal(t, "/tmp/agentbridge-registry", cfg.Registry.LocalRoot)
	require.True(t, cfg.Endpoint.Register)
	require.Equal(t, 9000, cfg.Endpoint.Port)
	require.Equal(t, "/a2a", cfg.Endpoint.Path, "default applies")
	require.Equal(t, ":9102", cfg.Observability.ListenAddress)
	require.Equal(t, "/tmp/agentbridge.db", cfg.Snapshot.Path)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.Development)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
agent:
  name: alpha
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	want := Config{
		Agent: AgentConfig{
			Name:     "alpha",
			Version:  "1.0.0",
			MaxTurns: 10,
		},
		Registry: RegistryConfig{
			Mode:      RegistryModeLocal,
			LocalRoot: "registry-data",
		},
		Endpoint: EndpointConfig{
			Port: 8080,
			Path: "/a2a",
		},
		Log: LogConfig{Level: "info"},
	}
	require.Empty(t, cmp.Diff(want, cfg))
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AGENTBRIDGE_REGISTRY_LOCALROOT", "/srv/registry")

	path := writeConfig(t, `
agent:
  name: alpha
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/registry", cfg.Registry.LocalRoot)
}

func TestLoadConfigRejectsMissingName(t *testing.T) {
	path := writeConfig(t, `
registry:
  mode: local
`)

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "agent name")
}

func TestLoadConfigNacosRequiresServerAddr(t *testing.T) {
	path := writeConfig(t, `
agent:
  name: alpha
registry:
  mode: nacos
`)

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "serverAddr")
}

func TestLoadConfigUnknownMode(t *testing.T) {
	path := writeConfig(t, `
agent:
  name: alpha
registry:
  mode: consul
`)

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "unknown registry mode")
}

func TestValidateNormalizesAgentName(t *testing.T) {
	cfg := Config{
		Agent:    AgentConfig{Name: "my agent"},
		Registry: RegistryConfig{Mode: RegistryModeLocal, LocalRoot: "data"},
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "my_agent", cfg.Agent.Name)
}
