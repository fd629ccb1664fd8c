package app

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"agentbridge/internal/domain"
)

// Registry backends.
const (
	RegistryModeLocal = "local"
	RegistryModeNacos = "nacos"
)

// Config is the full runtime configuration of the bridge.
type Config struct {
	Agent         AgentConfig         `mapstructure:"agent"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Endpoint      EndpointConfig      `mapstructure:"endpoint"`
	Remote        RemoteConfig        `mapstructure:"remote"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Snapshot      SnapshotConfig      `mapstructure:"snapshot"`
	Log           LogConfig           `mapstructure:"log"`
}

// AgentConfig describes the local agent.
type AgentConfig struct {
	Name          string `mapstructure:"name"`
	Version       string `mapstructure:"version"`
	Description   string `mapstructure:"description"`
	SysPrompt     string `mapstructure:"sysPrompt"`
	MaxTurns      int    `mapstructure:"maxTurns"`
	DisableModel  bool   `mapstructure:"disableModel"`
	DisableTools  bool   `mapstructure:"disableTools"`
	DisablePrompt bool   `mapstructure:"disablePrompt"`
}

// RegistryConfig selects and parameterizes the registry backend.
type RegistryConfig struct {
	Mode       string `mapstructure:"mode"`
	ServerAddr string `mapstructure:"serverAddr"`
	Namespace  string `mapstructure:"namespace"`
	Username   string `mapstructure:"username"`
	AccessKey  string `mapstructure:"accessKey"`
	LocalRoot  string `mapstructure:"localRoot"`
}

// EndpointConfig describes the endpoint advertised to peers.
type EndpointConfig struct {
	Register  bool   `mapstructure:"register"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Streaming bool   `mapstructure:"streaming"`
}

// RemoteConfig names the remote peer for outbound sessions. CardURL takes
// precedence over registry resolution when set.
type RemoteConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	CardURL string `mapstructure:"cardURL"`
}

// ObservabilityConfig configures the metrics endpoint. An empty listen
// address disables it.
type ObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

// SnapshotConfig configures the local config snapshot store. An empty path
// disables it.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setConfigDefaults(v)
	v.SetEnvPrefix("AGENTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.version", "1.0.0")
	v.SetDefault("agent.maxTurns", 10)
	v.SetDefault("registry.mode", RegistryModeLocal)
	v.SetDefault("registry.serverAddr", "")
	v.SetDefault("registry.namespace", "")
	v.SetDefault("registry.localRoot", "registry-data")
	v.SetDefault("endpoint.register", false)
	v.SetDefault("endpoint.port", 8080)
	v.SetDefault("endpoint.path", "/a2a")
	v.SetDefault("endpoint.streaming", false)
	v.SetDefault("observability.listenAddress", "")
	v.SetDefault("snapshot.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads the configuration file at path, layered under environment
// overrides with the AGENTBRIDGE_ prefix. An empty path uses defaults and
// environment only.
func LoadConfig(path string) (Config, error) {
	v := newConfigViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	name, err := domain.ValidateAgentName(c.Agent.Name)
	if err != nil {
		return err
	}
	c.Agent.Name = name

	switch c.Registry.Mode {
	case RegistryModeLocal:
		if c.Registry.LocalRoot == "" {
			return fmt.Errorf("registry.localRoot is required in %s mode", RegistryModeLocal)
		}
	case RegistryModeNacos:
		if c.Registry.ServerAddr == "" {
			return fmt.Errorf("registry.serverAddr is required in %s mode", RegistryModeNacos)
		}
	default:
		return fmt.Errorf("unknown registry mode %q", c.Registry.Mode)
	}

	if c.Endpoint.Register && c.Endpoint.Port <= 0 {
		return fmt.Errorf("endpoint.port must be positive when registration is enabled")
	}
	return nil
}
