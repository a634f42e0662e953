package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Workspace   WorkspaceConfig        `yaml:"workspace"`
	Specialists []SpecialistDefinition `yaml:"specialists"`
	Router      RouterConfig           `yaml:"router"`
	Engine      EngineConfig           `yaml:"engine"`
	NATS        NATSConfig             `yaml:"nats"`
	Store       StoreConfig            `yaml:"store"`
	Runtime     RuntimeConfig          `yaml:"runtime"`
	Web         WebConfig              `yaml:"web"`
	Scheduler   SchedulerConfig        `yaml:"scheduler"`
	Anthropic   AnthropicConfig        `yaml:"anthropic"`
}

// SpecialistDefinition is the static description of one specialist agent.
type SpecialistDefinition struct {
	Name         string            `yaml:"name"`
	Role         string            `yaml:"role"`
	Capabilities []string          `yaml:"capabilities"`
	Model        string            `yaml:"model"`
	Temperature  float64           `yaml:"temperature"`
	SystemPrompt string            `yaml:"system_prompt"`
	Env          map[string]string `yaml:"env"`
	Remote       bool              `yaml:"remote"` // runs out of process, invoked over the bus
}

type WorkspaceConfig struct {
	Name     string `yaml:"name"`
	BasePort int    `yaml:"base_port"`
	DataDir  string `yaml:"data_dir"`
}

type RouterConfig struct {
	DefaultRole string `yaml:"default_role"`
}

type EngineConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout"`
	MaxRetained int           `yaml:"max_retained"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type RuntimeConfig struct {
	Image      string `yaml:"image"`
	MaxRunning int    `yaml:"max_running"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	MaxTokens int64  `yaml:"max_tokens"`
}

func defaults() Config {
	return Config{
		Workspace: WorkspaceConfig{
			Name:     "default",
			BasePort: 9000,
			DataDir:  "data",
		},
		Specialists: DefaultSpecialists(),
		Router: RouterConfig{
			DefaultRole: "assistant",
		},
		Engine: EngineConfig{
			StepTimeout: 60 * time.Second,
			MaxRetained: 1024,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/maestros.db",
		},
		Runtime: RuntimeConfig{
			Image:      "maestros-agent:latest",
			MaxRunning: 8,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Anthropic: AnthropicConfig{
			MaxTokens: 4096,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("MAESTROS_CONFIG")
	if path == "" {
		path = "config/maestros.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Specialists))
	for _, def := range c.Specialists {
		if def.Name == "" {
			return fmt.Errorf("specialist with empty name")
		}
		if seen[def.Name] {
			return fmt.Errorf("duplicate specialist name %q in config", def.Name)
		}
		seen[def.Name] = true
	}
	if c.Workspace.BasePort <= 0 || c.Workspace.BasePort > 65335 {
		return fmt.Errorf("base_port %d out of range", c.Workspace.BasePort)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("MAESTROS_BASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Workspace.BasePort = port
		}
	}
	if v := os.Getenv("MAESTROS_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("MAESTROS_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("MAESTROS_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("MAESTROS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MAESTROS_DATA_DIR"); v != "" {
		cfg.Workspace.DataDir = v
	}
}
