// Package config loads the finchat server configuration from a YAML file
// with environment variable expansion and FINCHAT_* overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Inference InferenceConfig `yaml:"inference"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Auth      AuthConfig      `yaml:"auth"`
	Chats     ChatsConfig     `yaml:"chats"`
	Agents    []AgentConfig   `yaml:"agents"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the session store backend. An empty URL keeps
// sessions in memory (lost on restart).
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// InferenceConfig points at the OpenAI-compatible serving endpoint host.
type InferenceConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	MaxToolIterations int    `yaml:"max_tool_iterations"`
}

// CatalogConfig points at the workspace catalog used for agent descriptors.
type CatalogConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// AuthConfig configures user identity resolution.
type AuthConfig struct {
	// UserHeader is the forwarded-identity header set by the fronting
	// proxy (e.g. X-Forwarded-Email).
	UserHeader string `yaml:"user_header"`

	// JWTSecret enables HMAC bearer-token validation when set.
	JWTSecret string `yaml:"jwt_secret"`

	// DefaultUser is used when no identity is present. Local dev only.
	DefaultUser string `yaml:"default_user"`
}

// ChatsConfig bounds per-user session retention.
type ChatsConfig struct {
	MaxPerUser int `yaml:"max_per_user"`
}

// AgentConfig maps an agent id to its serving endpoint.
type AgentConfig struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	EndpointName string `yaml:"endpoint_name" json:"endpoint_name"`
}

// Default returns a configuration with sensible local-dev values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Inference: InferenceConfig{
			MaxToolIterations: 10,
		},
		Catalog: CatalogConfig{
			CacheTTL:       300 * time.Second,
			RefreshTimeout: 20 * time.Second,
		},
		Auth: AuthConfig{
			UserHeader: "X-Forwarded-Email",
		},
		Chats: ChatsConfig{
			MaxPerUser: 10,
		},
	}
}

// Load reads a YAML config file, expanding ${ENV} references. A missing
// path returns defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FINCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FINCHAT_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("FINCHAT_INFERENCE_BASE_URL"); v != "" {
		c.Inference.BaseURL = v
	}
	if v := os.Getenv("FINCHAT_INFERENCE_API_KEY"); v != "" {
		c.Inference.APIKey = v
	}
	if v := os.Getenv("FINCHAT_CATALOG_BASE_URL"); v != "" {
		c.Catalog.BaseURL = v
	}
	if v := os.Getenv("FINCHAT_CATALOG_TOKEN"); v != "" {
		c.Catalog.Token = v
	}
	if v := os.Getenv("FINCHAT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("FINCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Chats.MaxPerUser <= 0 {
		return fmt.Errorf("chats.max_per_user must be positive")
	}
	seen := map[string]bool{}
	for _, a := range c.Agents {
		if a.ID == "" || a.EndpointName == "" {
			return fmt.Errorf("agents entries need id and endpoint_name")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
