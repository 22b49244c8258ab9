package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finchat.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Chats.MaxPerUser != 10 {
		t.Errorf("expected default chat bound, got %d", cfg.Chats.MaxPerUser)
	}
	if cfg.Catalog.CacheTTL != 300*time.Second {
		t.Errorf("expected default cache TTL, got %v", cfg.Catalog.CacheTTL)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 30s
log:
  level: debug
  format: json
database:
  url: postgres://localhost/finchat
inference:
  base_url: https://serving.example.com/api
  max_tool_iterations: 5
catalog:
  base_url: https://catalog.example.com
  cache_ttl: 60s
chats:
  max_per_user: 5
agents:
  - id: finance
    name: Finance Assistant
    endpoint_name: fin-ep
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr not parsed: %q", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown timeout not parsed: %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.URL != "postgres://localhost/finchat" {
		t.Errorf("database url not parsed: %q", cfg.Database.URL)
	}
	if cfg.Inference.MaxToolIterations != 5 {
		t.Errorf("iterations not parsed: %d", cfg.Inference.MaxToolIterations)
	}
	if cfg.Catalog.CacheTTL != 60*time.Second {
		t.Errorf("cache ttl not parsed: %v", cfg.Catalog.CacheTTL)
	}
	if cfg.Chats.MaxPerUser != 5 {
		t.Errorf("chat bound not parsed: %d", cfg.Chats.MaxPerUser)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].EndpointName != "fin-ep" {
		t.Errorf("agents not parsed: %+v", cfg.Agents)
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_FINCHAT_TOKEN", "expanded-token")
	path := writeConfig(t, `
catalog:
  token: ${TEST_FINCHAT_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Catalog.Token != "expanded-token" {
		t.Errorf("env reference not expanded: %q", cfg.Catalog.Token)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FINCHAT_ADDR", ":7070")
	t.Setenv("FINCHAT_DATABASE_URL", "postgres://env/db")
	t.Setenv("FINCHAT_LOG_LEVEL", "warn")

	path := writeConfig(t, `
server:
  addr: ":9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("env must override file, got %q", cfg.Server.Addr)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("database env override missing: %q", cfg.Database.URL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level env override missing: %q", cfg.Log.Level)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"duplicate agent id",
			"agents:\n  - id: a\n    endpoint_name: e1\n  - id: a\n    endpoint_name: e2\n",
			"duplicate agent id",
		},
		{
			"missing endpoint name",
			"agents:\n  - id: a\n",
			"endpoint_name",
		},
		{
			"bad chat bound",
			"chats:\n  max_per_user: 0\n",
			"max_per_user",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
