package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
host: 127.0.0.1
port: 9090
upstream-url: https://example.com/api/v1/
debug: true
request-log: true
default-provider: anthropic
api-keys:
  - key-one
  - key-two
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.UpstreamURL != "https://example.com/api/v1" {
		t.Errorf("UpstreamURL = %q, expected trailing slash trimmed", cfg.UpstreamURL)
	}
	if !cfg.Debug || !cfg.RequestLog {
		t.Error("Debug and RequestLog should be true")
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key-one" {
		t.Errorf("APIKeys = %v", cfg.APIKeys)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, "debug: false\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, expected default %d", cfg.Port, DefaultPort)
	}
	if cfg.UpstreamURL != DefaultUpstreamURL {
		t.Errorf("UpstreamURL = %q, expected default", cfg.UpstreamURL)
	}
	if cfg.Addr() != ":8317" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	if _, err := LoadConfig(missing); err == nil {
		t.Error("expected an error for a missing required config")
	}

	cfg, err := LoadConfigOptional(missing, true)
	if err != nil {
		t.Fatalf("LoadConfigOptional: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, expected default", cfg.Port)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := writeConfigFile(t, "port: [not a number\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROXY_UPSTREAM_URL", "https://other.example/v1/")
	t.Setenv("PROXY_DEFAULT_PROVIDER", "deepseek")
	t.Setenv("PROXY_API_KEY", "env-key")

	cfg := &Config{}
	cfg.applyDefaults()
	cfg.ApplyEnvOverrides()

	if cfg.UpstreamURL != "https://other.example/v1" {
		t.Errorf("UpstreamURL = %q", cfg.UpstreamURL)
	}
	if cfg.DefaultProvider != "deepseek" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "env-key" {
		t.Errorf("APIKeys = %v", cfg.APIKeys)
	}
}
