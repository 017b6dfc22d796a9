// Package config provides configuration management for the proxy server.
// It handles loading and parsing the YAML configuration file and provides
// structured access to application settings including the listen address,
// upstream URL, debug settings, and client API keys.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the listen port used when the configuration does not
	// set one.
	DefaultPort = 8317

	// DefaultUpstreamURL is the OpenRouter API base used when the
	// configuration does not set one.
	DefaultUpstreamURL = "https://openrouter.ai/api/v1"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the server binds to. Empty means all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the TCP port the server listens on.
	Port int `yaml:"port" json:"port"`

	// UpstreamURL is the base URL of the upstream OpenAI-compatible API.
	UpstreamURL string `yaml:"upstream-url" json:"upstream-url"`

	// UpstreamAPIKey authenticates the proxy against the upstream. When
	// empty, the client's own credential is forwarded.
	UpstreamAPIKey string `yaml:"upstream-api-key" json:"upstream-api-key"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile redirects application logs to rotating files instead
	// of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// RequestLog enables or disables detailed request logging.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// LogsMaxTotalSizeMB caps the combined size of files in the log
	// directory. Zero disables the limit.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// DefaultProvider names a provider directive applied when neither the
	// request body nor the headers select one.
	DefaultProvider string `yaml:"default-provider" json:"default-provider"`

	// APIKeys is a list of keys for authenticating clients to this proxy
	// server. Empty means no client authentication.
	APIKeys []string `yaml:"api-keys" json:"api-keys"`
}

// LoadConfig reads the YAML file at configFile and returns the parsed
// configuration with defaults applied.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional behaves like LoadConfig but, when optional is true, a
// missing file yields the default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.UpstreamURL) == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}
	c.UpstreamURL = strings.TrimRight(c.UpstreamURL, "/")
}

// ApplyEnvOverrides lets environment variables take precedence over file
// values. Only variables that are set and non-empty override.
func (c *Config) ApplyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("PROXY_HOST")); v != "" {
		c.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PROXY_UPSTREAM_URL")); v != "" {
		c.UpstreamURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); v != "" {
		c.UpstreamAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PROXY_DEFAULT_PROVIDER")); v != "" {
		c.DefaultProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("PROXY_API_KEY")); v != "" {
		c.APIKeys = append(c.APIKeys, v)
	}
}

// Addr returns the host:port string the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
