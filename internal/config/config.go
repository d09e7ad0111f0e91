// Package config loads the gateway's process configuration (spec
// §6.3): a YAML file plus environment variable overrides, validated
// once at startup. Grounded on the teacher's
// setDefaults → loadFromFile → loadFromEnv → validate() shape
// (internal/config/config.go), narrowed to the spec's configuration
// table and stripped of the teacher's provider/router-strategy/
// rate-limit settings (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// Config is the complete process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Registry RegistryConfig `yaml:"registry"`
	Images   ImagesConfig   `yaml:"images"`
	UI       UIConfig       `yaml:"ui"`
	Backend  BackendTLS     `yaml:"backend_tls"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// AuthConfig holds the bearer-token shared secret (spec §4.10,
// GATEWAY_BEARER_TOKEN).
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
}

// RegistryConfig names the declarative backend document. The
// health-probe cadence is set by HealthConfig.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// HealthConfig controls the background health checker's sweep cadence
// (spec §4.3: "fixed interval").
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ImagesConfig holds the images settings (spec §6.3: IMAGES_BACKEND,
// IMAGES_BACKEND_CLASS, IMAGES_HTTP_BASE_URL, IMAGES_OPENAI_MODEL).
// They are loaded and validated here; nothing outside this package
// reads them. The images handler takes its upstream base URL and
// protocol from the registry backend the router picks.
type ImagesConfig struct {
	Backend      string `yaml:"backend"`       // "mock", "http_a1111", "http_openai_images"
	BackendClass string `yaml:"backend_class"` // registry class serving images
	HTTPBaseURL  string `yaml:"http_base_url"`
	OpenAIModel  string `yaml:"openai_model"`
}

// UIConfig governs the static image-serving and IP-gated UI subtree
// (spec §6.3: UI_IMAGE_DIR, UI_IP_ALLOWLIST).
type UIConfig struct {
	ImageDir     string   `yaml:"image_dir"`
	IPAllowlist  []string `yaml:"ip_allowlist"`
}

// BackendTLS governs outbound TLS to upstream backends (spec §6.3:
// BACKEND_VERIFY_TLS, BACKEND_CA_BUNDLE, BACKEND_CLIENT_CERT).
type BackendTLS struct {
	VerifyTLS  bool   `yaml:"verify_tls"`
	CABundle   string `yaml:"ca_bundle"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// ToUpstreamTLS converts to upstream.TLSConfig for the connection pool.
func (b BackendTLS) ToUpstreamTLS() upstream.TLSConfig {
	return upstream.TLSConfig{
		VerifyTLS:  b.VerifyTLS,
		CABundle:   b.CABundle,
		ClientCert: b.ClientCert,
		ClientKey:  b.ClientKey,
	}
}

// ToolsConfig governs the tool bus's invocation log (spec §6.3:
// TOOLS_LOG_MODE, TOOLS_LOG_PATH, TOOLS_LOG_DIR).
type ToolsConfig struct {
	LogMode string `yaml:"log_mode"` // "ndjson", "per_file", "both", "none"
	LogPath string `yaml:"log_path"`
	LogDir  string `yaml:"log_dir"`
}

// LoggingConfig holds structured-logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// Load reads configuration from path (if non-empty), applies
// environment overrides, and validates the result. Validation failure
// is fatal at startup (spec §7 config_invalid).
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	c.Registry = RegistryConfig{Path: "backends.yaml"}
	c.Health = HealthConfig{Interval: 30 * time.Second, Timeout: 2 * time.Second}
	c.Images = ImagesConfig{Backend: "mock"}
	c.UI = UIConfig{ImageDir: "data/images"}
	c.Backend = BackendTLS{VerifyTLS: true}
	c.Tools = ToolsConfig{LogMode: "ndjson", LogPath: "data/tools.ndjson"}
	c.Logging = LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("GATEWAY_BEARER_TOKEN"); v != "" {
		c.Auth.BearerToken = v
	}
	if v := os.Getenv("GATEWAY_REGISTRY_PATH"); v != "" {
		c.Registry.Path = v
	}
	if v := os.Getenv("IMAGES_BACKEND"); v != "" {
		c.Images.Backend = v
	}
	if v := os.Getenv("IMAGES_BACKEND_CLASS"); v != "" {
		c.Images.BackendClass = v
	}
	if v := os.Getenv("IMAGES_HTTP_BASE_URL"); v != "" {
		c.Images.HTTPBaseURL = v
	}
	if v := os.Getenv("IMAGES_OPENAI_MODEL"); v != "" {
		c.Images.OpenAIModel = v
	}
	if v := os.Getenv("UI_IMAGE_DIR"); v != "" {
		c.UI.ImageDir = v
	}
	if v := os.Getenv("UI_IP_ALLOWLIST"); v != "" {
		c.UI.IPAllowlist = splitAndTrim(v)
	}
	if v := os.Getenv("BACKEND_VERIFY_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Backend.VerifyTLS = b
		}
	}
	if v := os.Getenv("BACKEND_CA_BUNDLE"); v != "" {
		c.Backend.CABundle = v
	}
	if v := os.Getenv("BACKEND_CLIENT_CERT"); v != "" {
		c.Backend.ClientCert = v
	}
	if v := os.Getenv("TOOLS_LOG_MODE"); v != "" {
		c.Tools.LogMode = v
	}
	if v := os.Getenv("TOOLS_LOG_PATH"); v != "" {
		c.Tools.LogPath = v
	}
	if v := os.Getenv("TOOLS_LOG_DIR"); v != "" {
		c.Tools.LogDir = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GATEWAY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Auth.BearerToken == "" {
		return fmt.Errorf("GATEWAY_BEARER_TOKEN is required")
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry path cannot be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validImagesBackends := map[string]bool{"mock": true, "http_a1111": true, "http_openai_images": true}
	if !validImagesBackends[c.Images.Backend] {
		return fmt.Errorf("invalid images backend: %s", c.Images.Backend)
	}
	if c.Images.Backend != "mock" && c.Images.HTTPBaseURL == "" {
		return fmt.Errorf("images_http_base_url is required for images backend %q", c.Images.Backend)
	}

	validToolsModes := map[string]bool{"ndjson": true, "per_file": true, "both": true, "none": true}
	if !validToolsModes[c.Tools.LogMode] {
		return fmt.Errorf("invalid tools log mode: %s", c.Tools.LogMode)
	}
	if (c.Tools.LogMode == "ndjson" || c.Tools.LogMode == "both") && c.Tools.LogPath == "" {
		return fmt.Errorf("tools_log_path is required for log mode %q", c.Tools.LogMode)
	}
	if (c.Tools.LogMode == "per_file" || c.Tools.LogMode == "both") && c.Tools.LogDir == "" {
		return fmt.Errorf("tools_log_dir is required for log mode %q", c.Tools.LogMode)
	}

	return nil
}
