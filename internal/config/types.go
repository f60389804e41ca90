package config

import "time"

// Config represents the complete orchestrator configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	KV       KVConfig       `yaml:"kv"`
	API      APIConfig      `yaml:"api,omitempty"`
	Webhook  WebhookConfig  `yaml:"webhook,omitempty"`
	Poller   PollerConfig   `yaml:"poller,omitempty"`
	Tasks    TasksConfig    `yaml:"tasks,omitempty"`
	GitHub   GitHubConfig   `yaml:"github,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	PIDFile  string `yaml:"pid_file,omitempty"`
}

// DatabaseConfig defines the relational store holding agent definitions,
// issue records, and action logs.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// KVConfig defines the ephemeral key-value store used for task state.
// Backend "redis" talks to a Redis server; "memory" keeps everything
// in-process (single-node deployments and tests).
type KVConfig struct {
	Backend  string `yaml:"backend"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// WebhookConfig defines the inbound signed-webhook listener.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`

	// Path is the URL path for the issue-tracker webhook (e.g. "/webhook/github").
	Path string `yaml:"path"`

	// Secret is the shared HMAC secret for signature verification.
	// Supports ${ENV_VAR} expansion.
	Secret string `yaml:"secret"`

	// SignatureHeader is the HTTP header carrying the HMAC signature
	// (default: "X-Hub-Signature-256").
	SignatureHeader string `yaml:"signature_header,omitempty"`

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB).
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// PollerConfig defines the issue-tracker polling loop.
type PollerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Jitter   time.Duration `yaml:"jitter,omitempty"`
}

// TasksConfig defines the background task worker pool.
type TasksConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	TTL       time.Duration `yaml:"ttl"`
}

// GitHubConfig defines outbound access to the issue tracker.
type GitHubConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	Token   string `yaml:"token,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "agent-orchestrator",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Path: "./data/orchestrator.db",
		},
		KV: KVConfig{
			Backend: "memory",
			Addr:    "localhost:6379",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9000",
		},
		Webhook: WebhookConfig{
			Enabled:         false,
			Listen:          "127.0.0.1:9001",
			Path:            "/webhook/github",
			SignatureHeader: "X-Hub-Signature-256",
			MaxBodySize:     DefaultMaxBodySize,
		},
		Poller: PollerConfig{
			Enabled:  false,
			Interval: 5 * time.Minute,
			Jitter:   30 * time.Second,
		},
		Tasks: TasksConfig{
			Workers:   4,
			QueueSize: 256,
			TTL:       time.Hour,
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
	}
}

// DefaultMaxBodySize caps webhook payloads at 1 MB.
const DefaultMaxBodySize = 1048576
