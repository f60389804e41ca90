package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file. Environment variable
// references of the form ${VAR} are expanded before parsing. Missing keys
// fall back to Defaults().
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	data = expandEnvVars(data)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with the environment value.
// Unset variables expand to the empty string so validation can catch them.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyDefaults fills zero values that yaml decoding may have cleared.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = d.Database.Path
	}
	if cfg.KV.Backend == "" {
		cfg.KV.Backend = d.KV.Backend
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = d.Webhook.SignatureHeader
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = d.Webhook.Path
	}
	if cfg.Webhook.MaxBodySize <= 0 {
		cfg.Webhook.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = d.Poller.Interval
	}
	if cfg.Tasks.Workers <= 0 {
		cfg.Tasks.Workers = d.Tasks.Workers
	}
	if cfg.Tasks.QueueSize <= 0 {
		cfg.Tasks.QueueSize = d.Tasks.QueueSize
	}
	if cfg.Tasks.TTL <= 0 {
		cfg.Tasks.TTL = d.Tasks.TTL
	}
	if cfg.GitHub.BaseURL == "" {
		cfg.GitHub.BaseURL = d.GitHub.BaseURL
	}
}

func validate(cfg *Config) error {
	switch cfg.KV.Backend {
	case "redis":
		if cfg.KV.Addr == "" {
			return fmt.Errorf("kv.addr is required when kv.backend is %q", cfg.KV.Backend)
		}
	case "memory":
		// nothing to check
	default:
		return fmt.Errorf("kv.backend must be \"redis\" or \"memory\", got %q", cfg.KV.Backend)
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	if cfg.Webhook.Enabled {
		if cfg.Webhook.Listen == "" {
			return fmt.Errorf("webhook.listen is required when webhook.enabled is true")
		}
		if cfg.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret is required when webhook.enabled is true")
		}
	}
	if cfg.Poller.Jitter < 0 {
		return fmt.Errorf("poller.jitter must not be negative")
	}
	if cfg.Poller.Jitter >= cfg.Poller.Interval && cfg.Poller.Enabled {
		return fmt.Errorf("poller.jitter (%s) must be smaller than poller.interval (%s)",
			cfg.Poller.Jitter, cfg.Poller.Interval)
	}
	return nil
}
