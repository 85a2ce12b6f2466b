package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
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
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Apply environment variable interpolation before parsing so that
	// secrets never live in the file itself.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// interpolateEnv replaces ${VAR} placeholders with environment variable values.
// Unset variables are left as-is so validation can report them by name.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = defaults.Storage.Timeout
	}
	if cfg.Webhook.Listen == "" {
		cfg.Webhook.Listen = defaults.Webhook.Listen
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Aggregator.Timeout == 0 {
		cfg.Aggregator.Timeout = defaults.Aggregator.Timeout
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Storage.Timeout <= 0 {
		return fmt.Errorf("storage.timeout must be positive")
	}

	if len(cfg.Webhook.Endpoints) == 0 {
		return fmt.Errorf("webhook.endpoints must define at least one endpoint")
	}
	seen := make(map[string]bool)
	for i, ep := range cfg.Webhook.Endpoints {
		if ep.Path == "" {
			return fmt.Errorf("webhook.endpoints[%d].path is required", i)
		}
		if seen[ep.Path] {
			return fmt.Errorf("webhook.endpoints[%d].path %q is duplicated", i, ep.Path)
		}
		seen[ep.Path] = true

		// A missing secret must fail closed at startup, never at
		// request time. Unresolved ${VAR} placeholders count as missing.
		if ep.Secret == "" {
			return fmt.Errorf("webhook.endpoints[%d] (%s): secret is required", i, ep.Path)
		}
		if matches := envVarPattern.FindStringSubmatch(ep.Secret); len(matches) > 1 {
			return fmt.Errorf("webhook.endpoints[%d] (%s): secret: environment variable ${%s} is not set", i, ep.Path, matches[1])
		}
		if ep.SignatureHeader == "" {
			return fmt.Errorf("webhook.endpoints[%d] (%s): signature_header is required", i, ep.Path)
		}
	}

	if cfg.API.Enabled {
		if len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth.tokens must define at least one token when api.enabled is true")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if matches := envVarPattern.FindStringSubmatch(tok.Token); len(matches) > 1 {
				return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
			}
		}
	}

	if cfg.Aggregator.BaseURL != "" {
		if cfg.Aggregator.APIKey == "" {
			return fmt.Errorf("aggregator.api_key is required when aggregator.base_url is set")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.Aggregator.APIKey); len(matches) > 1 {
			return fmt.Errorf("aggregator.api_key: environment variable ${%s} is not set", matches[1])
		}
		if cfg.Aggregator.DevID == "" {
			return fmt.Errorf("aggregator.dev_id is required when aggregator.base_url is set")
		}
	}

	return nil
}
