package config

import "time"

// Config represents the complete vitalgate configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Storage    StorageConfig    `yaml:"storage"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	API        APIConfig        `yaml:"api,omitempty"`
	Aggregator AggregatorConfig `yaml:"aggregator,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StorageConfig defines ledger storage settings.
type StorageConfig struct {
	// Path is the SQLite database file holding the ingestion ledger
	// and user link table.
	Path string `yaml:"path"`

	// Timeout bounds every ledger/store operation. A store that does
	// not answer within this window surfaces as a 500 to the sender.
	Timeout time.Duration `yaml:"timeout"`
}

// WebhookConfig defines the inbound webhook listener.
type WebhookConfig struct {
	Listen    string           `yaml:"listen"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig defines a single inbound webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path for this endpoint (e.g., "/webhook/terra")
	Path string `yaml:"path"`

	// Secret is the HMAC shared secret for signature verification.
	// Usually written as ${ENV_VAR} and resolved at load time.
	Secret string `yaml:"secret"`

	// SignatureHeader is the HTTP header carrying the hex HMAC-SHA256
	// digest of the raw body (e.g., "terra-signature").
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodySize is the maximum allowed request body size
	// (e.g., "1MB", "2048576"). Defaults to 1MB.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// APIConfig defines the operator API server.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines operator API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// AggregatorConfig defines the outbound aggregator API client,
// used to generate device-connection widget sessions.
type AggregatorConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	DevID   string        `yaml:"dev_id"`
	Timeout time.Duration `yaml:"timeout"`

	// Redirect targets for the hosted connection flow.
	SuccessURL string `yaml:"success_url"`
	FailureURL string `yaml:"failure_url"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "vitalgate",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Path:    "./data/vitalgate.db",
			Timeout: 5 * time.Second,
		},
		Webhook: WebhookConfig{
			Listen: "127.0.0.1:8080",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8081",
		},
		Aggregator: AggregatorConfig{
			Timeout: 10 * time.Second,
		},
	}
}
