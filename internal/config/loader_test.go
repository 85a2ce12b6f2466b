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
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: vitalgate-test
  log_level: debug
storage:
  path: /tmp/vitalgate-test.db
  timeout: 3s
webhook:
  listen: "127.0.0.1:9090"
  endpoints:
    - path: /webhook/terra
      secret: shhh
      signature_header: terra-signature
      max_body_size: 1MB
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "vitalgate-test" {
		t.Errorf("Service.Name = %q, want vitalgate-test", cfg.Service.Name)
	}
	if cfg.Storage.Timeout != 3*time.Second {
		t.Errorf("Storage.Timeout = %v, want 3s", cfg.Storage.Timeout)
	}
	if len(cfg.Webhook.Endpoints) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(cfg.Webhook.Endpoints))
	}
	if cfg.Webhook.Endpoints[0].SignatureHeader != "terra-signature" {
		t.Errorf("SignatureHeader = %q, want terra-signature", cfg.Webhook.Endpoints[0].SignatureHeader)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
webhook:
  endpoints:
    - path: /webhook/terra
      secret: shhh
      signature_header: terra-signature
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "vitalgate" {
		t.Errorf("Service.Name default = %q, want vitalgate", cfg.Service.Name)
	}
	if cfg.Service.LogLevel != "info" {
		t.Errorf("Service.LogLevel default = %q, want info", cfg.Service.LogLevel)
	}
	if cfg.Webhook.Listen != "127.0.0.1:8080" {
		t.Errorf("Webhook.Listen default = %q, want 127.0.0.1:8080", cfg.Webhook.Listen)
	}
	if cfg.Storage.Timeout != 5*time.Second {
		t.Errorf("Storage.Timeout default = %v, want 5s", cfg.Storage.Timeout)
	}
}

func TestLoadInterpolatesEnvVars(t *testing.T) {
	t.Setenv("VITALGATE_TEST_SECRET", "from-env")

	path := writeConfig(t, `
webhook:
  endpoints:
    - path: /webhook/terra
      secret: ${VITALGATE_TEST_SECRET}
      signature_header: terra-signature
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Webhook.Endpoints[0].Secret != "from-env" {
		t.Errorf("Secret = %q, want from-env", cfg.Webhook.Endpoints[0].Secret)
	}
}

func TestLoadRejectsUnresolvedSecret(t *testing.T) {
	path := writeConfig(t, `
webhook:
  endpoints:
    - path: /webhook/terra
      secret: ${VITALGATE_DEFINITELY_NOT_SET}
      signature_header: terra-signature
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail for unresolved secret env var")
	}
	if !strings.Contains(err.Error(), "VITALGATE_DEFINITELY_NOT_SET") {
		t.Errorf("error should name the missing variable, got: %v", err)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "no endpoints",
			content: `
webhook:
  listen: "127.0.0.1:9090"
`,
			wantErr: "at least one endpoint",
		},
		{
			name: "missing secret",
			content: `
webhook:
  endpoints:
    - path: /webhook/terra
      signature_header: terra-signature
`,
			wantErr: "secret is required",
		},
		{
			name: "missing signature header",
			content: `
webhook:
  endpoints:
    - path: /webhook/terra
      secret: shhh
`,
			wantErr: "signature_header is required",
		},
		{
			name: "duplicate endpoint paths",
			content: `
webhook:
  endpoints:
    - path: /webhook/terra
      secret: shhh
      signature_header: terra-signature
    - path: /webhook/terra
      secret: other
      signature_header: terra-signature
`,
			wantErr: "duplicated",
		},
		{
			name: "invalid log level",
			content: `
service:
  log_level: loud
webhook:
  endpoints:
    - path: /webhook/terra
      secret: shhh
      signature_header: terra-signature
`,
			wantErr: "log_level",
		},
		{
			name: "api enabled without tokens",
			content: `
webhook:
  endpoints:
    - path: /webhook/terra
      secret: shhh
      signature_header: terra-signature
api:
  enabled: true
`,
			wantErr: "api.auth.tokens",
		},
		{
			name: "aggregator without api key",
			content: `
webhook:
  endpoints:
    - path: /webhook/terra
      secret: shhh
      signature_header: terra-signature
aggregator:
  base_url: https://api.example.test/v2
  dev_id: dev-1
`,
			wantErr: "aggregator.api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for missing file")
	}
}
