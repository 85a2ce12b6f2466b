// Package doctor validates vitalgate configuration beyond what load-time
// validation enforces: unresolved secrets, unwritable storage paths,
// unknown token scopes. Used by the `config check` subcommand.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/biothread/vitalgate/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// knownScopes are the scopes the operator API understands.
var knownScopes = map[string]struct{}{
	"*":         {},
	"events:ro": {},
	"events:rw": {},
	"users:ro":  {},
	"users:rw":  {},
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStorage(r)
	d.validateWebhooks(r)
	d.validateAPI(r)
	d.validateAggregator(r)
	d.warnUnresolvedEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateStorage checks that the ledger database location is usable.
func (d *Doctor) validateStorage(r *Result) {
	path := d.cfg.Storage.Path
	if path == "" {
		d.addError(r, "storage", "storage.path", "storage.path is required")
		return
	}

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "storage", "storage.path",
			fmt.Sprintf("directory %q does not exist yet (created on start)", dir))
	case err != nil:
		d.addError(r, "storage", "storage.path",
			fmt.Sprintf("cannot stat directory %q: %v", dir, err))
	case !info.IsDir():
		d.addError(r, "storage", "storage.path",
			fmt.Sprintf("%q is not a directory", dir))
	}

	if d.cfg.Storage.Timeout <= 0 {
		d.addError(r, "storage", "storage.timeout", "storage.timeout must be positive")
	}
}

// validateWebhooks checks endpoint paths, secrets and signature headers.
func (d *Doctor) validateWebhooks(r *Result) {
	if len(d.cfg.Webhook.Endpoints) == 0 {
		d.addError(r, "webhook", "webhook.endpoints", "at least one webhook endpoint is required")
		return
	}

	seen := make(map[string]int)
	for i, ep := range d.cfg.Webhook.Endpoints {
		field := fmt.Sprintf("webhook.endpoints[%d]", i)

		if !strings.HasPrefix(ep.Path, "/") {
			d.addError(r, "webhook", field+".path",
				fmt.Sprintf("path %q must start with /", ep.Path))
		}

		normalized := strings.TrimSuffix(ep.Path, "/")
		if prevIdx, exists := seen[normalized]; exists {
			d.addError(r, "webhook", field+".path",
				fmt.Sprintf("path %q conflicts with webhook.endpoints[%d]", ep.Path, prevIdx))
		}
		seen[normalized] = i

		if ep.Secret == "" {
			d.addError(r, "webhook", field+".secret",
				fmt.Sprintf("endpoint %q has no secret; unsigned deliveries would be rejected with no way to sign", ep.Path))
		}
		if ep.SignatureHeader == "" {
			d.addError(r, "webhook", field+".signature_header",
				fmt.Sprintf("endpoint %q has no signature_header", ep.Path))
		}
	}
}

// validateAPI checks operator API tokens and their scopes.
func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no tokens configured; every request will be rejected")
	}

	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		if len(token.Scopes) == 0 {
			d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes", i),
				"token has no scopes and can access nothing")
		}
		for j, scope := range token.Scopes {
			if _, ok := knownScopes[strings.TrimSpace(scope)]; !ok {
				d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// validateAggregator checks outbound client settings when configured.
func (d *Doctor) validateAggregator(r *Result) {
	agg := d.cfg.Aggregator
	if agg.BaseURL == "" {
		if agg.APIKey != "" || agg.DevID != "" {
			d.addWarning(r, "aggregator", "aggregator.base_url",
				"aggregator credentials set but base_url is empty; widget sessions disabled")
		}
		return
	}
	if agg.APIKey == "" {
		d.addError(r, "aggregator", "aggregator.api_key", "api_key is required when base_url is set")
	}
	if agg.DevID == "" {
		d.addError(r, "aggregator", "aggregator.dev_id", "dev_id is required when base_url is set")
	}
}

// warnUnresolvedEnvVars flags ${VAR} references that survived loading.
func (d *Doctor) warnUnresolvedEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field,
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}

	for i, ep := range d.cfg.Webhook.Endpoints {
		check(fmt.Sprintf("webhook.endpoints[%d].secret", i), ep.Secret)
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		check(fmt.Sprintf("api.auth.tokens[%d].token", i), token.Token)
	}
	check("aggregator.api_key", d.cfg.Aggregator.APIKey)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
