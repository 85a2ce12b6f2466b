package webhook

// Config holds webhook server configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path for this endpoint (e.g., "/webhook/terra")
	Path string `yaml:"path"`

	// Secret is the HMAC shared secret for signature verification
	Secret string `yaml:"secret"`

	// SignatureHeader is the HTTP header containing the HMAC signature
	// (e.g., "terra-signature")
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// StatusResponse is the minimal JSON body returned to the sender. The
// sender only ever sees a status string, never internal state.
type StatusResponse struct {
	Status string `json:"status"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB

	statusOK           = "ok"
	statusRejected     = "rejected"
	statusUnauthorized = "unauthorized"
	statusError        = "error"
)
