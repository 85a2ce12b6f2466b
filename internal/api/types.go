package api

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Events        map[string]int `json:"events"`
}

// EventSummary is one ledger record in list responses. Raw payloads are
// deliberately omitted from the list view.
type EventSummary struct {
	ID         string  `json:"id"`
	DeliveryID string  `json:"delivery_id"`
	UserRef    string  `json:"user_ref,omitempty"`
	UserID     *string `json:"user_id,omitempty"`
	EventType  string  `json:"event_type,omitempty"`
	State      string  `json:"state"`
	ReceivedAt string  `json:"received_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// EventListResponse is returned by GET /events.
type EventListResponse struct {
	Events []EventSummary `json:"events"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// EventDetailResponse is returned by GET /events/{id}.
type EventDetailResponse struct {
	EventSummary
	RejectReason *string `json:"reject_reason,omitempty"`
	VerifiedAt   *string `json:"verified_at,omitempty"`
	RawPayload   string  `json:"raw_payload"`
}

// LinkRequest is the body of POST /users/link.
type LinkRequest struct {
	ExternalRef string `json:"external_ref"`
	UserID      string `json:"user_id"`
}

// LinkResponse confirms a link/unlink operation.
type LinkResponse struct {
	ExternalRef string `json:"external_ref"`
	UserID      string `json:"user_id,omitempty"`
	Status      string `json:"status"`
}

// WidgetSessionRequest is the body of POST /widget-session.
type WidgetSessionRequest struct {
	UserID     string `json:"user_id"`
	Providers  string `json:"providers,omitempty"`
	SuccessURL string `json:"success_url,omitempty"`
	FailureURL string `json:"failure_url,omitempty"`
}

// WidgetSessionResponse is returned by POST /widget-session.
type WidgetSessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
