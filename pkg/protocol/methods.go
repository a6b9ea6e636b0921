package protocol

// Gateway REST paths.
const (
	PathHealth   = "/healthz"
	PathSessions = "/v1/sessions"
	PathEvents   = "/v1/events"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// SessionView is one row of GET /v1/sessions.
type SessionView struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId"`
}

// SessionListResponse is the body of GET /v1/sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
	Total    int           `json:"total"`
}

// ErrorResponse is the body of any non-2xx gateway response.
type ErrorResponse struct {
	Error string `json:"error"`
}
