package protocol

import "time"

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventShutdown = "shutdown"

	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"

	EventSessionCreated     = "session.created"
	EventSessionInvalidated = "session.invalidated"
)

// Envelope wraps every event pushed over the events socket.
type Envelope struct {
	Event   string      `json:"event"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// RunPayload describes a run lifecycle event.
type RunPayload struct {
	Channel  string `json:"channel,omitempty"`
	UserID   string `json:"userId,omitempty"`
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId,omitempty"`
	Status   string `json:"status,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Chars    int    `json:"chars,omitempty"`
}

// SessionPayload describes a session lifecycle event.
type SessionPayload struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId"`
}
