package assistant

// Run status values reported by the remote API.
const (
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusCancelling     = "cancelling"
	StatusCompleted      = "completed"
	StatusRequiresAction = "requires_action"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
	StatusExpired        = "expired"
)

// InFlight reports whether a run status is non-terminal and worth polling.
func InFlight(status string) bool {
	switch status {
	case StatusQueued, StatusInProgress, StatusCancelling:
		return true
	}
	return false
}

// Run is one assistant invocation against a thread.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	LastError *RunError `json:"last_error,omitempty"`
}

// RunError is the remote-supplied failure descriptor on a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message is one entry in a thread's history.
type Message struct {
	ID      string        `json:"id"`
	Role    string        `json:"role"`             // "user" or "assistant"
	RunID   string        `json:"run_id,omitempty"` // empty for user-posted messages
	Content []ContentPart `json:"content"`
}

// ContentPart is one segment of a message body. Only text segments carry
// extractable reply content.
type ContentPart struct {
	Type string    `json:"type"` // "text", "image_file", ...
	Text *TextPart `json:"text,omitempty"`
}

// TextPart holds the text value of a text content segment.
type TextPart struct {
	Value string `json:"value"`
}

// TextValue returns the part's text value, or "" for non-text parts.
func (p ContentPart) TextValue() string {
	if p.Type != "text" || p.Text == nil {
		return ""
	}
	return p.Text.Value
}

// Wire shapes for requests and responses.

type threadObject struct {
	ID string `json:"id"`
}

type deletedObject struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type createMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRunRequest struct {
	AssistantID string `json:"assistant_id"`
}

type messageList struct {
	Data    []Message `json:"data"`
	HasMore bool      `json:"has_more"`
	LastID  string    `json:"last_id"`
}

type assistantObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
