package runner

import (
	"errors"
	"fmt"
)

// Terminal failure classes of a run. Consumers map each to its own
// user-facing reply; transport errors pass through wrapped.
var (
	ErrTimeout        = errors.New("run timed out")
	ErrRequiresAction = errors.New("run requires an external action")
	ErrEmptyReply     = errors.New("run completed with no reply text")
)

// RunFailedError is a run that ended in status "failed", carrying the
// remote-supplied code and message.
type RunFailedError struct {
	Code    string
	Message string
}

func (e *RunFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("run failed: %s (code %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("run failed: %s", e.Message)
}

// UnhandledStatusError is a run that ended in a terminal status the relay
// has no handling for, such as "cancelled" or "expired".
type UnhandledStatusError struct {
	Status string
}

func (e *UnhandledStatusError) Error() string {
	return fmt.Sprintf("run ended with unhandled status %q", e.Status)
}
