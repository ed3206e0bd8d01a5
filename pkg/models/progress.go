package models

// Progress event types emitted on a live certification stream.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// ProgressEvent is one entry on a live certification stream. Progress events
// carry per-test state; the terminal complete/error event is always last and
// carries the full certification record or the failure message.
type ProgressEvent struct {
	Type          string         `json:"type"`
	TestName      string         `json:"test_name,omitempty"`
	Status        string         `json:"status,omitempty"`
	Current       int            `json:"current,omitempty"`
	Total         int            `json:"total,omitempty"`
	Certification *Certification `json:"certification,omitempty"`
	Error         string         `json:"error,omitempty"`
}
