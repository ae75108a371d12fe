package websocket

import "github.com/smilemakc/codegen-orchestrator/internal/domain"

// EventType names the kind of push sent over a job's status stream.
type EventType string

const (
	EventPhaseUpdate EventType = "phase_update"
	EventTerminal    EventType = "terminal"
)

// Event is one message pushed to a subscriber of /status/{jobId}/stream,
// grounded on the teacher's WSEvent (internal/infrastructure/websocket,
// referenced by hub.go's broadcast path) but narrowed to the one payload
// shape this repo ever pushes: a phase-timeline delta or the job's
// terminal status.
type Event struct {
	Type   EventType          `json:"type"`
	JobID  string             `json:"job_id"`
	Phase  *domain.PhaseRecord `json:"phase,omitempty"`
	Status string             `json:"status,omitempty"`
}
