package pipeline

import "time"

// EventKind separates coarse progress updates from fine-grained log lines,
// mirroring the two streams the UI consumes.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventLog      EventKind = "log"
)

// Event is one structured progress/log record emitted by the core.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Time       time.Time      `json:"time"`
	JobID      string         `json:"job_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	PartNumber int            `json:"part_number,omitempty"`
	Attempt    int            `json:"attempt,omitempty"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
}

// emit sends ev through the configured emitter, stamping the time.
// A nil emitter is a no-op so the core never nil-checks at call sites.
func emit(e Emitter, ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Level == "" {
		ev.Level = "info"
	}
	e.Emit(ev)
}
