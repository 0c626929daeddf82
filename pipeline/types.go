// Package pipeline orchestrates the divide → generate → review workflow
// that turns one extracted document into a set of reviewed mindmap artifacts.
//
// The core is three layers: a Splitter that carves a document body into
// parts, a PartProcessor that owns the generate/review/retry loop for one
// part, and an Orchestrator that fans parts out under a bounded-concurrency
// pool and aggregates a document-level status. RunBatch adds a second,
// coarser pool across documents.
package pipeline

import "time"

// Status is the lifecycle state of a document job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSplitting  Status = "splitting"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusPartial || s == StatusFailed
}

// Job is one submitted document moving through the pipeline.
//
// Domain, Subject and Body are set once by extraction and immutable after.
// Parts is produced once by the Splitter. Results is filled by part
// processors; completion order is not part order, so consumers must read it
// only after the job reaches a terminal status, at which point it is sorted
// by part number.
type Job struct {
	ID      string `json:"id"`
	Domain  string `json:"domain"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	Parts   []Part       `json:"parts,omitempty"`
	Results []PartResult `json:"results,omitempty"`

	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// ApprovedCount returns how many results are approved. It is computed fresh
// from the results each time; there is deliberately no separate counter that
// could drift out of sync.
func (j *Job) ApprovedCount() int {
	n := 0
	for i := range j.Results {
		if j.Results[i].Approved {
			n++
		}
	}
	return n
}

// Part is one unit of content carved from a document body.
// Number is 1-based and matches the part's position in Job.Parts.
type Part struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Problem is one structured finding from the reviewer.
type Problem struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

// Verdict is the reviewer's structured evaluation of one generated artifact.
// Approved and Score are independent signals; the core only branches on the
// boolean.
type Verdict struct {
	Approved    bool      `json:"approved"`
	Score       float64   `json:"score"`
	Problems    []Problem `json:"problems"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Rationale   string    `json:"rationale"`
}

// PartResult is the outcome of processing one part. It is created on the
// first generation attempt, mutated in place across retries by exactly one
// processor, and immutable once Finalized.
//
// Finalized with Approved=false happens only when the final attempt itself
// failed with an unrecoverable generation/review error; every other
// exhaustion path force-approves so the pipeline always terminates with
// output.
type PartResult struct {
	PartNumber     int       `json:"part_number"`
	Title          string    `json:"title"`
	Artifact       string    `json:"artifact"`
	Approved       bool      `json:"approved"`
	ForcedApproval bool      `json:"forced_approval,omitempty"`
	Score          float64   `json:"score"`
	AttemptsUsed   int       `json:"attempts_used"`
	Problems       []Problem `json:"problems,omitempty"`
	Suggestions    []string  `json:"suggestions,omitempty"`
	Rationale      string    `json:"rationale,omitempty"`
	Finalized      bool      `json:"finalized"`
}
