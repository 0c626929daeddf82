package pipeline

import (
	"context"
	"fmt"
)

// Division is what the external divider returns for one document body.
// DeclaredCount is the divider's own claim about how many parts it produced;
// the Splitter trusts the actual slice and only warns on disagreement.
type Division struct {
	DeclaredCount int
	Rationale     string
	Parts         []DividedPart
}

// DividedPart is one raw part proposal from the divider. ContentStart and
// ContentEnd are anchor snippets used to locate the part's span in the full
// body; Content, if set, is used directly.
type DividedPart struct {
	Number       int
	Title        string
	Content      string
	ContentStart string
	ContentEnd   string
}

// Divider proposes a logical division of a document body.
type Divider interface {
	Divide(ctx context.Context, domain, subject, body string) (*Division, error)
}

// GenerateRequest carries everything the generator needs for one attempt.
type GenerateRequest struct {
	Domain    string
	Subject   string
	PartTitle string
	Content   string
}

// Generator produces one artifact from part content.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ReviewRequest carries the original content and the generated artifact,
// plus retry pressure so the reviewer can calibrate.
type ReviewRequest struct {
	Domain      string
	Subject     string
	PartTitle   string
	Content     string
	Artifact    string
	Attempt     int
	MaxAttempts int
}

// Reviewer evaluates a generated artifact against its source content.
// A malformed verdict must be returned as an error, not a zero Verdict.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*Verdict, error)
}

// Persister stores one finalized part result durably and returns its
// location. Persistence failures never invalidate an approval.
type Persister interface {
	Persist(ctx context.Context, jobID string, res *PartResult) (string, error)
}

// Emitter receives progress events. Implementations must never block the
// pipeline on delivery; drop rather than stall.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f.
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// DivisionError is a document-fatal split failure: no part was or will be
// attempted for this document.
type DivisionError struct {
	Err error
}

func (e *DivisionError) Error() string { return "division: " + e.Err.Error() }
func (e *DivisionError) Unwrap() error { return e.Err }

// GenerationError is a part-local generation failure. It feeds the retry
// policy and is never fatal to sibling parts.
type GenerationError struct {
	PartNumber int
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate part %d: %v", e.PartNumber, e.Err)
}
func (e *GenerationError) Unwrap() error { return e.Err }

// EvaluationError is a part-local review failure, including malformed
// verdicts and timeouts. Retry policy treats it like a rejection.
type EvaluationError struct {
	PartNumber int
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("review part %d: %v", e.PartNumber, e.Err)
}
func (e *EvaluationError) Unwrap() error { return e.Err }

// PersistError is a storage failure for one finalized result. Approval and
// persistence are independent concerns; this never degrades a part's verdict.
type PersistError struct {
	PartNumber int
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist part %d: %v", e.PartNumber, e.Err)
}
func (e *PersistError) Unwrap() error { return e.Err }
