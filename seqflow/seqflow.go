// Package seqflow is the single-threaded alternative to the parallel
// pipeline: a checkpointable state machine that processes one part at a
// time. Callers that need deterministic, resumable single-step execution
// use this instead of Orchestrator.RunDocument; the retry semantics are
// identical.
package seqflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lexmap/lexmap/mermaid"
	"github.com/lexmap/lexmap/pipeline"
)

// Phase names one state of the machine. Done and Error are absorbing.
type Phase string

const (
	PhaseParsing    Phase = "parsing"
	PhaseDividing   Phase = "dividing"
	PhaseGenerating Phase = "generating"
	PhaseRevising   Phase = "revising"
	PhaseSaving     Phase = "saving"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// Extractor turns a raw document reference into the extracted triple the
// rest of the machine consumes.
type Extractor interface {
	Extract(ctx context.Context, source string) (domain, subject, body string, err error)
}

// State is the machine's complete execution context. It serializes to the
// checkpoint file, so resuming a machine from disk reproduces the exact
// position, including the in-flight part's attempt counter.
//
// Attempt belongs to the part identified by CurrentPart and is reset to
// zero whenever the machine moves to a new part. Keeping the counter and
// the part number together in one place is what prevents a stale counter
// from bleeding into the next part and looping the machine forever.
type State struct {
	JobID   string `json:"job_id"`
	Source  string `json:"source"`
	Domain  string `json:"domain,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`

	Parts   []pipeline.Part       `json:"parts,omitempty"`
	Results []pipeline.PartResult `json:"results,omitempty"`

	Phase       Phase  `json:"phase"`
	CurrentPart int    `json:"current_part,omitempty"` // 1-based, 0 = none
	Attempt     int    `json:"attempt,omitempty"`
	Artifact    string `json:"artifact,omitempty"` // generated, awaiting review
	ErrMessage  string `json:"error_message,omitempty"`
}

// Machine executes the parse → divide → generate → revise → save graph one
// transition at a time, checkpointing after every step.
type Machine struct {
	extractor Extractor
	divider   pipeline.Divider
	generator pipeline.Generator
	reviewer  pipeline.Reviewer
	persister pipeline.Persister
	cfg       pipeline.Config
	emitter   pipeline.Emitter

	checkpointDir string
	state         *State

	sleep func(ctx context.Context, d time.Duration)
}

// Options carries the collaborators and knobs for a Machine.
type Options struct {
	Extractor     Extractor
	Divider       pipeline.Divider
	Generator     pipeline.Generator
	Reviewer      pipeline.Reviewer
	Persister     pipeline.Persister
	Config        pipeline.Config
	Emitter       pipeline.Emitter
	CheckpointDir string // empty disables checkpointing
}

// New creates a Machine positioned at Parsing for the given source document.
func New(jobID, source string, opts Options) *Machine {
	return newMachine(&State{JobID: jobID, Source: source, Phase: PhaseParsing}, opts)
}

// Resume loads the checkpoint from opts.CheckpointDir and continues from the
// recorded phase. A missing checkpoint yields a fresh machine at Parsing.
func Resume(jobID, source string, opts Options) (*Machine, error) {
	st, err := loadCheckpoint(opts.CheckpointDir, jobID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return New(jobID, source, opts), nil
	}
	return newMachine(st, opts), nil
}

func newMachine(st *State, opts Options) *Machine {
	opts.Config = withDefaults(opts.Config)
	return &Machine{
		extractor:     opts.Extractor,
		divider:       opts.Divider,
		generator:     opts.Generator,
		reviewer:      opts.Reviewer,
		persister:     opts.Persister,
		cfg:           opts.Config,
		emitter:       opts.Emitter,
		checkpointDir: opts.CheckpointDir,
		state:         st,
		sleep:         sleepCtx,
	}
}

// withDefaults normalizes the config fields the machine reads directly.
// NewSplitter applies the full pipeline defaults to its own copy.
func withDefaults(cfg pipeline.Config) pipeline.Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.ErrorRetryDelay <= 0 {
		cfg.ErrorRetryDelay = 2 * time.Second
	}
	return cfg
}

// State returns a snapshot copy of the machine's current state.
func (m *Machine) State() State { return *m.state }

// Done reports whether the machine is in an absorbing phase.
func (m *Machine) Done() bool {
	return m.state.Phase == PhaseDone || m.state.Phase == PhaseError
}

// Run steps the machine until it reaches Done or Error and returns the
// assembled job. Cancellation between steps transitions to Error with
// whatever results exist still attached.
func (m *Machine) Run(ctx context.Context) (*pipeline.Job, error) {
	for !m.Done() {
		if err := ctx.Err(); err != nil {
			m.toError(fmt.Errorf("cancelled in %s: %w", m.state.Phase, err))
			break
		}
		if err := m.Step(ctx); err != nil {
			return m.Job(), err
		}
	}
	return m.Job(), nil
}

// Step executes exactly one transition and checkpoints the new state.
// Stepping an absorbing phase is a no-op.
func (m *Machine) Step(ctx context.Context) error {
	switch m.state.Phase {
	case PhaseParsing:
		m.stepParsing(ctx)
	case PhaseDividing:
		m.stepDividing(ctx)
	case PhaseGenerating:
		m.stepGenerating(ctx)
	case PhaseRevising:
		m.stepRevising(ctx)
	case PhaseSaving:
		m.stepSaving(ctx)
	case PhaseDone, PhaseError:
		return nil
	default:
		m.toError(fmt.Errorf("unknown phase %q", m.state.Phase))
	}
	return m.checkpoint()
}

func (m *Machine) stepParsing(ctx context.Context) {
	domain, subject, body, err := m.extractor.Extract(ctx, m.state.Source)
	if err != nil {
		m.toError(fmt.Errorf("parsing: %w", err))
		return
	}
	m.state.Domain = domain
	m.state.Subject = subject
	m.state.Body = body
	m.state.Phase = PhaseDividing
}

func (m *Machine) stepDividing(ctx context.Context) {
	splitter := pipeline.NewSplitter(m.divider, m.cfg, m.emitter)
	parts, err := splitter.Split(ctx, m.state.JobID, m.state.Domain, m.state.Subject, m.state.Body)
	if err != nil {
		m.toError(err)
		return
	}
	m.state.Parts = parts
	m.state.Results = nil
	m.state.CurrentPart = parts[0].Number
	m.state.Attempt = 0
	m.state.Phase = PhaseGenerating
}

func (m *Machine) stepGenerating(ctx context.Context) {
	part, ok := m.part(m.state.CurrentPart)
	if !ok {
		m.toError(fmt.Errorf("generating: part %d not found", m.state.CurrentPart))
		return
	}

	// The attempt is consumed by generation; review of the same artifact
	// does not consume another.
	m.state.Attempt++

	raw, err := m.generator.Generate(ctx, pipeline.GenerateRequest{
		Domain:    m.state.Domain,
		Subject:   m.state.Subject,
		PartTitle: part.Title,
		Content:   part.Content,
	})
	if err != nil {
		m.attemptFailed(ctx, part, &pipeline.GenerationError{PartNumber: part.Number, Err: err})
		return
	}

	artifact := mermaid.Fix(raw)
	if artifact == "" {
		m.attemptFailed(ctx, part, &pipeline.GenerationError{
			PartNumber: part.Number, Err: fmt.Errorf("generator returned empty artifact")})
		return
	}
	m.state.Artifact = artifact
	m.state.Phase = PhaseRevising
}

func (m *Machine) stepRevising(ctx context.Context) {
	part, ok := m.part(m.state.CurrentPart)
	if !ok {
		m.toError(fmt.Errorf("revising: part %d not found", m.state.CurrentPart))
		return
	}

	verdict, err := m.reviewer.Review(ctx, pipeline.ReviewRequest{
		Domain:      m.state.Domain,
		Subject:     m.state.Subject,
		PartTitle:   part.Title,
		Content:     part.Content,
		Artifact:    m.state.Artifact,
		Attempt:     m.state.Attempt,
		MaxAttempts: m.cfg.MaxAttempts,
	})
	if err != nil {
		m.attemptFailed(ctx, part, &pipeline.EvaluationError{PartNumber: part.Number, Err: err})
		return
	}

	res := pipeline.PartResult{
		PartNumber:   part.Number,
		Title:        part.Title,
		Artifact:     m.state.Artifact,
		Score:        verdict.Score,
		AttemptsUsed: m.state.Attempt,
		Problems:     verdict.Problems,
		Suggestions:  verdict.Suggestions,
		Rationale:    verdict.Rationale,
		Finalized:    true,
	}

	switch {
	case verdict.Approved:
		res.Approved = true

	case m.state.Attempt < m.cfg.MaxAttempts:
		// Rejected with budget left: retry the SAME part. The artifact is
		// discarded, the attempt counter carries over, no result is recorded.
		m.state.Artifact = ""
		m.state.Phase = PhaseGenerating
		m.sleep(ctx, m.cfg.RetryDelay)
		return

	default:
		res.Approved = true
		res.ForcedApproval = true
		res.Rationale = fmt.Sprintf(
			"force-approved after %d attempts; original score %.1f; reviewer said: %s",
			m.cfg.MaxAttempts, verdict.Score, verdict.Rationale)
	}

	m.recordAndAdvance(res)
}

func (m *Machine) stepSaving(ctx context.Context) {
	sort.Slice(m.state.Results, func(a, b int) bool {
		return m.state.Results[a].PartNumber < m.state.Results[b].PartNumber
	})
	if m.persister != nil {
		for i := range m.state.Results {
			res := &m.state.Results[i]
			if res.Artifact == "" {
				continue
			}
			if _, err := m.persister.Persist(ctx, m.state.JobID, res); err != nil {
				// Approval and persistence are independent; keep saving.
				m.emitLog("saving", "error",
					(&pipeline.PersistError{PartNumber: res.PartNumber, Err: err}).Error())
			}
		}
	}
	m.state.Phase = PhaseDone
}

// attemptFailed handles a generation/review error for the current attempt:
// retry with a longer delay while budget remains, otherwise finalize the
// part as failed and move on so one broken part cannot wedge the machine.
func (m *Machine) attemptFailed(ctx context.Context, part pipeline.Part, cause error) {
	m.emitLog(string(m.state.Phase), "error", cause.Error())
	if m.state.Attempt < m.cfg.MaxAttempts {
		m.state.Artifact = ""
		m.state.Phase = PhaseGenerating
		m.sleep(ctx, m.cfg.ErrorRetryDelay)
		return
	}
	m.recordAndAdvance(pipeline.PartResult{
		PartNumber:   part.Number,
		Title:        part.Title,
		AttemptsUsed: m.state.Attempt,
		Rationale:    fmt.Sprintf("failed after %d attempt(s): %v", m.state.Attempt, cause),
		Finalized:    true,
	})
}

// recordAndAdvance finalizes the current part and chooses the next phase.
// The next part is always a different one: only parts with no finalized
// result are candidates, and the done predicate is recomputed from the
// results each time rather than kept in a counter.
func (m *Machine) recordAndAdvance(res pipeline.PartResult) {
	m.state.Results = append(m.state.Results, res)
	m.state.Artifact = ""
	m.state.Attempt = 0

	if next, ok := m.nextUnfinalized(); ok {
		m.state.CurrentPart = next
		m.state.Phase = PhaseGenerating
		return
	}
	m.state.CurrentPart = 0
	m.state.Phase = PhaseSaving
}

// nextUnfinalized returns the lowest part number without a finalized result.
func (m *Machine) nextUnfinalized() (int, bool) {
	done := make(map[int]bool, len(m.state.Results))
	for i := range m.state.Results {
		if m.state.Results[i].Finalized {
			done[m.state.Results[i].PartNumber] = true
		}
	}
	for _, p := range m.state.Parts {
		if !done[p.Number] {
			return p.Number, true
		}
	}
	return 0, false
}

func (m *Machine) part(number int) (pipeline.Part, bool) {
	for _, p := range m.state.Parts {
		if p.Number == number {
			return p, true
		}
	}
	return pipeline.Part{}, false
}

func (m *Machine) toError(err error) {
	m.state.ErrMessage = err.Error()
	m.state.Phase = PhaseError
	m.emitLog("error", "error", err.Error())
}

// Job assembles the machine state into the shared job shape.
func (m *Machine) Job() *pipeline.Job {
	job := &pipeline.Job{
		ID:      m.state.JobID,
		Domain:  m.state.Domain,
		Subject: m.state.Subject,
		Body:    m.state.Body,
		Parts:   m.state.Parts,
		Results: m.state.Results,
	}
	switch m.state.Phase {
	case PhaseDone:
		if job.ApprovedCount() == len(job.Parts) && len(job.Parts) > 0 {
			job.Status = pipeline.StatusComplete
		} else {
			job.Status = pipeline.StatusPartial
		}
	case PhaseError:
		job.Status = pipeline.StatusFailed
		job.ErrorMessage = m.state.ErrMessage
	case PhaseParsing:
		job.Status = pipeline.StatusPending
	case PhaseDividing:
		job.Status = pipeline.StatusSplitting
	default:
		job.Status = pipeline.StatusProcessing
	}
	return job
}

func (m *Machine) emitLog(stage, level, msg string) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(pipeline.Event{
		Kind:       pipeline.EventLog,
		Time:       time.Now(),
		JobID:      m.state.JobID,
		Stage:      stage,
		PartNumber: m.state.CurrentPart,
		Attempt:    m.state.Attempt,
		Level:      level,
		Message:    msg,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
