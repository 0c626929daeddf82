package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lexmap/lexmap/mermaid"
)

// PartProcessor runs the generate → review → retry loop for exactly one
// part per Process call. Each call owns its own attempt counter; the budget
// never outlives or crosses part boundaries.
type PartProcessor struct {
	generator Generator
	reviewer  Reviewer
	cfg       Config
	emitter   Emitter

	// sleep is swappable so tests don't wait out retry delays.
	sleep func(ctx context.Context, d time.Duration)
}

// NewPartProcessor creates a PartProcessor. cfg is copied; unset fields get
// defaults.
func NewPartProcessor(generator Generator, reviewer Reviewer, cfg Config, emitter Emitter) *PartProcessor {
	cfg.defaults()
	return &PartProcessor{
		generator: generator,
		reviewer:  reviewer,
		cfg:       cfg,
		emitter:   emitter,
		sleep:     sleepCtx,
	}
}

// Process drives one part to a finalized result. It always returns a
// finalized PartResult within MaxAttempts generation attempts:
//
//   - reviewer approves → approved result
//   - reviewer keeps rejecting → force-approved result on the last attempt
//   - generate/review errors → failed attempts; an error on the final
//     attempt finalizes with Approved=false and the error in the rationale
//
// Cancellation stops after the in-flight external call returns and finalizes
// the part as failed so partial results stay reportable.
func (p *PartProcessor) Process(ctx context.Context, job *Job, part Part) PartResult {
	log := p.cfg.Logger.With("job_id", job.ID, "part", part.Number)

	res := PartResult{
		PartNumber: part.Number,
		Title:      part.Title,
	}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		res.AttemptsUsed = attempt

		if err := ctx.Err(); err != nil {
			return p.fail(&res, fmt.Errorf("cancelled before attempt %d: %w", attempt, err))
		}

		log.Info("generating artifact", "attempt", attempt, "max_attempts", p.cfg.MaxAttempts)
		p.emitPart(job.ID, part.Number, attempt, "generating", fmt.Sprintf(
			"part %d: generating (attempt %d/%d)", part.Number, attempt, p.cfg.MaxAttempts))

		artifact, err := p.generate(ctx, job, part)
		if err != nil {
			genErr := &GenerationError{PartNumber: part.Number, Err: err}
			log.Error("generation failed", "attempt", attempt, "error", err)
			if attempt >= p.cfg.MaxAttempts || ctx.Err() != nil {
				return p.fail(&res, genErr)
			}
			p.sleep(ctx, p.cfg.ErrorRetryDelay)
			continue
		}
		res.Artifact = artifact

		verdict, err := p.review(ctx, job, part, artifact, attempt)
		if err != nil {
			evalErr := &EvaluationError{PartNumber: part.Number, Err: err}
			log.Error("review failed", "attempt", attempt, "error", err)
			if attempt >= p.cfg.MaxAttempts || ctx.Err() != nil {
				return p.fail(&res, evalErr)
			}
			p.sleep(ctx, p.cfg.ErrorRetryDelay)
			continue
		}

		res.Score = verdict.Score
		res.Problems = verdict.Problems
		res.Suggestions = verdict.Suggestions
		res.Rationale = verdict.Rationale

		if verdict.Approved {
			res.Approved = true
			res.Finalized = true
			log.Info("part approved", "attempt", attempt, "score", verdict.Score)
			p.emitPart(job.ID, part.Number, attempt, "approved", fmt.Sprintf(
				"part %d approved (score %.1f/10, %d attempt(s))", part.Number, verdict.Score, attempt))
			return res
		}

		log.Warn("part rejected",
			"attempt", attempt, "score", verdict.Score, "problems", len(verdict.Problems))

		if attempt < p.cfg.MaxAttempts {
			p.emitPart(job.ID, part.Number, attempt, "retrying", fmt.Sprintf(
				"part %d rejected (score %.1f/10), retrying", part.Number, verdict.Score))
			p.sleep(ctx, p.cfg.RetryDelay)
			continue
		}

		// Attempts exhausted on a rejection: force-approve so the pipeline
		// terminates with output. The original score and rationale stay on
		// the result alongside the note.
		res.Approved = true
		res.ForcedApproval = true
		res.Finalized = true
		res.Rationale = fmt.Sprintf(
			"force-approved after %d attempts; original score %.1f; reviewer said: %s",
			p.cfg.MaxAttempts, verdict.Score, verdict.Rationale)
		log.Warn("attempts exhausted, force-approving", "score", verdict.Score)
		p.emitPart(job.ID, part.Number, attempt, "force_approved", fmt.Sprintf(
			"part %d force-approved after %d attempts", part.Number, p.cfg.MaxAttempts))
		return res
	}

	// Unreachable: every loop exit path above returns.
	return p.fail(&res, fmt.Errorf("part %d: no attempt executed", part.Number))
}

// generate runs one generation call and sanitizes the returned artifact.
func (p *PartProcessor) generate(ctx context.Context, job *Job, part Part) (string, error) {
	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	raw, err := p.generator.Generate(ctx, GenerateRequest{
		Domain:    job.Domain,
		Subject:   job.Subject,
		PartTitle: part.Title,
		Content:   part.Content,
	})
	if err != nil {
		return "", err
	}
	cleaned := mermaid.Fix(raw)
	if cleaned == "" {
		return "", fmt.Errorf("generator returned empty artifact")
	}
	return cleaned, nil
}

func (p *PartProcessor) review(ctx context.Context, job *Job, part Part, artifact string, attempt int) (*Verdict, error) {
	ctx, cancel := p.callCtx(ctx)
	defer cancel()

	return p.reviewer.Review(ctx, ReviewRequest{
		Domain:      job.Domain,
		Subject:     job.Subject,
		PartTitle:   part.Title,
		Content:     part.Content,
		Artifact:    artifact,
		Attempt:     attempt,
		MaxAttempts: p.cfg.MaxAttempts,
	})
}

func (p *PartProcessor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// fail finalizes a part as not approved. This is the single path where
// Finalized does not imply Approved; the orchestrator surfaces it as a
// part-level failure degrading the document to partial.
func (p *PartProcessor) fail(res *PartResult, err error) PartResult {
	res.Approved = false
	res.ForcedApproval = false
	res.Finalized = true
	res.Artifact = ""
	res.Score = 0
	res.Rationale = fmt.Sprintf("failed after %d attempt(s): %v", res.AttemptsUsed, err)
	p.emitPart("", res.PartNumber, res.AttemptsUsed, "part_failed", res.Rationale)
	return *res
}

func (p *PartProcessor) emitPart(jobID string, part, attempt int, stage, msg string) {
	level := "info"
	switch stage {
	case "retrying", "force_approved":
		level = "warn"
	case "part_failed":
		level = "error"
	}
	emit(p.emitter, Event{
		Kind:       EventLog,
		JobID:      jobID,
		Stage:      stage,
		PartNumber: part,
		Attempt:    attempt,
		Level:      level,
		Message:    msg,
	})
}

// sleepCtx pauses for d or until ctx is cancelled, whichever comes first.
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
