package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Orchestrator drives one document end to end: split, fan out part
// processors under the parts-in-flight cap, aggregate a terminal status,
// and persist finalized results.
type Orchestrator struct {
	splitter  *Splitter
	processor *PartProcessor
	persister Persister
	cfg       Config
	emitter   Emitter
}

// NewOrchestrator wires the pipeline stages for document runs.
// persister may be nil when the caller handles storage itself.
func NewOrchestrator(divider Divider, generator Generator, reviewer Reviewer, persister Persister, cfg Config, emitter Emitter) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		splitter:  NewSplitter(divider, cfg, emitter),
		processor: NewPartProcessor(generator, reviewer, cfg, emitter),
		persister: persister,
		cfg:       cfg,
		emitter:   emitter,
	}
}

// RunDocument takes a job whose Domain/Subject/Body are already extracted
// and drives it to a terminal status. The returned job is the same pointer,
// mutated in place; after return it must be treated as immutable.
//
// Split failures are document-fatal (status=failed). Part failures are
// isolated: siblings keep running and the document degrades to partial at
// worst.
func (o *Orchestrator) RunDocument(ctx context.Context, job *Job) *Job {
	log := o.cfg.Logger.With("job_id", job.ID)
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	job.Status = StatusSplitting
	o.progress(job, "splitting", "dividing content")

	parts, err := o.splitter.Split(ctx, job.ID, job.Domain, job.Subject, job.Body)
	if err != nil {
		log.Error("split failed", "error", err)
		return o.finish(job, StatusFailed, err.Error())
	}
	job.Parts = parts

	job.Status = StatusProcessing
	o.progress(job, "processing", fmt.Sprintf("processing %d part(s)", len(parts)))
	log.Info("fan-out starting", "parts", len(parts), "max_in_flight", o.cfg.MaxPartsInFlight)

	// One slot per part: each goroutine writes only its own index, so the
	// only synchronization needed is the join barrier before aggregation.
	results := make([]PartResult, len(parts))
	sem := make(chan struct{}, o.cfg.MaxPartsInFlight)
	var wg sync.WaitGroup

	for i, part := range parts {
		wg.Add(1)
		sem <- struct{}{}

		go func(slot int, pt Part) {
			defer wg.Done()
			defer func() { <-sem }()
			results[slot] = o.processor.Process(ctx, job, pt)
		}(i, part)
	}
	wg.Wait()

	// Completion order is not part order under concurrency; re-sort before
	// the results become visible on the job.
	sort.Slice(results, func(a, b int) bool {
		return results[a].PartNumber < results[b].PartNumber
	})
	job.Results = results

	o.persistResults(ctx, job)

	approved := job.ApprovedCount()
	if approved == len(parts) {
		log.Info("document complete", "parts", len(parts))
		return o.finish(job, StatusComplete, "")
	}
	log.Warn("document partial", "approved", approved, "parts", len(parts))
	return o.finish(job, StatusPartial, fmt.Sprintf("%d of %d part(s) failed", len(parts)-approved, len(parts)))
}

// persistResults stores every finalized result with a usable artifact.
// Persistence is best-effort: a PersistError is logged and emitted but never
// changes a part's approval or the document status.
func (o *Orchestrator) persistResults(ctx context.Context, job *Job) {
	if o.persister == nil {
		return
	}
	for i := range job.Results {
		res := &job.Results[i]
		if !res.Finalized || res.Artifact == "" {
			continue
		}
		loc, err := o.persister.Persist(ctx, job.ID, res)
		if err != nil {
			perr := &PersistError{PartNumber: res.PartNumber, Err: err}
			o.cfg.Logger.Error("persist failed", "job_id", job.ID, "part", res.PartNumber, "error", err)
			emit(o.emitter, Event{
				Kind: EventLog, JobID: job.ID, Stage: "saving",
				PartNumber: res.PartNumber, Level: "error", Message: perr.Error(),
			})
			continue
		}
		o.cfg.Logger.Info("artifact persisted", "job_id", job.ID, "part", res.PartNumber, "location", loc)
	}
}

func (o *Orchestrator) finish(job *Job, status Status, errMsg string) *Job {
	job.Status = status
	job.ErrorMessage = errMsg
	job.FinishedAt = time.Now()
	o.progress(job, string(status), "document finished: "+string(status))
	return job
}

func (o *Orchestrator) progress(job *Job, stage, msg string) {
	emit(o.emitter, Event{
		Kind:    EventProgress,
		JobID:   job.ID,
		Stage:   stage,
		Message: msg,
	})
}
