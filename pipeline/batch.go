package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunBatch runs multiple documents under the documents-in-flight cap.
// The returned slice is positional: results[i] is always jobs[i], regardless
// of completion order. One document's failure — including a panic inside its
// orchestration — is captured on that document and never aborts the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []*Job) []*Job {
	o.cfg.Logger.Info("batch starting",
		"documents", len(jobs), "max_in_flight", o.cfg.MaxDocumentsInFlight)

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.MaxDocumentsInFlight)

	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.cfg.Logger.Error("document orchestration panicked",
						"job_id", job.ID, "panic", r)
					job.Status = StatusFailed
					job.ErrorMessage = fmt.Sprintf("internal error: %v", r)
				}
			}()
			o.RunDocument(ctx, job)
			return nil
		})
	}
	g.Wait()

	complete, partial, failed := 0, 0, 0
	for _, job := range jobs {
		switch job.Status {
		case StatusComplete:
			complete++
		case StatusPartial:
			partial++
		default:
			failed++
		}
	}
	o.cfg.Logger.Info("batch finished",
		"complete", complete, "partial", partial, "failed", failed)
	return jobs
}
