// Package api is the HTTP surface: document upload, job status and results,
// a WebSocket progress stream, and MCP tool exposure.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lexmap/lexmap/events"
	"github.com/lexmap/lexmap/extract"
	"github.com/lexmap/lexmap/pipeline"
	"github.com/lexmap/lexmap/store"
)

// Limits for document uploads and per-request concurrency knobs.
const (
	MaxUploadFiles = 10
	MaxUploadSize  = 10 << 20 // per file

	MinPartsInFlight = 1
	MaxPartsInFlight = 5
	MinDocsInFlight  = 1
	MaxDocsInFlight  = 3
)

// Collaborators are the model-backed roles the pipeline runs against.
type Collaborators struct {
	Divider   pipeline.Divider
	Generator pipeline.Generator
	Reviewer  pipeline.Reviewer
}

// Knobs are the per-request concurrency overrides. Zero means "use the
// configured default".
type Knobs struct {
	MaxPartsInFlight     int `json:"max_parts_in_flight"`
	MaxDocumentsInFlight int `json:"max_documents_in_flight"`
}

// Validate checks the knobs against their allowed ranges.
func (k Knobs) Validate() error {
	if k.MaxPartsInFlight != 0 &&
		(k.MaxPartsInFlight < MinPartsInFlight || k.MaxPartsInFlight > MaxPartsInFlight) {
		return fmt.Errorf("max_parts_in_flight must be between %d and %d",
			MinPartsInFlight, MaxPartsInFlight)
	}
	if k.MaxDocumentsInFlight != 0 &&
		(k.MaxDocumentsInFlight < MinDocsInFlight || k.MaxDocumentsInFlight > MaxDocsInFlight) {
		return fmt.Errorf("max_documents_in_flight must be between %d and %d",
			MinDocsInFlight, MaxDocsInFlight)
	}
	return nil
}

// Service ties extraction, the pipeline, and persistence together for the
// HTTP and MCP surfaces.
type Service struct {
	extractor *extract.Extractor
	collab    Collaborators
	persister pipeline.Persister
	store     *store.Store
	hub       *events.Hub
	pcfg      pipeline.Config
	logger    *slog.Logger
}

// NewService wires the processing surface.
func NewService(x *extract.Extractor, c Collaborators, p pipeline.Persister,
	s *store.Store, hub *events.Hub, pcfg pipeline.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor: x,
		collab:    c,
		persister: p,
		store:     s,
		hub:       hub,
		pcfg:      pcfg,
		logger:    logger,
	}
}

// Submit registers jobs for the given document paths and starts processing
// in the background. It returns the created job records immediately.
func (s *Service) Submit(ctx context.Context, paths []string, knobs Knobs) ([]*store.JobRecord, error) {
	if err := knobs.Validate(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no documents to process")
	}
	if len(paths) > MaxUploadFiles {
		return nil, fmt.Errorf("too many documents: %d (max %d)", len(paths), MaxUploadFiles)
	}

	records := make([]*store.JobRecord, len(paths))
	for i, path := range paths {
		rec := &store.JobRecord{
			ID:     uuid.NewString(),
			Source: path,
			Status: string(pipeline.StatusPending),
		}
		if err := s.store.InsertJob(ctx, rec); err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
		records[i] = rec
	}

	// Processing outlives the request; detach from its context.
	go s.run(context.Background(), records, knobs)

	return records, nil
}

// run extracts every document, then hands the extractable ones to the batch
// scheduler. Extraction failures finalize their job without touching siblings.
func (s *Service) run(ctx context.Context, records []*store.JobRecord, knobs Knobs) {
	cfg := s.pcfg
	if knobs.MaxPartsInFlight != 0 {
		cfg.MaxPartsInFlight = knobs.MaxPartsInFlight
	}
	if knobs.MaxDocumentsInFlight != 0 {
		cfg.MaxDocumentsInFlight = knobs.MaxDocumentsInFlight
	}

	var jobs []*pipeline.Job
	var jobRecords []*store.JobRecord
	for _, rec := range records {
		src, err := s.extractor.Extract(ctx, rec.Source)
		if err != nil {
			s.logger.Error("extract failed", "job_id", rec.ID, "path", rec.Source, "error", err)
			s.finishJob(ctx, rec.ID, pipeline.StatusFailed, err.Error(), 0)
			continue
		}
		if err := s.store.UpdateJobMeta(ctx, rec.ID, src.Domain, src.Subject); err != nil {
			s.logger.Warn("update job meta failed", "job_id", rec.ID, "error", err)
		}
		jobs = append(jobs, &pipeline.Job{
			ID:      rec.ID,
			Domain:  src.Domain,
			Subject: src.Subject,
			Body:    src.Body,
		})
		jobRecords = append(jobRecords, rec)
	}
	if len(jobs) == 0 {
		return
	}

	orch := pipeline.NewOrchestrator(s.collab.Divider, s.collab.Generator,
		s.collab.Reviewer, s.persister, cfg, s.hub)

	start := time.Now()
	orch.RunBatch(ctx, jobs)

	for _, job := range jobs {
		s.finishJob(ctx, job.ID, job.Status, job.ErrorMessage, len(job.Parts))
	}
	s.logger.Info("batch finished",
		"jobs", len(jobs), "duration", time.Since(start).Round(time.Millisecond))
}

func (s *Service) finishJob(ctx context.Context, id string, status pipeline.Status, errMsg string, numParts int) {
	if err := s.store.UpdateJobStatus(ctx, id, status, errMsg, numParts); err != nil {
		s.logger.Error("update job status failed", "job_id", id, "error", err)
	}
}
