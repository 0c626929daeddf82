package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/lexmap/lexmap/artifacts"
	"github.com/lexmap/lexmap/pipeline"
)

// Sink persists finalized parts as database rows plus .mmd artifact files.
// It implements pipeline.Persister.
type Sink struct {
	store  *Store
	writer *artifacts.Writer
	logger *slog.Logger
}

// NewSink combines the jobs store and an artifact writer into one Persister.
func NewSink(s *Store, w *artifacts.Writer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: s, writer: w, logger: logger}
}

// Persist writes the DB row and, for parts that produced an artifact, the
// .mmd file. The returned location is the artifact path (empty for failed
// parts, which have no artifact to write).
func (k *Sink) Persist(ctx context.Context, jobID string, res *pipeline.PartResult) (string, error) {
	job, err := k.store.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("lookup job %s: %w", jobID, err)
	}

	var location string
	if res.Artifact != "" && k.writer != nil {
		meta := artifacts.Metadata{
			JobID:        jobID,
			PartTitle:    res.Title,
			PartNumber:   res.PartNumber,
			Approved:     res.Approved,
			Forced:       res.ForcedApproval,
			Score:        res.Score,
			AttemptsUsed: res.AttemptsUsed,
		}
		base := jobID
		if job != nil {
			meta.Domain = job.Domain
			meta.Subject = job.Subject
			if job.Source != "" {
				base = strings.TrimSuffix(filepath.Base(job.Source), filepath.Ext(job.Source))
			}
		}
		location, err = k.writer.Write(ctx, base, meta, res.Artifact)
		if err != nil {
			return "", err
		}
	}

	if err := k.store.SavePartResult(ctx, jobID, res, location); err != nil {
		return location, err
	}

	k.logger.Debug("part persisted",
		"job_id", jobID, "part", res.PartNumber,
		"approved", res.Approved, "location", location)
	return location, nil
}
