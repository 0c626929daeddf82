package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexmap/lexmap/pipeline"
)

// JobRecord is one jobs row.
type JobRecord struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Domain       string `json:"domain"`
	Subject      string `json:"subject"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	NumParts     int    `json:"num_parts"`
	CreatedAt    int64  `json:"created_at"`
	FinishedAt   int64  `json:"finished_at,omitempty"`
}

// PartRow is one part_results row with its pipeline result decoded.
type PartRow struct {
	JobID    string              `json:"job_id"`
	Result   pipeline.PartResult `json:"result"`
	Location string              `json:"location,omitempty"`
	SavedAt  int64               `json:"saved_at"`
}

// InsertJob stores a new job row. CreatedAt defaults to now.
func (s *Store) InsertJob(ctx context.Context, j *JobRecord) error {
	if j.CreatedAt == 0 {
		j.CreatedAt = time.Now().UnixMilli()
	}
	if j.Status == "" {
		j.Status = string(pipeline.StatusPending)
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO jobs (id, source, domain, subject, status, error_message, num_parts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Source, j.Domain, j.Subject, j.Status, j.ErrorMessage, j.NumParts, j.CreatedAt)
	return err
}

// UpdateJobStatus updates status and error message; terminal statuses also
// stamp finished_at.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status pipeline.Status, errMsg string, numParts int) error {
	var finished any
	if status.Terminal() {
		finished = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, num_parts = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, numParts, finished, id)
	return err
}

// UpdateJobMeta records the domain and subject extracted from the document.
func (s *Store) UpdateJobMeta(ctx context.Context, id, domain, subject string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET domain = ?, subject = ? WHERE id = ?`, domain, subject, id)
	return err
}

// GetJob retrieves a job by ID. Returns nil, nil when not found.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, source, domain, subject, status, error_message, num_parts,
		created_at, COALESCE(finished_at, 0)
		FROM jobs WHERE id = ?`, id)

	var j JobRecord
	err := row.Scan(&j.ID, &j.Source, &j.Domain, &j.Subject, &j.Status,
		&j.ErrorMessage, &j.NumParts, &j.CreatedAt, &j.FinishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, source, domain, subject, status, error_message, num_parts,
		created_at, COALESCE(finished_at, 0)
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*JobRecord
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.ID, &j.Source, &j.Domain, &j.Subject, &j.Status,
			&j.ErrorMessage, &j.NumParts, &j.CreatedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, &j)
	}
	return result, rows.Err()
}

// SavePartResult upserts one finalized part result for a job.
func (s *Store) SavePartResult(ctx context.Context, jobID string, res *pipeline.PartResult, location string) error {
	problems, err := json.Marshal(res.Problems)
	if err != nil {
		return fmt.Errorf("marshal problems: %w", err)
	}
	suggestions, err := json.Marshal(res.Suggestions)
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO part_results (job_id, part_number, title, artifact, approved,
		forced_approval, score, attempts_used, problems_json, suggestions_json,
		rationale, location, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, part_number) DO UPDATE SET
		title = excluded.title, artifact = excluded.artifact,
		approved = excluded.approved, forced_approval = excluded.forced_approval,
		score = excluded.score, attempts_used = excluded.attempts_used,
		problems_json = excluded.problems_json,
		suggestions_json = excluded.suggestions_json,
		rationale = excluded.rationale, location = excluded.location,
		saved_at = excluded.saved_at`,
		jobID, res.PartNumber, res.Title, res.Artifact, boolInt(res.Approved),
		boolInt(res.ForcedApproval), res.Score, res.AttemptsUsed,
		string(problems), string(suggestions), res.Rationale, location,
		time.Now().UnixMilli())
	return err
}

// ListPartResults returns all stored results for a job, ordered by part.
func (s *Store) ListPartResults(ctx context.Context, jobID string) ([]*PartRow, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT job_id, part_number, title, artifact, approved, forced_approval,
		score, attempts_used, problems_json, suggestions_json, rationale,
		location, saved_at
		FROM part_results WHERE job_id = ? ORDER BY part_number`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PartRow
	for rows.Next() {
		var (
			r                     PartRow
			approved, forced      int
			problems, suggestions string
		)
		if err := rows.Scan(&r.JobID, &r.Result.PartNumber, &r.Result.Title,
			&r.Result.Artifact, &approved, &forced, &r.Result.Score,
			&r.Result.AttemptsUsed, &problems, &suggestions,
			&r.Result.Rationale, &r.Location, &r.SavedAt); err != nil {
			return nil, fmt.Errorf("scan part result: %w", err)
		}
		r.Result.Approved = approved != 0
		r.Result.ForcedApproval = forced != 0
		r.Result.Finalized = true
		if err := json.Unmarshal([]byte(problems), &r.Result.Problems); err != nil {
			return nil, fmt.Errorf("decode problems: %w", err)
		}
		if err := json.Unmarshal([]byte(suggestions), &r.Result.Suggestions); err != nil {
			return nil, fmt.Errorf("decode suggestions: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
