package store

import "database/sql"

// Schema holds every table and index the service needs. All statements are
// idempotent so ApplySchema can run on every start.
const Schema = `
-- One row per processed document
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    source        TEXT NOT NULL DEFAULT '',
    domain        TEXT NOT NULL DEFAULT '',
    subject       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT NOT NULL DEFAULT '',
    num_parts     INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_time ON jobs(created_at DESC);

-- One row per finalized part
CREATE TABLE IF NOT EXISTS part_results (
    job_id           TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    part_number      INTEGER NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    artifact         TEXT NOT NULL DEFAULT '',
    approved         INTEGER NOT NULL DEFAULT 0,
    forced_approval  INTEGER NOT NULL DEFAULT 0,
    score            REAL NOT NULL DEFAULT 0,
    attempts_used    INTEGER NOT NULL DEFAULT 0,
    problems_json    TEXT NOT NULL DEFAULT '[]',
    suggestions_json TEXT NOT NULL DEFAULT '[]',
    rationale        TEXT NOT NULL DEFAULT '',
    location         TEXT NOT NULL DEFAULT '',
    saved_at         INTEGER NOT NULL,
    PRIMARY KEY (job_id, part_number)
);
CREATE INDEX IF NOT EXISTS idx_part_results_job ON part_results(job_id, part_number);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
