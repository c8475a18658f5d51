package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// JobStore implements crawler.JobStore on a crawl_jobs table. Config,
// counters and the finished result are stored as JSONB.
type JobStore struct {
	db    DB
	table string
	now   func() time.Time
}

// NewJobStore returns a JobStore on table (default crawl_jobs).
func NewJobStore(db DB, table string, clock crawler.Clock) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	table, err := checkTable(table, "crawl_jobs")
	if err != nil {
		return nil, err
	}
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = func() time.Time { return clock.Now().UTC() }
	}
	return &JobStore{db: db, table: table, now: now}, nil
}

// CreateJob inserts job. Status defaults to queued and Submitted to now.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusQueued
	}
	if job.Submitted.IsZero() {
		job.Submitted = s.now()
	}
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, error_text, config, counters)
VALUES ($1,$2,$3,$4,$5,$6)`, s.table)
	if _, err := s.db.Exec(ctx, query,
		job.ID, string(job.Status), job.Submitted, job.ErrorText, cfg, counters,
	); err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobStatus moves a non-terminal job to status, stamping started_at
// and finished_at the first time they apply.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status crawler.JobStatus, errText string) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	started_at = CASE WHEN $4 AND started_at IS NULL THEN $6 ELSE started_at END,
	finished_at = CASE WHEN $5 AND finished_at IS NULL THEN $6 ELSE finished_at END
WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'canceled')`, s.table)
	tag, err := s.db.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		status == crawler.JobStatusRunning,
		status.Terminal(),
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("update job %s status: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already terminal; only the former is an error.
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateCounters replaces the live counters for a job.
func (s *JobStore) UpdateCounters(ctx context.Context, jobID string, counters crawler.JobCounters) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET counters = $2 WHERE id = $1`, s.table)
	tag, err := s.db.Exec(ctx, query, jobID, payload)
	if err != nil {
		return fmt.Errorf("update job %s counters: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, config, counters
FROM %s WHERE id = $1`, s.table)

	var (
		job             crawler.Job
		status          string
		cfg, counterRaw []byte
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&cfg,
		&counterRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
		}
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	job.Status = crawler.JobStatus(status)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &job.Config); err != nil {
			return crawler.Job{}, fmt.Errorf("decode job %s config: %w", jobID, err)
		}
	}
	if len(counterRaw) > 0 {
		if err := json.Unmarshal(counterRaw, &job.Counters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode job %s counters: %w", jobID, err)
		}
	}
	return job, nil
}

// SaveResult stores the finished result document.
func (s *JobStore) SaveResult(ctx context.Context, jobID string, result crawler.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET result = $2 WHERE id = $1`, s.table)
	tag, err := s.db.Exec(ctx, query, jobID, payload)
	if err != nil {
		return fmt.Errorf("save job %s result: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, jobID)
	}
	return nil
}

// GetResult loads the stored result. A job without a result reports
// crawler.ErrJobNotFound.
func (s *JobStore) GetResult(ctx context.Context, jobID string) (crawler.Result, error) {
	query := fmt.Sprintf(`SELECT result FROM %s WHERE id = $1 AND result IS NOT NULL`, s.table)
	var payload []byte
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Result{}, fmt.Errorf("%w: no result for %s", crawler.ErrJobNotFound, jobID)
		}
		return crawler.Result{}, fmt.Errorf("get job %s result: %w", jobID, err)
	}
	var res crawler.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return crawler.Result{}, fmt.Errorf("decode job %s result: %w", jobID, err)
	}
	return res, nil
}
