// ABOUTME: Job queue operations — enqueue, claim, complete, fail, cancel,
// ABOUTME: retry, stuck-job listing, and queue stats. All conditional updates.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobType tags a job with the handler that executes it. The set is closed:
// Enqueue rejects anything else, and the runner treats a row whose type has
// no registered handler as a terminal failure.
type JobType string

const (
	TypeNewsScan        JobType = "news_scan"
	TypeScoreIdeas      JobType = "score_ideas"
	TypeSelectIdeas     JobType = "select_ideas"
	TypeContentPipeline JobType = "content_pipeline"
	TypeAdsSync         JobType = "ads_sync"
	TypeEmailSync       JobType = "email_sync"
)

// KnownJobTypes lists every valid job type, in dispatch-registration order.
func KnownJobTypes() []JobType {
	return []JobType{
		TypeNewsScan,
		TypeScoreIdeas,
		TypeSelectIdeas,
		TypeContentPipeline,
		TypeAdsSync,
		TypeEmailSync,
	}
}

// Valid reports whether t is a member of the closed job-type set.
func (t JobType) Valid() bool {
	switch t {
	case TypeNewsScan, TypeScoreIdeas, TypeSelectIdeas, TypeContentPipeline, TypeAdsSync, TypeEmailSync:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job row. Legal transitions:
// pending→processing (claim), processing→completed|pending|failed
// (complete / retry / exhaust), pending→cancelled, failed→pending (manual
// retry). Nothing else.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

var (
	// ErrUnknownJobType is returned by Enqueue for a type outside the closed set.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrJobNotFound is returned when no job row matches the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotPending is returned by CancelJob when the job has left pending.
	ErrNotPending = errors.New("job is not pending")
	// ErrNotRetryable is returned by RetryJob when the job is not failed.
	ErrNotRetryable = errors.New("job is not failed")
	// ErrStaleClaim is returned by CompleteJob when the job is no longer
	// processing — typically the reaper recovered it first. The attempt's
	// work stands; the job will simply run again.
	ErrStaleClaim = errors.New("job is no longer processing")
)

// Job is one unit of queued background work. Rows are never deleted, only
// terminally marked.
type Job struct {
	ID            uuid.UUID
	Type          JobType
	Payload       json.RawMessage
	Priority      int32
	Status        JobStatus
	Attempts      int32
	MaxAttempts   int32
	LastError     *string
	NextRunAt     time.Time
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Result        json.RawMessage
	CorrelationID *string
	ParentJobID   *uuid.UUID
	ClaimedBy     *string
}

const jobColumns = `id, type, payload, priority, status, attempts, max_attempts,
	last_error, next_run_at, created_at, started_at, completed_at, result,
	correlation_id, parent_job_id, claimed_by`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &j.Priority, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.LastError, &j.NextRunAt, &j.CreatedAt, &j.StartedAt,
		&j.CompletedAt, &j.Result, &j.CorrelationID, &j.ParentJobID, &j.ClaimedBy,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueOptions tunes a single Enqueue call. The zero value is valid:
// priority 0, default max attempts, eligible immediately, no linkage.
type EnqueueOptions struct {
	Priority      int32
	MaxAttempts   int32 // 0 means DefaultMaxAttempts
	Delay         time.Duration
	CorrelationID string
	ParentJobID   *uuid.UUID
}

// DefaultMaxAttempts is applied when EnqueueOptions.MaxAttempts is zero.
const DefaultMaxAttempts = 3

const enqueueSQL = `
	INSERT INTO jobs (type, payload, priority, max_attempts, next_run_at, correlation_id, parent_job_id)
	VALUES ($1, COALESCE($2::jsonb, '{}'::jsonb), $3, $4, now() + make_interval(secs => $5), NULLIF($6, ''), $7)
	RETURNING id`

// Enqueue inserts one job and returns its id. The job does not exist until
// this returns nil; callers must treat an error as nothing-was-written.
func (s *Store) Enqueue(ctx context.Context, jobType JobType, payload json.RawMessage, opts EnqueueOptions) (uuid.UUID, error) {
	if !jobType.Valid() {
		return uuid.Nil, fmt.Errorf("enqueue %q: %w", jobType, ErrUnknownJobType)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, enqueueSQL,
		jobType, payload, opts.Priority, maxAttempts,
		opts.Delay.Seconds(), opts.CorrelationID, opts.ParentJobID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	return id, nil
}

// EnqueueRequest is one entry of an EnqueueBatch call.
type EnqueueRequest struct {
	Type    JobType
	Payload json.RawMessage
	Options EnqueueOptions
}

// EnqueueBatch inserts all requests in one transaction. Either every job
// exists afterwards or none do — callers must never rely on partial success.
func (s *Store) EnqueueBatch(ctx context.Context, reqs []EnqueueRequest) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(reqs))
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for i, req := range reqs {
			if !req.Type.Valid() {
				return fmt.Errorf("batch entry %d (%q): %w", i, req.Type, ErrUnknownJobType)
			}
			maxAttempts := req.Options.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = s.defaultMaxAttempts
			}
			var id uuid.UUID
			err := tx.QueryRow(ctx, enqueueSQL,
				req.Type, req.Payload, req.Options.Priority, maxAttempts,
				req.Options.Delay.Seconds(), req.Options.CorrelationID, req.Options.ParentJobID,
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("batch entry %d (%s): %w", i, req.Type, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}
	return ids, nil
}

// GetJob returns one job by id, or ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// Eligible rows: pending, due, highest priority first, ties to the earliest
// next_run_at. Exactly one claimer may win any given row.
const claimSkipLockedSQL = `
	UPDATE jobs
	SET status = 'processing', started_at = now(), attempts = attempts + 1, claimed_by = $1
	WHERE id = (
		SELECT id FROM jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY priority DESC, next_run_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	RETURNING ` + jobColumns

const claimCandidateSQL = `
	SELECT id FROM jobs
	WHERE status = 'pending' AND next_run_at <= now()
	ORDER BY priority DESC, next_run_at ASC
	LIMIT 1`

const claimConditionalSQL = `
	UPDATE jobs
	SET status = 'processing', started_at = now(), attempts = attempts + 1, claimed_by = $1
	WHERE id = $2 AND status = 'pending'
	RETURNING ` + jobColumns

// ClaimNextJob atomically transitions one eligible job to processing on
// behalf of workerID and returns it with attempts already incremented.
// Returns (nil, nil) when nothing is eligible.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*Job, error) {
	if s.claimMode == ClaimOptimistic {
		return s.claimOptimistic(ctx, workerID)
	}
	j, err := scanJob(s.pool.QueryRow(ctx, claimSkipLockedSQL, workerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// claimOptimistic picks a candidate and races for it with a conditional
// update. Zero rows affected means another claimer won; retry selection a
// bounded number of times (never recurse) and give up with (nil, nil).
func (s *Store) claimOptimistic(ctx context.Context, workerID string) (*Job, error) {
	for attempt := 0; attempt < s.claimRetries; attempt++ {
		if attempt > 0 {
			// Brief jittered pause so racing invocations interleave instead
			// of hammering the same candidate row.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(10+rand.IntN(40)) * time.Millisecond):
			}
		}

		var candidate uuid.UUID
		err := s.pool.QueryRow(ctx, claimCandidateSQL).Scan(&candidate)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}

		j, err := scanJob(s.pool.QueryRow(ctx, claimConditionalSQL, workerID, candidate))
		if errors.Is(err, pgx.ErrNoRows) {
			continue // lost the race
		}
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", candidate, err)
		}
		return j, nil
	}
	return nil, nil
}

// CompleteJob marks a processing job completed and stores its result.
// Returns ErrStaleClaim if the job is no longer processing (for example the
// reaper already recovered it); the caller's work is kept, the job re-runs.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', completed_at = now(), result = $2
		 WHERE id = $1 AND status = 'processing'`, id, result)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: %w", id, ErrStaleClaim)
	}
	return nil
}

// FailJob records a failure for a processing job. If attempts are exhausted
// the job lands in failed with an audit row and terminal=true; otherwise it
// returns to pending with next_run_at pushed out by RetryBackoff. Calling it
// again for the same failure, or for a job already terminal, is a no-op —
// the status='processing' guard makes later calls affect zero rows.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string, baseDelay time.Duration) (terminal bool, err error) {
	if baseDelay <= 0 {
		baseDelay = DefaultRetryDelay
	}

	var status JobStatus
	var attempts, maxAttempts int32
	err = s.pool.QueryRow(ctx,
		`SELECT status, attempts, max_attempts FROM jobs WHERE id = $1`, id,
	).Scan(&status, &attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("fail job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if status != StatusProcessing {
		return false, nil
	}

	if attempts >= maxAttempts {
		return s.failTerminally(ctx, id, errMsg)
	}

	backoff := RetryBackoff(int(attempts), baseDelay)
	ct, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', next_run_at = now() + make_interval(secs => $2), last_error = $3
		 WHERE id = $1 AND status = 'processing'`,
		id, backoff.Seconds(), errMsg)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil // raced with another failure path
	}
	return false, nil
}

// FailJobPermanently moves a processing job straight to failed, bypassing
// the backoff schedule. Used when retrying cannot help, e.g. a job type with
// no registered handler.
func (s *Store) FailJobPermanently(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.failTerminally(ctx, id, errMsg)
	return err
}

// failTerminally marks the job failed and writes the permanent-failure audit
// row in one transaction, still guarded by status='processing'.
func (s *Store) failTerminally(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	terminal := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'failed', completed_at = now(), last_error = $2
			 WHERE id = $1 AND status = 'processing'`, id, errMsg)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil // raced; someone else settled the job
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO job_failures (job_id, job_type, attempts, last_error, payload)
			 SELECT id, type, attempts, $2, payload FROM jobs WHERE id = $1`, id, errMsg)
		if err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		terminal = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	return terminal, nil
}

// CancelJob cancels a job that has not started. Only pending jobs can be
// cancelled: a missing id returns ErrJobNotFound, any other state
// ErrNotPending.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = now()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("cancel job %s: %w", id, s.explainZeroRows(ctx, id, ErrNotPending))
	}
	return nil
}

// RetryJob is the manual operator path: a failed job returns to pending with
// a fresh attempt budget, eligible immediately. last_error is kept for
// history. Only valid from failed: a missing id returns ErrJobNotFound, any
// other state ErrNotRetryable.
func (s *Store) RetryJob(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', attempts = 0, next_run_at = now(), started_at = NULL, completed_at = NULL
		 WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("retry job %s: %w", id, s.explainZeroRows(ctx, id, ErrNotRetryable))
	}
	return nil
}

// explainZeroRows decides what a zero-row conditional update meant: the row
// does not exist (ErrJobNotFound) or it exists in a state the operation does
// not accept (stateErr).
func (s *Store) explainZeroRows(ctx context.Context, id uuid.UUID, stateErr error) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return stateErr
	}
	if !exists {
		return ErrJobNotFound
	}
	return stateErr
}

// StuckJobs lists jobs that have sat in processing longer than threshold,
// oldest first. The runner routes each through FailJob.
func (s *Store) StuckJobs(ctx context.Context, threshold time.Duration) ([]*Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'processing' AND started_at < now() - make_interval(secs => $1)
		 ORDER BY started_at ASC`, threshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	return jobs, nil
}

// TypeStats is the per-type slice of QueueStats.
type TypeStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Stats summarizes queue state over a recent window.
type Stats struct {
	Pending    int                   `json:"pending"`
	Processing int                   `json:"processing"`
	Completed  int                   `json:"completed"`
	Failed     int                   `json:"failed"`
	Cancelled  int                   `json:"cancelled"`
	ByType     map[JobType]TypeStats `json:"by_type"`
}

// QueueStats counts jobs created within the window, grouped by status and
// type.
func (s *Store) QueueStats(ctx context.Context, window time.Duration) (*Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT type, status, count(*) FROM jobs
		 WHERE created_at > now() - make_interval(secs => $1)
		 GROUP BY type, status`, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByType: make(map[JobType]TypeStats)}
	for rows.Next() {
		var (
			jobType JobType
			status  JobStatus
			count   int
		)
		if err := rows.Scan(&jobType, &status, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		ts := stats.ByType[jobType]
		switch status {
		case StatusPending:
			stats.Pending += count
			ts.Pending += count
		case StatusProcessing:
			stats.Processing += count
			ts.Processing += count
		case StatusCompleted:
			stats.Completed += count
			ts.Completed += count
		case StatusFailed:
			stats.Failed += count
			ts.Failed += count
		case StatusCancelled:
			stats.Cancelled += count
			ts.Cancelled += count
		}
		stats.ByType[jobType] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}
