package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
)

// registerJobRoutes wires up the job queue endpoints on the huma API.
//
//	POST /jobs            — enqueue one job
//	POST /jobs/batch      — enqueue several jobs atomically
//	GET  /jobs/{id}       — job detail
//	POST /jobs/{id}/cancel — cancel a pending job
//	POST /jobs/{id}/retry  — re-run a failed job
//	GET  /jobs/stats      — queue counts over a recent window
//	POST /jobs/run        — execute one worker-loop invocation
func registerJobRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Enqueue a job",
		Description:   "Inserts one background job. The job becomes eligible after delay_seconds (default: immediately).",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, enqueueJobHandler(srv.store))

	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-job-batch",
		Method:        http.MethodPost,
		Path:          "/jobs/batch",
		Summary:       "Enqueue a batch of jobs",
		Description:   "Inserts all jobs in one transaction. One invalid entry rejects the whole batch.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, enqueueBatchHandler(srv.store))

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job detail",
		Description: "Returns the full job row including attempts, last error, and result.",
		Tags:        []string{"Jobs"},
	}, getJobHandler(srv.store))

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/cancel",
		Summary:     "Cancel a pending job",
		Description: "Cancels a job that has not started. Returns 409 once the job has left pending.",
		Tags:        []string{"Jobs"},
	}, cancelJobHandler(srv.store))

	huma.Register(api, huma.Operation{
		OperationID: "retry-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/retry",
		Summary:     "Retry a failed job",
		Description: "Resets a terminally failed job to pending with a fresh attempt budget. Returns 409 unless the job is failed.",
		Tags:        []string{"Jobs"},
	}, retryJobHandler(srv.store))

	huma.Register(api, huma.Operation{
		OperationID: "job-stats",
		Method:      http.MethodGet,
		Path:        "/jobs/stats",
		Summary:     "Queue statistics",
		Description: "Counts by status and by type over a recent window, for the dashboard health widget.",
		Tags:        []string{"Jobs"},
	}, jobStatsHandler(srv.store))

	huma.Register(api, huma.Operation{
		OperationID: "run-jobs",
		Method:      http.MethodPost,
		Path:        "/jobs/run",
		Summary:     "Run the worker loop once",
		Description: "Claims and executes eligible jobs until the invocation budget elapses, then reaps stuck jobs. Always returns a summary, even for a truncated run.",
		Tags:        []string{"Jobs"},
	}, runJobsHandler(srv.newRunner))
}

// ── Response types ────────────────────────────────────────────────────────────

// JobResponse is the API representation of a job row.
type JobResponse struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int32           `json:"priority"`
	Status        string          `json:"status"`
	Attempts      int32           `json:"attempts"`
	MaxAttempts   int32           `json:"max_attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	NextRunAt     string          `json:"next_run_at"` // RFC3339
	CreatedAt     string          `json:"created_at"`  // RFC3339
	StartedAt     *string         `json:"started_at,omitempty"`
	CompletedAt   *string         `json:"completed_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	ParentJobID   *uuid.UUID      `json:"parent_job_id,omitempty"`
	ClaimedBy     *string         `json:"claimed_by,omitempty"`
}

func jobToResponse(j *store.Job) JobResponse {
	r := JobResponse{
		ID:            j.ID,
		Type:          string(j.Type),
		Payload:       j.Payload,
		Priority:      j.Priority,
		Status:        string(j.Status),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		LastError:     j.LastError,
		NextRunAt:     j.NextRunAt.UTC().Format(time.RFC3339),
		CreatedAt:     j.CreatedAt.UTC().Format(time.RFC3339),
		Result:        j.Result,
		CorrelationID: j.CorrelationID,
		ParentJobID:   j.ParentJobID,
		ClaimedBy:     j.ClaimedBy,
	}
	if j.StartedAt != nil {
		s := j.StartedAt.UTC().Format(time.RFC3339)
		r.StartedAt = &s
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.UTC().Format(time.RFC3339)
		r.CompletedAt = &s
	}
	return r
}

// ── POST /jobs ────────────────────────────────────────────────────────────────

// EnqueueBody is one job to insert.
type EnqueueBody struct {
	Type          string          `json:"type" doc:"Job type: news_scan, score_ideas, select_ideas, content_pipeline, ads_sync, email_sync"`
	Payload       json.RawMessage `json:"payload,omitempty" doc:"Handler-specific payload object"`
	Priority      int32           `json:"priority,omitempty" doc:"Higher priority claims first"`
	MaxAttempts   int32           `json:"max_attempts,omitempty" minimum:"1" maximum:"10" doc:"Attempt budget (default 3)"`
	DelaySeconds  int             `json:"delay_seconds,omitempty" minimum:"0" maximum:"86400" doc:"Defer eligibility by this many seconds"`
	CorrelationID string          `json:"correlation_id,omitempty" doc:"Free-form id linking related jobs"`
}

func (b EnqueueBody) toRequest() store.EnqueueRequest {
	return store.EnqueueRequest{
		Type:    store.JobType(b.Type),
		Payload: b.Payload,
		Options: store.EnqueueOptions{
			Priority:      b.Priority,
			MaxAttempts:   b.MaxAttempts,
			Delay:         time.Duration(b.DelaySeconds) * time.Second,
			CorrelationID: b.CorrelationID,
		},
	}
}

// EnqueueInput wraps the enqueue request body.
type EnqueueInput struct {
	Body EnqueueBody
}

// EnqueueOutput is the response for POST /jobs.
type EnqueueOutput struct {
	Body struct {
		ID uuid.UUID `json:"id"`
	}
}

func enqueueJobHandler(s *store.Store) func(context.Context, *EnqueueInput) (*EnqueueOutput, error) {
	return func(ctx context.Context, input *EnqueueInput) (*EnqueueOutput, error) {
		req := input.Body.toRequest()
		id, err := s.Enqueue(ctx, req.Type, req.Payload, req.Options)
		if err != nil {
			if errors.Is(err, store.ErrUnknownJobType) {
				return nil, huma.Error400BadRequest(fmt.Sprintf("unknown job type %q", input.Body.Type))
			}
			return nil, fmt.Errorf("enqueue: %w", err)
		}
		out := &EnqueueOutput{}
		out.Body.ID = id
		return out, nil
	}
}

// ── POST /jobs/batch ──────────────────────────────────────────────────────────

// EnqueueBatchInput wraps the batch request body.
type EnqueueBatchInput struct {
	Body struct {
		Jobs []EnqueueBody `json:"jobs" minItems:"1" maxItems:"500" doc:"Jobs to insert atomically"`
	}
}

// EnqueueBatchOutput is the response for POST /jobs/batch.
type EnqueueBatchOutput struct {
	Body struct {
		IDs []uuid.UUID `json:"ids"`
	}
}

func enqueueBatchHandler(s *store.Store) func(context.Context, *EnqueueBatchInput) (*EnqueueBatchOutput, error) {
	return func(ctx context.Context, input *EnqueueBatchInput) (*EnqueueBatchOutput, error) {
		reqs := make([]store.EnqueueRequest, len(input.Body.Jobs))
		for i, b := range input.Body.Jobs {
			reqs[i] = b.toRequest()
		}
		ids, err := s.EnqueueBatch(ctx, reqs)
		if err != nil {
			if errors.Is(err, store.ErrUnknownJobType) {
				return nil, huma.Error400BadRequest(err.Error())
			}
			return nil, fmt.Errorf("enqueue batch: %w", err)
		}
		out := &EnqueueBatchOutput{}
		out.Body.IDs = ids
		return out, nil
	}
}

// ── GET /jobs/{id} ────────────────────────────────────────────────────────────

// GetJobInput defines path parameters for the single-job endpoint.
type GetJobInput struct {
	ID uuid.UUID `path:"id" doc:"Job id"`
}

// GetJobOutput is the response for GET /jobs/{id}.
type GetJobOutput struct {
	Body JobResponse
}

func getJobHandler(s *store.Store) func(context.Context, *GetJobInput) (*GetJobOutput, error) {
	return func(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
		job, err := s.GetJob(ctx, input.ID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				return nil, huma.Error404NotFound("job not found")
			}
			return nil, fmt.Errorf("get job: %w", err)
		}
		return &GetJobOutput{Body: jobToResponse(job)}, nil
	}
}

// ── POST /jobs/{id}/cancel ────────────────────────────────────────────────────

// CancelJobInput defines path parameters for the cancel endpoint.
type CancelJobInput struct {
	ID uuid.UUID `path:"id" doc:"Job id"`
}

// CancelJobOutput is the response for POST /jobs/{id}/cancel.
type CancelJobOutput struct {
	Body JobResponse
}

func cancelJobHandler(s *store.Store) func(context.Context, *CancelJobInput) (*CancelJobOutput, error) {
	return func(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
		err := s.CancelJob(ctx, input.ID)
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			return nil, huma.Error404NotFound("job not found")
		case errors.Is(err, store.ErrNotPending):
			return nil, huma.Error409Conflict("job is not pending")
		case err != nil:
			return nil, fmt.Errorf("cancel job: %w", err)
		}
		job, err := s.GetJob(ctx, input.ID)
		if err != nil {
			return nil, fmt.Errorf("get job: %w", err)
		}
		return &CancelJobOutput{Body: jobToResponse(job)}, nil
	}
}

// ── POST /jobs/{id}/retry ─────────────────────────────────────────────────────

// RetryJobInput defines path parameters for the retry endpoint.
type RetryJobInput struct {
	ID uuid.UUID `path:"id" doc:"Job id"`
}

// RetryJobOutput is the response for POST /jobs/{id}/retry.
type RetryJobOutput struct {
	Body JobResponse
}

func retryJobHandler(s *store.Store) func(context.Context, *RetryJobInput) (*RetryJobOutput, error) {
	return func(ctx context.Context, input *RetryJobInput) (*RetryJobOutput, error) {
		err := s.RetryJob(ctx, input.ID)
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			return nil, huma.Error404NotFound("job not found")
		case errors.Is(err, store.ErrNotRetryable):
			return nil, huma.Error409Conflict("job is not failed")
		case err != nil:
			return nil, fmt.Errorf("retry job: %w", err)
		}
		job, err := s.GetJob(ctx, input.ID)
		if err != nil {
			return nil, fmt.Errorf("get job: %w", err)
		}
		return &RetryJobOutput{Body: jobToResponse(job)}, nil
	}
}

// ── GET /jobs/stats ───────────────────────────────────────────────────────────

// JobStatsInput defines query parameters for the stats endpoint.
type JobStatsInput struct {
	Hours int `query:"hours" minimum:"1" maximum:"720" default:"24" doc:"Window size in hours"`
}

// JobStatsOutput is the response for GET /jobs/stats.
type JobStatsOutput struct {
	Body *store.Stats
}

func jobStatsHandler(s *store.Store) func(context.Context, *JobStatsInput) (*JobStatsOutput, error) {
	return func(ctx context.Context, input *JobStatsInput) (*JobStatsOutput, error) {
		stats, err := s.QueueStats(ctx, time.Duration(input.Hours)*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("queue stats: %w", err)
		}
		return &JobStatsOutput{Body: stats}, nil
	}
}

// ── POST /jobs/run ────────────────────────────────────────────────────────────

// RunJobsOutput relays the worker-loop summary to the trigger caller.
type RunJobsOutput struct {
	Body *worker.Summary
}

func runJobsHandler(newRunner RunnerFactory) func(context.Context, *struct{}) (*RunJobsOutput, error) {
	return func(ctx context.Context, _ *struct{}) (*RunJobsOutput, error) {
		// Run blocks for up to the invocation budget; the server's write
		// timeout is sized to accommodate it.
		sum := newRunner().Run(ctx)
		return &RunJobsOutput{Body: sum}, nil
	}
}
