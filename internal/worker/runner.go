package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/google/uuid"
)

// JobStore is the slice of the data layer the runner needs. *store.Store
// implements it; tests substitute an in-memory fake.
type JobStore interface {
	ClaimNextJob(ctx context.Context, workerID string) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string, baseDelay time.Duration) (terminal bool, err error)
	FailJobPermanently(ctx context.Context, id uuid.UUID, errMsg string) error
	StuckJobs(ctx context.Context, threshold time.Duration) ([]*store.Job, error)
}

// FailureNotifier receives jobs that exhausted their attempts. Implementations
// must be best-effort: they log their own errors and never block the loop for
// long.
type FailureNotifier interface {
	JobFailedPermanently(ctx context.Context, job *store.Job, errMsg string)
}

// Config tunes one Runner. Zero values fall back to the defaults below.
type Config struct {
	// Budget is the wall-clock limit for one Run invocation. Keep it below
	// the trigger's own timeout so the summary always makes it back.
	Budget time.Duration
	// StuckThreshold is how long a job may sit in processing before the
	// reaper recovers it.
	StuckThreshold time.Duration
	// BaseRetryDelay seeds the exponential backoff schedule.
	BaseRetryDelay time.Duration
}

const (
	defaultBudget         = 4 * time.Minute
	defaultStuckThreshold = 10 * time.Minute
	reapTimeout           = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = defaultBudget
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = defaultStuckThreshold
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = store.DefaultRetryDelay
	}
	return c
}

// Runner executes one time-boxed claim/dispatch loop per Run call. Safe for
// concurrent Run invocations; all coordination happens in the store.
type Runner struct {
	store    JobStore
	registry *Registry
	notifier FailureNotifier
	cfg      Config
	workerID string
}

// NewRunner creates a Runner. notifier may be nil to disable permanent-failure
// alerts. A random workerID distinguishes this runner in claimed_by.
func NewRunner(s JobStore, reg *Registry, notifier FailureNotifier, cfg Config) *Runner {
	return &Runner{
		store:    s,
		registry: reg,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		workerID: uuid.New().String(),
	}
}

// WorkerID returns the id recorded in claimed_by for jobs this runner claims.
func (r *Runner) WorkerID() string { return r.workerID }

// Run claims and executes jobs one at a time until the budget elapses, ctx is
// done, or no job is eligible. The reaper then runs exactly once — also after
// a mid-loop panic — and the aggregate summary is always returned.
func (r *Runner) Run(ctx context.Context) *Summary {
	start := time.Now()
	sum := &Summary{WorkerID: r.workerID}

	slog.Info("job run started", "worker_id", r.workerID, "budget", r.cfg.Budget)
	r.loop(ctx, start.Add(r.cfg.Budget), sum)

	// The reaper must survive a cancelled trigger context, otherwise stuck
	// jobs stay stuck exactly when recovery matters most.
	reapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reapTimeout)
	defer cancel()
	sum.Reaped = r.reap(reapCtx)

	sum.ElapsedMS = time.Since(start).Milliseconds()
	slog.Info("job run finished",
		"worker_id", r.workerID, "processed", sum.Processed, "completed", sum.Completed,
		"retried", sum.Retried, "failed", sum.Failed, "reaped", sum.Reaped,
		"truncated", sum.Truncated, "elapsed_ms", sum.ElapsedMS)
	return sum
}

// loop is the claim/dispatch cycle. Jobs run strictly one at a time within an
// invocation; parallelism comes only from overlapping invocations. The
// recover keeps Run's reaper-and-summary path alive no matter what the loop
// does.
func (r *Runner) loop(ctx context.Context, deadline time.Time, sum *Summary) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("job loop panicked", "worker_id", r.workerID, "panic", p)
			sum.Truncated = true
		}
	}()

	for {
		if ctx.Err() != nil || time.Now().After(deadline) {
			sum.Truncated = true
			return
		}

		job, err := r.store.ClaimNextJob(ctx, r.workerID)
		if err != nil {
			slog.Error("claim job error", "worker_id", r.workerID, "error", err)
			sum.Truncated = true
			return
		}
		if job == nil {
			return // queue drained; normal end of loop
		}

		res := r.dispatch(ctx, job)
		sum.Processed++
		switch res.Outcome {
		case OutcomeCompleted:
			sum.Completed++
		case OutcomeRetrying:
			sum.Retried++
		case OutcomeFailed:
			sum.Failed++
		}
		sum.Results = append(sum.Results, res)
	}
}

// dispatch routes one claimed job to its handler and records the outcome.
// Handler errors and panics never escape: they become FailJob calls.
func (r *Runner) dispatch(ctx context.Context, job *store.Job) JobResult {
	start := time.Now()
	res := JobResult{JobID: job.ID, Type: job.Type}
	log := slog.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts)

	spec, ok := r.registry.lookup(job.Type)
	if !ok {
		msg := fmt.Sprintf("no handler registered for job type %q", job.Type)
		log.Error("unknown job type")
		if err := r.store.FailJobPermanently(ctx, job.ID, msg); err != nil {
			log.Error("fail job error", "error", err)
		}
		r.notify(ctx, job, msg)
		res.Outcome = OutcomeFailed
		res.Error = msg
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}

	log.Info("executing job")
	result, err := runHandler(ctx, spec.Run, job)
	res.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		log.Warn("job failed", "error", err, "duration_ms", res.DurationMS)
		terminal, failErr := r.store.FailJob(ctx, job.ID, err.Error(), r.cfg.BaseRetryDelay)
		if failErr != nil {
			log.Error("fail job error", "error", failErr)
		}
		res.Error = err.Error()
		if terminal {
			res.Outcome = OutcomeFailed
			r.notify(ctx, job, err.Error())
		} else {
			res.Outcome = OutcomeRetrying
		}
		return res
	}

	if err := r.store.CompleteJob(ctx, job.ID, result); err != nil {
		// Usually ErrStaleClaim: the reaper recovered the job mid-flight.
		// The work stands and the job will simply run again.
		log.Error("complete job error", "error", err)
		res.Outcome = OutcomeRetrying
		res.Error = err.Error()
		return res
	}

	log.Info("job completed", "duration_ms", res.DurationMS)
	res.Outcome = OutcomeCompleted
	return res
}

// runHandler converts handler panics into ordinary errors so a single bad
// job cannot abort the invocation.
func runHandler(ctx context.Context, h Handler, job *store.Job) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(ctx, job)
}

// reap routes every over-threshold processing job back through FailJob —
// the same attempts/backoff accounting as any other failure — and fires the
// per-type OnStuck cleanup. Returns how many jobs were recovered.
func (r *Runner) reap(ctx context.Context) int {
	stuck, err := r.store.StuckJobs(ctx, r.cfg.StuckThreshold)
	if err != nil {
		slog.Error("list stuck jobs error", "worker_id", r.workerID, "error", err)
		return 0
	}

	reaped := 0
	for _, job := range stuck {
		msg := fmt.Sprintf("processing timed out after %s", r.cfg.StuckThreshold)
		terminal, err := r.store.FailJob(ctx, job.ID, msg, r.cfg.BaseRetryDelay)
		if err != nil {
			slog.Error("reap job error", "job_id", job.ID, "error", err)
			continue
		}
		reaped++

		if spec, ok := r.registry.lookup(job.Type); ok && spec.OnStuck != nil {
			if err := spec.OnStuck(ctx, job); err != nil {
				slog.Error("stuck-job cleanup error", "job_id", job.ID, "type", job.Type, "error", err)
			}
		}
		if terminal {
			r.notify(ctx, job, msg)
		}
		slog.Warn("reaped stuck job", "job_id", job.ID, "type", job.Type, "terminal", terminal)
	}
	return reaped
}

func (r *Runner) notify(ctx context.Context, job *store.Job, msg string) {
	if r.notifier == nil {
		return
	}
	r.notifier.JobFailedPermanently(ctx, job, msg)
}
