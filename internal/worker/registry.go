// Package worker drives background job execution inside a hard wall-clock
// budget. There is no long-lived pool: each Runner.Run invocation claims and
// executes jobs strictly one at a time until the budget elapses or the queue
// drains, then runs the stuck-job reaper exactly once and returns a summary.
// Concurrency comes from overlapping invocations, which coordinate only
// through the store's conditional updates.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/google/uuid"
)

// Handler executes one claimed job. A nil error marks the job completed with
// the returned result blob; a non-nil error (or a panic, which the dispatcher
// converts) routes through the retry/backoff path.
type Handler func(ctx context.Context, job *store.Job) (json.RawMessage, error)

// HandlerSpec bundles what the runner knows about one job type.
type HandlerSpec struct {
	Run Handler
	// OnStuck runs when the reaper recovers a stuck job of this type. It
	// releases whatever domain entity the job was holding — for pipeline
	// jobs, the content item goes back to selected with its checkpoint
	// intact. Optional.
	OnStuck func(ctx context.Context, job *store.Job) error
}

// Registry is the dispatch table from job type to handler. The type set is
// closed: registering outside store.KnownJobTypes is a wiring bug and
// panics at startup. A claimed row whose type has no entry is a terminal
// failure for that job, never a crash of the loop.
type Registry struct {
	mu       sync.RWMutex
	handlers map[store.JobType]HandlerSpec
}

// NewRegistry returns an empty dispatch table.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[store.JobType]HandlerSpec)}
}

// Register associates spec with jobType. Must be called before Run.
func (r *Registry) Register(jobType store.JobType, spec HandlerSpec) {
	if !jobType.Valid() {
		panic(fmt.Sprintf("worker: register unknown job type %q", jobType))
	}
	if spec.Run == nil {
		panic(fmt.Sprintf("worker: register nil handler for %q", jobType))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[jobType]; dup {
		panic(fmt.Sprintf("worker: duplicate handler for %q", jobType))
	}
	r.handlers[jobType] = spec
}

func (r *Registry) lookup(jobType store.JobType) (HandlerSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.handlers[jobType]
	return spec, ok
}

// Outcome classifies how one dispatched job ended within this invocation.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
)

// JobResult is the per-job record inside a Summary.
type JobResult struct {
	JobID      uuid.UUID     `json:"job_id"`
	Type       store.JobType `json:"type"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

// Summary aggregates one Runner.Run invocation. The triggering caller always
// receives one, even when the loop stopped early — Truncated marks runs cut
// short by the budget, context, a claim error, or a mid-loop panic.
type Summary struct {
	WorkerID  string      `json:"worker_id"`
	Processed int         `json:"processed"`
	Completed int         `json:"completed"`
	Retried   int         `json:"retried"`
	Failed    int         `json:"failed"`
	Reaped    int         `json:"reaped"`
	Truncated bool        `json:"truncated"`
	ElapsedMS int64       `json:"elapsed_ms"`
	Results   []JobResult `json:"results"`
}
