// Package pipeline runs the multi-stage content-generation pipeline with
// checkpointed resume. Every stage chains a non-idempotent external model
// call, so progress is persisted on the content item after each stage: a
// retried or re-claimed job resumes where the last attempt stopped instead
// of paying for completed stages again.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/google/uuid"
)

// ContentStore is the slice of the data layer the pipeline needs.
// *store.Store implements it.
type ContentStore interface {
	GetContentItem(ctx context.Context, id uuid.UUID) (*store.ContentItem, error)
	MarkContentProcessing(ctx context.Context, id uuid.UUID) error
	SaveCheckpoint(ctx context.Context, id uuid.UUID, checkpoint json.RawMessage) error
	FinalizeContent(ctx context.Context, id uuid.UUID, body string) error
}

// StageExecutor performs the expensive external calls, one method per stage.
// Inputs come from the accumulated State so a resumed run can feed a stage
// without re-running its predecessors.
type StageExecutor interface {
	Draft(ctx context.Context, item *store.ContentItem) (string, error)
	Edit(ctx context.Context, item *store.ContentItem, draft string) (string, error)
	Polish(ctx context.Context, item *store.ContentItem, edited string) (string, error)
	Compliance(ctx context.Context, item *store.ContentItem, polished string) (string, error)
}

// Result reports what one Process call did.
type Result struct {
	ContentID uuid.UUID `json:"content_id"`
	StagesRun []Stage   `json:"stages_run"`
	Resumed   bool      `json:"resumed"`
	BodyChars int       `json:"body_chars"`
}

// Runner executes the pipeline for one content item at a time.
type Runner struct {
	store ContentStore
	exec  StageExecutor
}

// NewRunner creates a pipeline Runner.
func NewRunner(cs ContentStore, exec StageExecutor) *Runner {
	return &Runner{store: cs, exec: exec}
}

// Process drives the item through its remaining stages and finalizes it.
//
// The item must be selected (fresh or released by the reaper) or processing
// (re-entrant resume after a retry). Each completed stage persists an
// updated checkpoint before the next stage begins; a failed checkpoint write
// aborts the run, because continuing past it would re-run a paid stage on
// the next attempt. Process is safe to call again for a completed item.
func (r *Runner) Process(ctx context.Context, id uuid.UUID) (*Result, error) {
	item, err := r.store.GetContentItem(ctx, id)
	if err != nil {
		return nil, err
	}

	switch item.Status {
	case store.ContentCompleted:
		// A redelivered job for finished work; nothing to do.
		return &Result{ContentID: id, Resumed: true}, nil
	case store.ContentSelected:
		if err := r.store.MarkContentProcessing(ctx, id); err != nil {
			if !errors.Is(err, store.ErrContentState) {
				return nil, err
			}
			// Lost the transition race; re-read and resume if the winner
			// left the item processing.
			item, err = r.store.GetContentItem(ctx, id)
			if err != nil {
				return nil, err
			}
			if item.Status != store.ContentProcessing {
				return nil, fmt.Errorf("content item %s is %s, not runnable", id, item.Status)
			}
		}
	case store.ContentProcessing:
		// Re-entrant: a retried job resumes from the checkpoint below.
	default:
		return nil, fmt.Errorf("content item %s is %s, not runnable", id, item.Status)
	}

	cp, err := ParseCheckpoint(item.Checkpoint)
	if err != nil {
		return nil, err
	}
	stages, err := remainingStages(cp)
	if err != nil {
		return nil, err
	}

	state := State{}
	resumed := cp != nil
	if cp != nil {
		state = cp.State
		slog.Info("resuming content pipeline",
			"content_id", id, "after_stage", cp.Step, "stages_left", len(stages))
	}

	var ran []Stage
	for _, stage := range stages {
		if err := r.runStage(ctx, stage, item, &state); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		raw, err := Checkpoint{Version: CheckpointVersion, Step: stage, State: state}.Encode()
		if err != nil {
			return nil, err
		}
		// Happens-before the next stage: a crash from here on resumes
		// after this stage, never inside or before it.
		if err := r.store.SaveCheckpoint(ctx, id, raw); err != nil {
			return nil, fmt.Errorf("checkpoint after %s: %w", stage, err)
		}
		ran = append(ran, stage)
		slog.Debug("pipeline stage completed", "content_id", id, "stage", stage)
	}

	if state.Polished == "" {
		return nil, fmt.Errorf("content item %s: pipeline produced no body", id)
	}
	if err := r.store.FinalizeContent(ctx, id, state.Polished); err != nil {
		return nil, err
	}

	return &Result{
		ContentID: id,
		StagesRun: ran,
		Resumed:   resumed,
		BodyChars: len(state.Polished),
	}, nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage, item *store.ContentItem, state *State) error {
	switch stage {
	case StageDraft:
		out, err := r.exec.Draft(ctx, item)
		if err != nil {
			return err
		}
		state.Draft = out
	case StageEdit:
		out, err := r.exec.Edit(ctx, item, state.Draft)
		if err != nil {
			return err
		}
		state.Edited = out
	case StagePolish:
		out, err := r.exec.Polish(ctx, item, state.Edited)
		if err != nil {
			return err
		}
		state.Polished = out
	case StageCompliance:
		notes, err := r.exec.Compliance(ctx, item, state.Polished)
		if err != nil {
			return err
		}
		state.ComplianceNotes = notes
	default:
		return fmt.Errorf("stage %q: %w", stage, ErrCheckpointStep)
	}
	return nil
}
