package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stage is one step of the content-generation pipeline. Stages run strictly
// in order; each one costs an external model call.
type Stage string

const (
	StageDraft      Stage = "draft"
	StageEdit       Stage = "edit"
	StagePolish     Stage = "polish"
	StageCompliance Stage = "compliance"
	StageCompleted  Stage = "completed"
)

// stageOrder is the execution sequence. StageCompleted is a marker, not a
// runnable stage.
var stageOrder = []Stage{StageDraft, StageEdit, StagePolish, StageCompliance}

// CheckpointVersion is the current envelope shape. Bump it when State grows
// a field that resume logic depends on.
const CheckpointVersion = 1

var (
	// ErrCheckpointVersion means the stored checkpoint was written by a
	// different envelope version. Resuming from a shape we cannot read
	// risks re-running paid stages, so this is a hard error.
	ErrCheckpointVersion = errors.New("unsupported checkpoint version")
	// ErrCheckpointStep means the stored step is not part of the stage enum.
	ErrCheckpointStep = errors.New("unknown checkpoint step")
)

// State accumulates everything the completed stages produced. It must be
// sufficient to resume at the next stage without recomputation.
type State struct {
	Draft           string `json:"draft,omitempty"`
	Edited          string `json:"edited,omitempty"`
	Polished        string `json:"polished,omitempty"`
	ComplianceNotes string `json:"compliance_notes,omitempty"`
}

// Checkpoint is the versioned envelope persisted on the content item after
// each completed stage: a later attempt resumes at Step+1 and never
// re-invokes stages at or before Step.
type Checkpoint struct {
	Version int   `json:"version"`
	Step    Stage `json:"step"`
	State   State `json:"state"`
}

// Encode marshals the checkpoint for storage.
func (c Checkpoint) Encode() (json.RawMessage, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return raw, nil
}

// ParseCheckpoint decodes a stored checkpoint. (nil, nil) when raw is empty
// — the pipeline starts from the first stage.
func ParseCheckpoint(raw json.RawMessage) (*Checkpoint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d: %w", cp.Version, ErrCheckpointVersion)
	}
	return &cp, nil
}

// remainingStages returns the stages still to run after cp. A nil cp means
// all of them.
func remainingStages(cp *Checkpoint) ([]Stage, error) {
	if cp == nil {
		return stageOrder, nil
	}
	if cp.Step == StageCompleted {
		return nil, nil
	}
	for i, s := range stageOrder {
		if s == cp.Step {
			return stageOrder[i+1:], nil
		}
	}
	return nil, fmt.Errorf("checkpoint step %q: %w", cp.Step, ErrCheckpointStep)
}
