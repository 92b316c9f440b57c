// ABOUTME: content_pipeline handler plus the reaper release hook that drops a
// ABOUTME: stuck item back to selected with its checkpoint intact.
package handlers

import (
	"context"
	"encoding/json"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/pipeline"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
)

// ContentPipeline drives one content item through the generation stages. The
// pipeline checkpoints after every stage, so a retry resumes instead of
// regenerating what an earlier attempt already paid for.
func ContentPipeline(p *pipeline.Runner) worker.Handler {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		var payload ContentPipelinePayload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return nil, err
		}
		res, err := p.Process(ctx, payload.ContentID)
		if err != nil {
			return nil, err
		}
		return result(res)
	}
}

// ReleaseContent frees a content item whose job the reaper just failed. The
// item drops back to selected with its checkpoint intact; the retry resumes
// from the last completed stage.
func ReleaseContent(s *store.Store) func(ctx context.Context, job *store.Job) error {
	return func(ctx context.Context, job *store.Job) error {
		var payload ContentPipelinePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		return s.ReleaseContent(ctx, payload.ContentID)
	}
}
