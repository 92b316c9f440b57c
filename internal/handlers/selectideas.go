// ABOUTME: select_ideas handler: promotes the top-scored ideas and enqueues a
// ABOUTME: content_pipeline child job per winner, correlated to the selector.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
)

const defaultSelectCount = 3

// SelectIdeas promotes the top-scored ideas for a campaign and enqueues a
// content_pipeline job for each. The pipeline jobs carry the selector's id as
// parent and share its correlation id, so a whole batch can be traced back to
// the run that spawned it.
func SelectIdeas(s *store.Store) worker.Handler {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		var p SelectIdeasPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return nil, err
		}
		count := p.Count
		if count == 0 {
			count = defaultSelectCount
		}

		ideas, err := s.TopScoredIdeas(ctx, p.CampaignID, count)
		if err != nil {
			return nil, err
		}

		corr := job.ID.String()
		if job.CorrelationID != nil {
			corr = *job.CorrelationID
		}

		selected := 0
		for _, idea := range ideas {
			if err := s.MarkContentSelected(ctx, idea.ID); err != nil {
				if errors.Is(err, store.ErrContentState) {
					continue // already selected by an earlier attempt
				}
				return nil, err
			}

			payload, err := json.Marshal(ContentPipelinePayload{ContentID: idea.ID})
			if err != nil {
				return nil, fmt.Errorf("marshal pipeline payload: %w", err)
			}
			if _, err := s.Enqueue(ctx, store.TypeContentPipeline, payload, store.EnqueueOptions{
				CorrelationID: corr,
				ParentJobID:   &job.ID,
			}); err != nil {
				return nil, fmt.Errorf("enqueue pipeline for %s: %w", idea.ID, err)
			}
			selected++
		}

		return result(map[string]int{"selected": selected})
	}
}
