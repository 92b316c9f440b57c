// ABOUTME: score_ideas handler: rates unscored ideas against the campaign
// ABOUTME: audience, one chat completion per idea, batch-capped per attempt.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// IdeaScorer rates how well an idea fits a campaign audience, 0-100.
type IdeaScorer interface {
	Score(ctx context.Context, item *store.ContentItem, audience string) (float32, error)
}

const scorePrompt = "You rate content ideas for marketing fit. Given an audience " +
	"and an idea, reply with a single number from 0 to 100 — nothing else."

// OpenAIScorer scores ideas with one chat completion per idea.
type OpenAIScorer struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAIScorer creates a scorer for the given API key and model.
func NewOpenAIScorer(apiKey, model string) *OpenAIScorer {
	return &OpenAIScorer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModel(model),
	}
}

// Score asks the model for a 0-100 rating.
func (o *OpenAIScorer) Score(ctx context.Context, item *store.ContentItem, audience string) (float32, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(scorePrompt),
			openai.UserMessage(fmt.Sprintf("Audience: %s\n\nIdea: %s — %s", audience, item.Title, item.Summary)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("score completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, errors.New("score completion returned no choices")
	}
	return parseScore(resp.Choices[0].Message.Content)
}

// parseScore reads the leading number out of a model reply and clamps it to
// [0, 100].
func parseScore(reply string) (float32, error) {
	fields := strings.Fields(strings.TrimSpace(reply))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty score reply")
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 32)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", reply, err)
	}
	if f < 0 {
		f = 0
	}
	if f > 100 {
		f = 100
	}
	return float32(f), nil
}

const defaultScoreBatch = 20

// ScoreIdeas scores a batch of unscored ideas for a campaign. Already-scored
// ideas are not re-listed, so a retried job picks up where the last attempt
// stopped instead of re-spending on the same ideas.
func ScoreIdeas(s *store.Store, scorer IdeaScorer) worker.Handler {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		var p ScoreIdeasPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return nil, err
		}
		batch := p.BatchSize
		if batch == 0 {
			batch = defaultScoreBatch
		}

		campaign, err := s.GetCampaign(ctx, p.CampaignID)
		if err != nil {
			return nil, err
		}
		ideas, err := s.UnscoredIdeas(ctx, p.CampaignID, batch)
		if err != nil {
			return nil, err
		}

		scored := 0
		for _, idea := range ideas {
			score, err := scorer.Score(ctx, idea, campaign.Audience)
			if err != nil {
				return nil, fmt.Errorf("score idea %s: %w", idea.ID, err)
			}
			if err := s.SetContentScore(ctx, idea.ID, score); err != nil {
				if errors.Is(err, store.ErrContentState) {
					continue // idea moved on since we listed it
				}
				return nil, err
			}
			scored++
		}

		return result(map[string]int{"scored": scored})
	}
}
