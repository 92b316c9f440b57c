// Package handlers implements the job handlers for the closed job-type set
// and wires them into the worker dispatch table. Handlers are deliberately
// idempotent-friendly: a retried job re-reads store state and skips work a
// previous attempt already finished.
package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/client"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/pipeline"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// validate checks payload structs after unmarshal. Payloads arrive from the
// API or from other jobs, but rows can outlive deployments — validation at
// dispatch time catches stale shapes.
var validate = validator.New()

// NewsScanPayload drives a news_scan job.
type NewsScanPayload struct {
	CampaignID uuid.UUID `json:"campaign_id" validate:"required"`
	Sources    []string  `json:"sources"     validate:"required,min=1,dive,url"`
	MaxItems   int       `json:"max_items"   validate:"omitempty,min=1,max=200"`
}

// ScoreIdeasPayload drives a score_ideas job.
type ScoreIdeasPayload struct {
	CampaignID uuid.UUID `json:"campaign_id" validate:"required"`
	BatchSize  int       `json:"batch_size"  validate:"omitempty,min=1,max=50"`
}

// SelectIdeasPayload drives a select_ideas job.
type SelectIdeasPayload struct {
	CampaignID uuid.UUID `json:"campaign_id" validate:"required"`
	Count      int       `json:"count"       validate:"omitempty,min=1,max=10"`
}

// ContentPipelinePayload drives a content_pipeline job.
type ContentPipelinePayload struct {
	ContentID uuid.UUID `json:"content_id" validate:"required"`
}

// AdsSyncPayload drives an ads_sync job.
type AdsSyncPayload struct {
	CampaignID uuid.UUID `json:"campaign_id" validate:"required"`
	AccountRef string    `json:"account_ref" validate:"required"`
	Days       int       `json:"days"        validate:"omitempty,min=1,max=30"`
}

// EmailSyncPayload drives an email_sync job.
type EmailSyncPayload struct {
	CampaignID uuid.UUID `json:"campaign_id" validate:"required"`
	ListRef    string    `json:"list_ref"    validate:"required"`
	Days       int       `json:"days"        validate:"omitempty,min=1,max=30"`
}

// decodePayload unmarshals and validates a job payload into dst.
func decodePayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// result marshals a handler's result blob.
func result(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

// Deps carries everything the handlers need.
type Deps struct {
	Store    *store.Store
	Pipeline *pipeline.Runner
	Scorer   IdeaScorer
	News     *client.NewsClient
	Ads      *client.AdsClient
	ESP      *client.ESPClient
}

// RegisterAll wires a handler for every known job type into reg. Keep this
// exhaustive: a type constant without a registration here turns its jobs
// into terminal failures at dispatch.
func RegisterAll(reg *worker.Registry, d Deps) {
	reg.Register(store.TypeNewsScan, worker.HandlerSpec{Run: NewsScan(d.Store, d.News)})
	reg.Register(store.TypeScoreIdeas, worker.HandlerSpec{Run: ScoreIdeas(d.Store, d.Scorer)})
	reg.Register(store.TypeSelectIdeas, worker.HandlerSpec{Run: SelectIdeas(d.Store)})
	reg.Register(store.TypeContentPipeline, worker.HandlerSpec{
		Run:     ContentPipeline(d.Pipeline),
		OnStuck: ReleaseContent(d.Store),
	})
	reg.Register(store.TypeAdsSync, worker.HandlerSpec{Run: AdsSync(d.Store, d.Ads)})
	reg.Register(store.TypeEmailSync, worker.HandlerSpec{Run: EmailSync(d.Store, d.ESP)})
}
