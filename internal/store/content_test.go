// ABOUTME: Integration tests for store/content.go — idea dedupe, the content
// ABOUTME: state machine, scoring lists, and checkpoint persistence.
package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/testutil"
)

// mustParseDay parses a YYYY-MM-DD date or fatals.
func mustParseDay(t *testing.T, s string) time.Time {
	t.Helper()
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse day %q: %v", s, err)
	}
	return day
}

// mustCreateCampaign creates a campaign fixture or fatals.
func mustCreateCampaign(t *testing.T, s *store.Store, ctx context.Context, name string) uuid.UUID {
	t.Helper()
	c, err := s.CreateCampaign(ctx, name, "B2B finance leads", []string{"fintech", "payments"})
	if err != nil {
		t.Fatalf("CreateCampaign(%s): %v", name, err)
	}
	return c.ID
}

// mustInsertIdea inserts a content idea or fatals; fatals on dedupe too.
func mustInsertIdea(t *testing.T, s *store.Store, ctx context.Context, campaignID uuid.UUID, title, sourceURL string) *store.ContentItem {
	t.Helper()
	c, err := s.InsertContentIdea(ctx, campaignID, title, "summary of "+title, sourceURL)
	if err != nil {
		t.Fatalf("InsertContentIdea(%s): %v", title, err)
	}
	if c == nil {
		t.Fatalf("InsertContentIdea(%s): deduplicated, want new row", title)
	}
	return c
}

// toProcessing drives an idea to the processing state.
func toProcessing(t *testing.T, s *store.Store, ctx context.Context, id uuid.UUID) {
	t.Helper()
	if err := s.MarkContentSelected(ctx, id); err != nil {
		t.Fatalf("MarkContentSelected: %v", err)
	}
	if err := s.MarkContentProcessing(ctx, id); err != nil {
		t.Fatalf("MarkContentProcessing: %v", err)
	}
}

func TestInsertContentIdea_DeduplicatesBySourceURL(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	campaignID := mustCreateCampaign(t, s, ctx, "Dedupe")

	first := mustInsertIdea(t, s, ctx, campaignID, "Rates change", "https://news.example/rates")

	// Same campaign, same source URL: silently deduplicated.
	dup, err := s.InsertContentIdea(ctx, campaignID, "Rates change again", "other summary", "https://news.example/rates")
	if err != nil {
		t.Fatalf("InsertContentIdea(dup): %v", err)
	}
	if dup != nil {
		t.Errorf("duplicate source URL inserted as %s, want dedupe", dup.ID)
	}

	// A different campaign may carry the same URL.
	campaign2 := mustCreateCampaign(t, s, ctx, "Dedupe2")
	other := mustInsertIdea(t, s, ctx, campaign2, "Rates change", "https://news.example/rates")
	if other.ID == first.ID {
		t.Error("cross-campaign insert returned the original row")
	}

	// Ideas without a source URL never deduplicate.
	a := mustInsertIdea(t, s, ctx, campaignID, "Manual idea", "")
	b := mustInsertIdea(t, s, ctx, campaignID, "Manual idea", "")
	if a.ID == b.ID {
		t.Error("two manual ideas without source URLs collided")
	}
}

func TestContentScoringLists(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	campaignID := mustCreateCampaign(t, s, ctx, "Scoring")
	i1 := mustInsertIdea(t, s, ctx, campaignID, "Idea one", "https://a.example/1")
	i2 := mustInsertIdea(t, s, ctx, campaignID, "Idea two", "https://a.example/2")
	i3 := mustInsertIdea(t, s, ctx, campaignID, "Idea three", "https://a.example/3")

	unscored, err := s.UnscoredIdeas(ctx, campaignID, 10)
	if err != nil {
		t.Fatalf("UnscoredIdeas: %v", err)
	}
	if len(unscored) != 3 {
		t.Fatalf("UnscoredIdeas returned %d, want 3", len(unscored))
	}

	if err := s.SetContentScore(ctx, i1.ID, 40); err != nil {
		t.Fatalf("SetContentScore(i1): %v", err)
	}
	if err := s.SetContentScore(ctx, i2.ID, 85); err != nil {
		t.Fatalf("SetContentScore(i2): %v", err)
	}

	// Scored ideas drop out of the unscored list.
	unscored, err = s.UnscoredIdeas(ctx, campaignID, 10)
	if err != nil {
		t.Fatalf("UnscoredIdeas (after scoring): %v", err)
	}
	if len(unscored) != 1 || unscored[0].ID != i3.ID {
		t.Errorf("UnscoredIdeas = %d rows, want only the unscored idea", len(unscored))
	}

	// Top list is best-first and excludes unscored rows.
	top, err := s.TopScoredIdeas(ctx, campaignID, 10)
	if err != nil {
		t.Fatalf("TopScoredIdeas: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("TopScoredIdeas returned %d, want 2", len(top))
	}
	if top[0].ID != i2.ID || top[1].ID != i1.ID {
		t.Errorf("TopScoredIdeas order = [%s %s], want best first", top[0].ID, top[1].ID)
	}
	if top[0].Score == nil || *top[0].Score != 85 {
		t.Errorf("top score = %v, want 85", top[0].Score)
	}

	// Promotion takes the idea out of scoring entirely.
	if err := s.MarkContentSelected(ctx, i2.ID); err != nil {
		t.Fatalf("MarkContentSelected: %v", err)
	}
	if err := s.SetContentScore(ctx, i2.ID, 99); !errors.Is(err, store.ErrContentState) {
		t.Errorf("SetContentScore(selected) error = %v, want ErrContentState", err)
	}
}

func TestContentStateMachine(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	campaignID := mustCreateCampaign(t, s, ctx, "FSM")
	item := mustInsertIdea(t, s, ctx, campaignID, "FSM idea", "https://a.example/fsm")

	// idea cannot jump straight to processing.
	if err := s.MarkContentProcessing(ctx, item.ID); !errors.Is(err, store.ErrContentState) {
		t.Fatalf("MarkContentProcessing(idea) error = %v, want ErrContentState", err)
	}

	if err := s.MarkContentSelected(ctx, item.ID); err != nil {
		t.Fatalf("MarkContentSelected: %v", err)
	}
	// Selecting twice loses the guard.
	if err := s.MarkContentSelected(ctx, item.ID); !errors.Is(err, store.ErrContentState) {
		t.Fatalf("second MarkContentSelected error = %v, want ErrContentState", err)
	}

	if err := s.MarkContentProcessing(ctx, item.ID); err != nil {
		t.Fatalf("MarkContentProcessing: %v", err)
	}
	// Re-entrant mark reports the state conflict; the pipeline re-reads.
	if err := s.MarkContentProcessing(ctx, item.ID); !errors.Is(err, store.ErrContentState) {
		t.Fatalf("re-entrant MarkContentProcessing error = %v, want ErrContentState", err)
	}

	if err := s.FinalizeContent(ctx, item.ID, "final body"); err != nil {
		t.Fatalf("FinalizeContent: %v", err)
	}
	got, err := s.GetContentItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	if got.Status != store.ContentCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Body == nil || *got.Body != "final body" {
		t.Errorf("body = %v, want final body", got.Body)
	}
}

func TestSaveCheckpoint_OnlyWhileProcessing(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	campaignID := mustCreateCampaign(t, s, ctx, "Checkpoint")
	item := mustInsertIdea(t, s, ctx, campaignID, "CP idea", "https://a.example/cp")

	cp := json.RawMessage(`{"version":1,"step":"draft","state":{"draft":"text"}}`)

	// Not processing yet: the write must fail loudly, not vanish.
	if err := s.SaveCheckpoint(ctx, item.ID, cp); !errors.Is(err, store.ErrContentState) {
		t.Fatalf("SaveCheckpoint(idea) error = %v, want ErrContentState", err)
	}

	toProcessing(t, s, ctx, item.ID)
	if err := s.SaveCheckpoint(ctx, item.ID, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	got, err := s.GetContentItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	var decoded struct {
		Version int    `json:"version"`
		Step    string `json:"step"`
	}
	if err := json.Unmarshal(got.Checkpoint, &decoded); err != nil {
		t.Fatalf("decode checkpoint: %v", err)
	}
	if decoded.Version != 1 || decoded.Step != "draft" {
		t.Errorf("checkpoint = %s, want version 1 step draft", got.Checkpoint)
	}

	// Finalizing clears the checkpoint.
	if err := s.FinalizeContent(ctx, item.ID, "done"); err != nil {
		t.Fatalf("FinalizeContent: %v", err)
	}
	got, err = s.GetContentItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetContentItem (final): %v", err)
	}
	if got.Checkpoint != nil {
		t.Errorf("checkpoint after finalize = %s, want cleared", got.Checkpoint)
	}
}

func TestReleaseContent_KeepsCheckpoint(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	campaignID := mustCreateCampaign(t, s, ctx, "Release")
	item := mustInsertIdea(t, s, ctx, campaignID, "Rel idea", "https://a.example/rel")
	toProcessing(t, s, ctx, item.ID)

	cp := json.RawMessage(`{"version":1,"step":"edit","state":{"draft":"d","edited":"e"}}`)
	if err := s.SaveCheckpoint(ctx, item.ID, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	if err := s.ReleaseContent(ctx, item.ID); err != nil {
		t.Fatalf("ReleaseContent: %v", err)
	}

	got, err := s.GetContentItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	if got.Status != store.ContentSelected {
		t.Errorf("status = %q, want selected", got.Status)
	}
	if len(got.Checkpoint) == 0 {
		t.Error("checkpoint lost on release; resume depends on it")
	}

	// Releasing an item that is not processing is a quiet no-op.
	if err := s.ReleaseContent(ctx, item.ID); err != nil {
		t.Errorf("ReleaseContent(selected): %v, want no-op", err)
	}
	got, err = s.GetContentItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetContentItem (after no-op): %v", err)
	}
	if got.Status != store.ContentSelected {
		t.Errorf("status = %q after no-op release, want selected", got.Status)
	}
}

func TestCampaignMetricsUpsert(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	campaignID := mustCreateCampaign(t, s, ctx, "Metrics")
	day := mustParseDay(t, "2026-08-20")

	if err := s.UpsertCampaignMetrics(ctx, campaignID, store.MetricSourceAds, day,
		json.RawMessage(`{"impressions":100,"clicks":7}`)); err != nil {
		t.Fatalf("UpsertCampaignMetrics: %v", err)
	}
	// Second sync for the same day replaces, never duplicates.
	if err := s.UpsertCampaignMetrics(ctx, campaignID, store.MetricSourceAds, day,
		json.RawMessage(`{"impressions":150,"clicks":9}`)); err != nil {
		t.Fatalf("UpsertCampaignMetrics (again): %v", err)
	}
	// A different source for the same day is its own row.
	if err := s.UpsertCampaignMetrics(ctx, campaignID, store.MetricSourceEmail, day,
		json.RawMessage(`{"delivered":400}`)); err != nil {
		t.Fatalf("UpsertCampaignMetrics (email): %v", err)
	}

	adsDays, err := s.CampaignMetricDays(ctx, campaignID, store.MetricSourceAds)
	if err != nil {
		t.Fatalf("CampaignMetricDays: %v", err)
	}
	if adsDays != 1 {
		t.Errorf("ads metric days = %d, want 1 (upsert, not append)", adsDays)
	}

	var impressions int
	if err := s.DB().QueryRowContext(ctx,
		`SELECT (data->>'impressions')::int FROM campaign_metrics
		 WHERE campaign_id = $1 AND source = 'ads'`, campaignID).Scan(&impressions); err != nil {
		t.Fatalf("read metrics row: %v", err)
	}
	if impressions != 150 {
		t.Errorf("impressions = %d, want 150 (latest sync wins)", impressions)
	}
}
