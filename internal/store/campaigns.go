package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrCampaignNotFound is returned when no campaign matches the id.
var ErrCampaignNotFound = errors.New("campaign not found")

// Campaign is the marketing campaign the scan/score/sync jobs work for.
type Campaign struct {
	ID        uuid.UUID
	Name      string
	Audience  string
	Keywords  []string
	CreatedAt time.Time
}

// CreateCampaign inserts a campaign and returns it.
func (s *Store) CreateCampaign(ctx context.Context, name, audience string, keywords []string) (*Campaign, error) {
	if keywords == nil {
		keywords = []string{}
	}
	c := &Campaign{Name: name, Audience: audience, Keywords: keywords}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO campaigns (name, audience, keywords) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		name, audience, keywords,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// GetCampaign returns one campaign by id, or ErrCampaignNotFound.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	var c Campaign
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, audience, keywords, created_at FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Audience, &c.Keywords, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get campaign %s: %w", id, ErrCampaignNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return &c, nil
}

// MetricSource tags which platform a metric snapshot came from.
type MetricSource string

const (
	MetricSourceAds   MetricSource = "ads"
	MetricSourceEmail MetricSource = "email"
)

// UpsertCampaignMetrics stores one day's metric snapshot for a campaign,
// replacing any earlier sync of the same day.
func (s *Store) UpsertCampaignMetrics(ctx context.Context, campaignID uuid.UUID, source MetricSource, day time.Time, data json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaign_metrics (campaign_id, source, metric_date, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (campaign_id, source, metric_date)
		 DO UPDATE SET data = EXCLUDED.data, synced_at = now()`,
		campaignID, source, day, data)
	if err != nil {
		return fmt.Errorf("upsert campaign metrics: %w", err)
	}
	return nil
}

// CampaignMetricDays counts stored snapshots for a campaign and source,
// used by the sync handlers to report what a run added.
func (s *Store) CampaignMetricDays(ctx context.Context, campaignID uuid.UUID, source MetricSource) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM campaign_metrics WHERE campaign_id = $1 AND source = $2`,
		campaignID, source,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count campaign metrics: %w", err)
	}
	return n, nil
}
