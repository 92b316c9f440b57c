// ABOUTME: ads_sync and email_sync handlers: daily metric pulls from the ad
// ABOUTME: and email platforms, upserted per (campaign, source, date).
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/client"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
)

const defaultSyncDays = 7

// AdsSync pulls daily ad metrics for a campaign and upserts them. Days are
// upserted one at a time; a retry that failed on day 4 re-upserts days 1-3,
// which is harmless because the rows are keyed by (campaign, source, date).
func AdsSync(s *store.Store, ads *client.AdsClient) worker.Handler {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		var p AdsSyncPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return nil, err
		}
		days := p.Days
		if days == 0 {
			days = defaultSyncDays
		}

		synced := 0
		for i := 0; i < days; i++ {
			day := time.Now().UTC().AddDate(0, 0, -(i + 1))
			m, err := ads.DailyMetrics(ctx, p.AccountRef, day)
			if err != nil {
				return nil, fmt.Errorf("ads metrics for %s: %w", day.Format("2006-01-02"), err)
			}
			raw, err := json.Marshal(m)
			if err != nil {
				return nil, err
			}
			if err := s.UpsertCampaignMetrics(ctx, p.CampaignID, store.MetricSourceAds, day, raw); err != nil {
				return nil, err
			}
			synced++
		}

		return result(map[string]int{"days_synced": synced})
	}
}

// EmailSync pulls daily list engagement from the ESP and upserts it, same
// shape as AdsSync.
func EmailSync(s *store.Store, esp *client.ESPClient) worker.Handler {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		var p EmailSyncPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return nil, err
		}
		days := p.Days
		if days == 0 {
			days = defaultSyncDays
		}

		synced := 0
		for i := 0; i < days; i++ {
			day := time.Now().UTC().AddDate(0, 0, -(i + 1))
			e, err := esp.DailyEngagement(ctx, p.ListRef, day)
			if err != nil {
				return nil, fmt.Errorf("esp engagement for %s: %w", day.Format("2006-01-02"), err)
			}
			raw, err := json.Marshal(e)
			if err != nil {
				return nil, err
			}
			if err := s.UpsertCampaignMetrics(ctx, p.CampaignID, store.MetricSourceEmail, day, raw); err != nil {
				return nil, err
			}
			synced++
		}

		return result(map[string]int{"days_synced": synced})
	}
}
