// ABOUTME: news_scan handler: pulls articles from each campaign source and
// ABOUTME: inserts them as ideas. URL uniqueness makes re-runs insert nothing.
package handlers

import (
	"context"
	"encoding/json"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/client"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
)

const defaultMaxItems = 50

// NewsScan fetches each configured source and records fresh articles as
// content ideas. Re-runs are cheap: ideas dedupe on (campaign, source URL),
// so a retry after a partial failure only inserts what is missing.
func NewsScan(s *store.Store, news *client.NewsClient) worker.Handler {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		var p NewsScanPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return nil, err
		}
		maxItems := p.MaxItems
		if maxItems == 0 {
			maxItems = defaultMaxItems
		}

		found, inserted := 0, 0
		for _, src := range p.Sources {
			articles, err := news.FetchSource(ctx, src)
			if err != nil {
				return nil, err
			}
			found += len(articles)
			for _, a := range articles {
				if inserted >= maxItems {
					break
				}
				item, err := s.InsertContentIdea(ctx, p.CampaignID, a.Title, a.Summary, a.URL)
				if err != nil {
					return nil, err
				}
				if item != nil {
					inserted++
				}
			}
		}

		return result(map[string]int{"found": found, "inserted": inserted})
	}
}
