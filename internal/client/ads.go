package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// AdMetrics is one day of ad performance for a campaign.
type AdMetrics struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	SpendCents  int64 `json:"spend_cents"`
	Conversions int64 `json:"conversions"`
}

// AdsClient pulls daily performance metrics from the ads platform API.
type AdsClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAdsClient builds an ads client; httpClient nil means a default with a
// 15s timeout.
func NewAdsClient(baseURL, apiKey string, httpClient *http.Client) *AdsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &AdsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpClient,
		// The ads API allows 1 report request per second per account.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// DailyMetrics fetches the metrics snapshot for one campaign and day.
func (c *AdsClient) DailyMetrics(ctx context.Context, accountRef string, day time.Time) (*AdMetrics, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ads: rate limit: %w", err)
	}
	u := fmt.Sprintf("%s/v1/campaigns/%s/metrics?date=%s",
		c.baseURL, url.PathEscape(accountRef), day.Format("2006-01-02"))
	var m AdMetrics
	if err := getJSON(ctx, c.client, u, c.apiKey, &m); err != nil {
		return nil, fmt.Errorf("ads: metrics for %s: %w", accountRef, err)
	}
	return &m, nil
}
