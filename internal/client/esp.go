package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Engagement is one day of email list activity from the ESP.
type Engagement struct {
	Delivered    int64 `json:"delivered"`
	Opens        int64 `json:"opens"`
	Clicks       int64 `json:"clicks"`
	Unsubscribes int64 `json:"unsubscribes"`
}

// ESPClient pulls engagement reports from the email service provider API.
type ESPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewESPClient builds an ESP client; httpClient nil means a default with a
// 15s timeout.
func NewESPClient(baseURL, apiKey string, httpClient *http.Client) *ESPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &ESPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// DailyEngagement fetches the engagement report for one list and day.
func (c *ESPClient) DailyEngagement(ctx context.Context, listRef string, day time.Time) (*Engagement, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("esp: rate limit: %w", err)
	}
	u := fmt.Sprintf("%s/v1/lists/%s/engagement?date=%s",
		c.baseURL, url.PathEscape(listRef), day.Format("2006-01-02"))
	var e Engagement
	if err := getJSON(ctx, c.client, u, c.apiKey, &e); err != nil {
		return nil, fmt.Errorf("esp: engagement for %s: %w", listRef, err)
	}
	return &e, nil
}
