package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Article is one entry from a news source feed.
type Article struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// NewsClient fetches campaign news sources. Source URLs are configured by
// dashboard users, so every request goes through an SSRF-safe client.
type NewsClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewNewsClient builds a news client; httpClient nil means the safeurl
// default (tests inject an httptest client, which safeurl would reject for
// its loopback address).
func NewNewsClient(httpClient *http.Client) *NewsClient {
	if httpClient == nil {
		httpClient = buildSafeClient(10 * time.Second)
	}
	return &NewsClient{
		client: httpClient,
		// 2 req/s across all scan jobs in this process.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// FetchSource retrieves the articles a source endpoint currently lists.
func (c *NewsClient) FetchSource(ctx context.Context, sourceURL string) ([]Article, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("news: rate limit: %w", err)
	}
	var articles []Article
	if err := getJSON(ctx, c.client, sourceURL, "", &articles); err != nil {
		return nil, fmt.Errorf("news: fetch %s: %w", sourceURL, err)
	}
	return articles, nil
}
