package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/api"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/testutil"
)

// TestSmokeHealthz starts a real Postgres container, builds the HTTP handler,
// and asserts that /healthz returns 200 {"status":"ok"} and /metrics returns
// 200. Coarse by design: if it passes, router wiring, the DB pool, and the
// Prometheus handler are all operational.
func TestSmokeHealthz(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewTestDB(t)

	srv := httptest.NewServer(api.NewServer(s, nil, "").Handler())
	t.Cleanup(srv.Close)

	// ── /healthz ─────────────────────────────────────────────────────────────
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request /healthz: %v", err)
	}
	resp, err := srv.Client().Do(hReq)
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz: got status %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /healthz body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("GET /healthz: got status %q, want %q", body.Status, "ok")
	}

	// ── /metrics ─────────────────────────────────────────────────────────────
	mReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request /metrics: %v", err)
	}
	mResp, err := srv.Client().Do(mReq)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer mResp.Body.Close() //nolint:errcheck

	if mResp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics: got status %d, want %d", mResp.StatusCode, http.StatusOK)
	}
}

// TestSmokeHealthzDegraded verifies that /healthz returns 503 when no store
// is wired (simulating an unavailable database).
func TestSmokeHealthzDegraded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := httptest.NewServer(api.NewServer(nil, nil, "").Handler())
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request /healthz: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /healthz (nil db): %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /healthz (nil db): got status %d, want %d",
			resp.StatusCode, http.StatusServiceUnavailable)
	}

	var body struct {
		Status string `json:"status"`
		DB     string `json:"db"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /healthz body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("GET /healthz (nil db): got status %q, want %q", body.Status, "degraded")
	}
	if body.DB != "unavailable" {
		t.Errorf("GET /healthz (nil db): got db %q, want %q", body.DB, "unavailable")
	}
}
