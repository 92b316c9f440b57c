// ABOUTME: Webhook alerts for jobs that exhaust their retry budget: HMAC-signed
// ABOUTME: POST to an operator-configured URL over an SSRF-safe client.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
)

// Webhook posts permanent-failure events to a configured endpoint — typically
// the dashboard backend, which surfaces them in the ops feed. Same best-effort
// contract as the Mailer: errors are logged, never returned to the job loop.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a webhook notifier. The URL comes from operator
// configuration, so a nil httpClient defaults to an SSRF-safe client with
// redirect following disabled.
func NewWebhook(url, secret string, httpClient *http.Client) *Webhook {
	if httpClient == nil {
		cfg := safeurl.GetConfigBuilder().
			SetTimeout(10 * time.Second).
			SetCheckRedirect(func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			}).
			Build()
		httpClient = safeurl.Client(cfg).Client
	}
	return &Webhook{url: url, secret: secret, client: httpClient}
}

// Enabled reports whether a destination and signing secret are configured.
func (w *Webhook) Enabled() bool {
	return w.url != "" && w.secret != ""
}

// failureEvent is the webhook payload for one dead job.
type failureEvent struct {
	Event         string          `json:"event"`
	JobID         string          `json:"job_id"`
	JobType       string          `json:"job_type"`
	Attempts      int32           `json:"attempts"`
	MaxAttempts   int32           `json:"max_attempts"`
	Error         string          `json:"error"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	FailedAt      string          `json:"failed_at"`
}

// JobFailedPermanently posts one signed event for a dead job.
func (w *Webhook) JobFailedPermanently(ctx context.Context, job *store.Job, errMsg string) {
	if !w.Enabled() {
		return
	}

	event := failureEvent{
		Event:       "job.failed_permanently",
		JobID:       job.ID.String(),
		JobType:     string(job.Type),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       errMsg,
		Payload:     job.Payload,
		FailedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if job.CorrelationID != nil {
		event.CorrelationID = *job.CorrelationID
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failure webhook: marshal event", "job_id", job.ID, "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := w.send(sendCtx, payload); err != nil {
		slog.Error("failure webhook not delivered", "job_id", job.ID, "type", job.Type, "error", err)
		return
	}
	slog.Info("failure webhook delivered", "job_id", job.ID, "type", job.Type)
}

// send posts payload signed with HMAC-SHA256 over "timestamp.body" and
// discards the response body.
func (w *Webhook) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write([]byte(ts + "." + string(payload)))
	req.Header.Set("X-Arcvest-Timestamp", ts)
	req.Header.Set("X-Arcvest-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	// Discard response body to allow connection reuse; cap at 4 KiB.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Notifier is one alert channel. Both Mailer and Webhook implement it.
type Notifier interface {
	JobFailedPermanently(ctx context.Context, job *store.Job, errMsg string)
}

// Fanout delivers each failure event to every configured channel in order.
// Channels are independent: one failing delivery never blocks the others.
type Fanout []Notifier

// JobFailedPermanently relays the event to every channel.
func (f Fanout) JobFailedPermanently(ctx context.Context, job *store.Job, errMsg string) {
	for _, n := range f {
		n.JobFailedPermanently(ctx, job, errMsg)
	}
}
