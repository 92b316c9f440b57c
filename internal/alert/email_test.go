// ABOUTME: Tests for the email failure channel: body rendering and the
// ABOUTME: enabled/disabled gate. SMTP delivery itself is not exercised here.
package alert

import (
	"context"
	"strings"
	"testing"
)

func TestRenderFailureBody(t *testing.T) {
	job := deadJob()
	body := renderFailureBody(job, "account suspended")

	for _, want := range []string{
		job.ID.String(),
		"ads_sync",
		"3 of 3",
		"account suspended",
		"launch-2026-08",
		`{"account_ref": "acct-42"}`,
		"/api/v1/jobs/{id}/retry",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestRenderFailureBodyWithoutCorrelation(t *testing.T) {
	job := deadJob()
	job.CorrelationID = nil
	body := renderFailureBody(job, "boom")
	if strings.Contains(body, "Correlation") {
		t.Errorf("body has a correlation line for a job without one:\n%s", body)
	}
}

func TestMailerEnabled(t *testing.T) {
	tests := []struct {
		name       string
		cfg        SMTPConfig
		recipients []string
		want       bool
	}{
		{"host and recipients", SMTPConfig{Host: "smtp.example.com"}, []string{"ops@example.com"}, true},
		{"no host", SMTPConfig{}, []string{"ops@example.com"}, false},
		{"no recipients", SMTPConfig{Host: "smtp.example.com"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMailer(tt.cfg, tt.recipients)
			if got := m.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMailerDisabledIsNoOp(t *testing.T) {
	// No host configured: the call must return without attempting SMTP.
	m := NewMailer(SMTPConfig{}, nil)
	m.JobFailedPermanently(context.Background(), deadJob(), "boom")
}
