// ABOUTME: Email alerts for jobs that exhaust their retry budget.
// ABOUTME: Dial-per-send via go-mail; failure traffic is sporadic so no pooled connection.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP connection parameters sourced from env vars.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	TLS      bool
}

// Mailer emails operators when a job fails for good. It satisfies the
// worker's FailureNotifier and is strictly best-effort: send errors are
// logged and swallowed so the job loop never stalls on SMTP.
type Mailer struct {
	cfg        SMTPConfig
	recipients []string
}

// NewMailer creates a Mailer that BCCs every recipient on each alert.
func NewMailer(cfg SMTPConfig, recipients []string) *Mailer {
	return &Mailer{cfg: cfg, recipients: recipients}
}

// Enabled reports whether the mailer has a host and anyone to write to.
func (m *Mailer) Enabled() bool {
	return m.cfg.Host != "" && len(m.recipients) > 0
}

// JobFailedPermanently sends one plaintext alert for a dead job.
func (m *Mailer) JobFailedPermanently(ctx context.Context, job *store.Job, errMsg string) {
	if !m.Enabled() {
		return
	}

	subject := fmt.Sprintf("[arcvest] %s job failed permanently", job.Type)
	body := renderFailureBody(job, errMsg)

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := m.send(sendCtx, subject, body); err != nil {
		slog.Error("failure alert not sent", "job_id", job.ID, "type", job.Type, "error", err)
		return
	}
	slog.Info("failure alert sent", "job_id", job.ID, "type", job.Type, "recipients", len(m.recipients))
}

func renderFailureBody(job *store.Job, errMsg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A background job exhausted its attempts and will not retry.\n\n")
	fmt.Fprintf(&b, "Job:         %s\n", job.ID)
	fmt.Fprintf(&b, "Type:        %s\n", job.Type)
	fmt.Fprintf(&b, "Attempts:    %d of %d\n", job.Attempts, job.MaxAttempts)
	fmt.Fprintf(&b, "Error:       %s\n", errMsg)
	if job.CorrelationID != nil {
		fmt.Fprintf(&b, "Correlation: %s\n", *job.CorrelationID)
	}
	fmt.Fprintf(&b, "Created:     %s\n", job.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "\nPayload:\n%s\n", string(job.Payload))
	b.WriteString("\nRe-run it from the dashboard or POST /api/v1/jobs/{id}/retry once the cause is fixed.\n")
	return b.String()
}

func (m *Mailer) send(ctx context.Context, subject, body string) error {
	// Strip CR/LF from the subject to prevent header injection.
	subject = strings.NewReplacer("\r", "", "\n", "").Replace(subject)

	msg := mail.NewMsg()
	if err := msg.FromFormat("Arcvest Marketing", m.cfg.From); err != nil {
		return fmt.Errorf("alert send: set from: %w", err)
	}
	if err := msg.Bcc(m.recipients...); err != nil {
		return fmt.Errorf("alert send: set bcc: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
	}
	if m.cfg.Username != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain))
		opts = append(opts, mail.WithUsername(m.cfg.Username))
		opts = append(opts, mail.WithPassword(m.cfg.Password))
	}
	if m.cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("alert send: create client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("alert send: %w", err)
	}
	return nil
}
