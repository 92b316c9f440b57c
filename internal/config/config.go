// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Startup fails if any field tagged "required" is missing.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
// Field defaults match .env.example.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`
	// Bearer token required on /api/v1 when set; empty disables the check.
	TriggerToken string `env:"TRIGGER_TOKEN"`

	// ── Job runner ───────────────────────────────────────────────────────────────
	// JobsRunBudget must stay comfortably below the trigger's own timeout so
	// an invocation can always return its summary.
	JobsRunBudget      time.Duration `env:"JOBS_RUN_BUDGET"       envDefault:"4m"`
	JobsBaseRetryDelay time.Duration `env:"JOBS_BASE_RETRY_DELAY" envDefault:"30s"`
	JobsMaxAttempts    int           `env:"JOBS_MAX_ATTEMPTS"     envDefault:"3"`
	JobsStuckThreshold time.Duration `env:"JOBS_STUCK_THRESHOLD"  envDefault:"10m"`
	// JobsClaimMode: "skip_locked" (single-statement claim) or "optimistic"
	// (select-then-conditional-update, for stores without SKIP LOCKED).
	JobsClaimMode    string `env:"JOBS_CLAIM_MODE"    envDefault:"skip_locked"`
	JobsClaimRetries int    `env:"JOBS_CLAIM_RETRIES" envDefault:"3"`
	// Cron schedule for serve-mode runner invocations; empty disables.
	JobsCronSchedule string `env:"JOBS_CRON_SCHEDULE" envDefault:"*/5 * * * *"`

	// ── Content pipeline — OpenAI ────────────────────────────────────────────────
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	// ── Outbound data sources ────────────────────────────────────────────────────
	// News sources are per-campaign URLs carried in job payloads; only the ads
	// and email platforms are fixed integrations with credentials here.
	AdsAPIBaseURL string `env:"ADS_API_BASE_URL" envDefault:"https://ads.arcvest.example"`
	AdsAPIKey     string `env:"ADS_API_KEY"`
	ESPAPIBaseURL string `env:"ESP_API_BASE_URL" envDefault:"https://esp.arcvest.example"`
	ESPAPIKey     string `env:"ESP_API_KEY"`

	// ── Email — SMTP (operator alerts) ───────────────────────────────────────────
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"arcvest@localhost"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS"  envDefault:"false"`
	// Comma-separated recipients for permanent-failure alerts; empty disables.
	AlertEmails []string `env:"ALERT_EMAILS" envSeparator:","`

	// ── Webhook (operator alerts) ────────────────────────────────────────────────
	// Signed permanent-failure events POST here; both must be set to enable.
	AlertWebhookURL    string `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookSecret string `env:"ALERT_WEBHOOK_SECRET"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
