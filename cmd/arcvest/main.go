// Command arcvest is the marketing jobs service binary.
//
// Subcommands:
//
//	serve     — HTTP server + cron-scheduled job runner (default for production)
//	run-jobs  — execute one job-runner invocation and print its summary
//	migrate   — run pending database migrations and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	// Embeds the IANA timezone database in the binary so that
	// time.LoadLocation works inside distroless containers that have no
	// /usr/share/zoneinfo.
	_ "time/tzdata"

	// Automatically sets GOMEMLIMIT from the cgroup memory limit so that
	// the Go GC triggers before the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/chadfargason/arcvest-marketing-sub001/internal/alert"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/api"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/client"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/config"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/handlers"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/pipeline"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/store"
	"github.com/chadfargason/arcvest-marketing-sub001/internal/worker"
	"github.com/chadfargason/arcvest-marketing-sub001/migrations"
)

func main() {
	// Best-effort .env load for local development; production reads real env.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "arcvest",
		Short: "Arcvest marketing jobs — background queue and content pipeline",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		runJobsCmd(),
		migrateCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the scheduled job runner",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := newStore(db, cfg)
	newRunner := buildRunnerFactory(cfg, st)

	// Scheduled runner invocations. Overlap between a slow invocation and the
	// next tick is allowed — claims coordinate through the store.
	if cfg.JobsCronSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
		if _, err := c.AddFunc(cfg.JobsCronSchedule, func() {
			sum := newRunner().Run(ctx)
			slog.Info("scheduled run finished",
				"worker_id", sum.WorkerID, "processed", sum.Processed,
				"failed", sum.Failed, "reaped", sum.Reaped, "truncated", sum.Truncated)
		}); err != nil {
			return fmt.Errorf("cron schedule %q: %w", cfg.JobsCronSchedule, err)
		}
		c.Start()
		defer c.Stop()
		slog.Info("job runner scheduled", "schedule", cfg.JobsCronSchedule)
	}

	handler := api.NewServer(st, newRunner, cfg.TriggerToken).Handler()

	// Explicit timeouts to prevent Slowloris attacks. WriteTimeout is
	// intentionally omitted: POST /api/v1/jobs/run legitimately blocks for
	// the whole invocation budget before writing its summary.
	srv := &http.Server{ //nolint:exhaustruct // WriteTimeout intentionally omitted, see above
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop() // release signal notification
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// ── run-jobs ──────────────────────────────────────────────────────────────────

func runJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-jobs",
		Short: "Execute one job-runner invocation and print its summary",
		RunE:  runJobs,
	}
}

func runJobs(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := newStore(db, cfg)
	sum := buildRunnerFactory(cfg, st)().Run(ctx)

	out, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.Info("running migrations")

	// Source: embedded SQL files from the migrations package.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the same
	// driver is used project-wide. No pooling needed here — this is a one-shot
	// migration run.
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// newStore builds the Store and applies the claim-mode and attempt-budget
// settings from config.
func newStore(db *pgxpool.Pool, cfg *config.Config) *store.Store {
	st := store.New(db)
	if cfg.JobsClaimMode == string(store.ClaimOptimistic) {
		st.UseOptimisticClaim(cfg.JobsClaimRetries)
	}
	st.SetDefaultMaxAttempts(int32(cfg.JobsMaxAttempts))
	return st
}

// buildRunnerFactory wires handlers, clients, and the alert channels once,
// then hands back a factory producing a fresh runner (fresh worker id) per
// invocation.
func buildRunnerFactory(cfg *config.Config, st *store.Store) api.RunnerFactory {
	executor := pipeline.NewOpenAIExecutor(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	reg := worker.NewRegistry()
	handlers.RegisterAll(reg, handlers.Deps{
		Store:    st,
		Pipeline: pipeline.NewRunner(st, executor),
		Scorer:   handlers.NewOpenAIScorer(cfg.OpenAIAPIKey, cfg.OpenAIModel),
		News:     client.NewNewsClient(nil),
		Ads:      client.NewAdsClient(cfg.AdsAPIBaseURL, cfg.AdsAPIKey, nil),
		ESP:      client.NewESPClient(cfg.ESPAPIBaseURL, cfg.ESPAPIKey, nil),
	})

	var channels alert.Fanout
	mailer := alert.NewMailer(alert.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		TLS:      cfg.SMTPTLS,
	}, cfg.AlertEmails)
	if mailer.Enabled() {
		channels = append(channels, mailer)
	}
	if hook := alert.NewWebhook(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, nil); hook.Enabled() {
		channels = append(channels, hook)
	}
	var notifier worker.FailureNotifier
	if len(channels) > 0 {
		notifier = channels
	}

	wcfg := worker.Config{
		Budget:         cfg.JobsRunBudget,
		StuckThreshold: cfg.JobsStuckThreshold,
		BaseRetryDelay: cfg.JobsBaseRetryDelay,
	}
	return func() *worker.Runner {
		return worker.NewRunner(st, reg, notifier, wcfg)
	}
}

// newPool creates and validates a pgxpool with pool sizing, statement
// timeout, and PgBouncer-compatible query mode from config.
//
// Retries up to 10 times with linear backoff to handle the Docker Compose
// startup race where Postgres is not immediately ready.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PgBouncer transaction-pooling compatibility.
	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	// Global per-query statement timeout prevents runaway queries from
	// holding connections indefinitely.
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)

	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				break
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying",
			"attempt", attempt,
			"error", connErr,
		)
		// time.NewTimer (not time.After) to avoid leaking the timer if ctx
		// is cancelled before the timer fires.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}

	// Advisory schema version check: warn if the applied schema version does
	// not match the version the binary was compiled for. This catches
	// deployments where migrations haven't been applied yet.
	var schemaVersion int
	err = db.QueryRow(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&schemaVersion)
	if err == nil && schemaVersion != expectedSchemaVersion {
		slog.Warn("schema version mismatch — run `arcvest migrate`",
			"applied_version", schemaVersion,
			"expected_version", expectedSchemaVersion,
		)
	}

	return db, nil
}

// expectedSchemaVersion is the database migration version this binary
// requires. Update this constant when new migrations are added.
const expectedSchemaVersion = 2

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
