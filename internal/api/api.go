// Package api provides HTTP handlers and the main API server logic for FallacySheriff.
//
// It exposes endpoints for health checks, poll status, and manually triggering
// a mention poll cycle. Run wires the store, RSS source, analysis client,
// reply publisher, pipeline orchestrator, and scheduler together and blocks
// until the process receives a shutdown signal.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fallacysheriff/fallacysheriff/internal/genai"
	"github.com/fallacysheriff/fallacysheriff/internal/models"
	"github.com/fallacysheriff/fallacysheriff/internal/pipeline"
	"github.com/fallacysheriff/fallacysheriff/internal/rss"
	"github.com/fallacysheriff/fallacysheriff/internal/scheduler"
	"github.com/fallacysheriff/fallacysheriff/internal/store"
	"github.com/fallacysheriff/fallacysheriff/internal/twitter"
)

// Default server configuration
const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":8080"
	// DefaultSchedule is the default poll schedule.
	DefaultSchedule = "@every 5m"
	// shutdownTimeout bounds how long a graceful HTTP shutdown may take.
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address for the HTTP server.
	Addr string
	// Schedule is the cron expression or @every descriptor for the poll cycle.
	Schedule string
	// SkipStartupPoll disables the immediate poll cycle normally run at
	// startup before the first scheduled tick.
	SkipStartupPoll bool
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSchedule sets the poll cycle schedule.
func WithSchedule(expr string) Option {
	return func(o *Opts) { o.Schedule = expr }
}

// WithoutStartupPoll disables the immediate poll cycle at startup.
func WithoutStartupPoll() Option {
	return func(o *Opts) { o.SkipStartupPoll = true }
}

// pollRunner is the subset of the pipeline orchestrator the handlers need.
type pollRunner interface {
	RunPollCycle(ctx context.Context) models.PollSummary
	Status() (models.PollStatus, error)
}

// Server handles HTTP requests for FallacySheriff.
type Server struct {
	orc       pollRunner
	schedule  string
	rsshubURL string
}

// NewServer creates an API server around the given orchestrator. The
// schedule and RSSHub URL are surfaced on the status endpoint.
func NewServer(orc pollRunner, schedule, rsshubURL string) *Server {
	return &Server{orc: orc, schedule: schedule, rsshubURL: rsshubURL}
}

// routes returns the HTTP mux with all endpoints registered.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/poll", s.pollHandler)
	return mux
}

// newStore builds the store backend from the configured DSN, falling back to
// an in-memory store when no DSN is set.
func newStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("api.Run: no database DSN configured, using in-memory store; processed mentions will not survive restarts")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("api.Run: using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Debug("api.Run: using SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// Run wires all modules together and serves the API until SIGINT or SIGTERM.
func Run(storeOpts []store.Option, rssOpts []rss.Option, genaiOpts []genai.Option, twitterOpts []twitter.Option, pipelineOpts []pipeline.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, Schedule: DefaultSchedule}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := newStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	source, err := rss.NewClient(rssOpts...)
	if err != nil {
		return err
	}
	analyzer, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}
	publisher, err := twitter.NewClient(twitterOpts...)
	if err != nil {
		return err
	}

	orc := pipeline.NewOrchestrator(st, source, analyzer, publisher, pipelineOpts...)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(cfg.Schedule, func() {
		orc.RunPollCycle(context.Background())
	}); err != nil {
		slog.Error("api.Run: failed to schedule poll cycle", "error", err, "schedule", cfg.Schedule)
		return err
	}
	slog.Info("api.Run: poll cycle scheduled", "schedule", cfg.Schedule)

	if cfg.SkipStartupPoll {
		slog.Info("api.Run: startup poll disabled, waiting for first scheduled tick")
	} else {
		// Run one cycle immediately so a restart does not wait out a full interval.
		go orc.RunPollCycle(context.Background())
	}

	var rssCfg rss.Opts
	for _, opt := range rssOpts {
		opt(&rssCfg)
	}
	if rssCfg.RSSHubURL == "" {
		rssCfg.RSSHubURL = rss.DefaultRSSHubURL
	}

	server := NewServer(orc, cfg.Schedule, rssCfg.RSSHubURL)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: FallacySheriff API listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("api.Run: HTTP server failed", "error", err)
		return err
	case sig := <-sigCh:
		slog.Info("api.Run: shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("api.Run: HTTP shutdown failed", "error", err)
		return err
	}
	slog.Info("api.Run: shutdown complete")
	return nil
}
