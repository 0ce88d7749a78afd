// Command vivavoce is the interview service: it mints realtime session
// tokens, stores recordings and interview metadata, and evaluates finished
// transcripts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/vivavoce-ai/vivavoce/internal/analysis"
	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/content"
	"github.com/vivavoce-ai/vivavoce/internal/events"
	"github.com/vivavoce-ai/vivavoce/internal/health"
	"github.com/vivavoce-ai/vivavoce/internal/observe"
	"github.com/vivavoce-ai/vivavoce/internal/server"
	"github.com/vivavoce-ai/vivavoce/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "vivavoce.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vivavoce: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vivavoce: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vivavoce starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vivavoce"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Recordings ────────────────────────────────────────────────────────────
	recordingsDir := cfg.Recording.Dir
	if recordingsDir == "" {
		recordingsDir = "static/recordings"
	}
	recordings, err := store.NewRecordingStore(recordingsDir)
	if err != nil {
		slog.Error("failed to open recordings dir", "err", err)
		return 1
	}

	checkers := []health.Checker{
		health.DirWritable("recordings", recordings.Dir()),
	}

	// ── Interview metadata (optional) ─────────────────────────────────────────
	var metadata server.MetadataStore
	var pool *pgxpool.Pool
	if cfg.Metadata.PostgresDSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Metadata.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate schema", "err", err)
			return 1
		}
		metadata = pg
		checkers = append(checkers, health.Pinger("metadata", pool.Ping))
		slog.Info("interview metadata enabled")
	}

	// ── Turn events (optional) ────────────────────────────────────────────────
	publisher := events.New(events.Config{
		Enabled:          cfg.Events.Enabled,
		Brokers:          cfg.Events.Brokers,
		TopicInterviewer: cfg.Events.TopicInterviewer,
		TopicCandidate:   cfg.Events.TopicCandidate,
	}, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("event publisher close error", "err", err)
		}
	}()
	if metadata != nil {
		metadata = &publishingMetadata{inner: metadata, publisher: publisher}
	}

	// ── Content and minting ───────────────────────────────────────────────────
	library := content.NewLibrary(cfg.Interview.DataDir)

	minterOpts := []server.MinterOption{}
	if cfg.OpenAI.RealtimeModel != "" {
		minterOpts = append(minterOpts, server.WithMintModel(cfg.OpenAI.RealtimeModel))
	}
	if cfg.Interview.Voice != "" {
		minterOpts = append(minterOpts, server.WithMintVoice(cfg.Interview.Voice))
	}
	if cfg.OpenAI.BaseURL != "" {
		minterOpts = append(minterOpts, server.WithMintBaseURL(cfg.OpenAI.BaseURL))
	}
	if ms := cfg.Interview.VAD.SilenceDurationMs; ms > 0 {
		minterOpts = append(minterOpts, server.WithMintSilenceMs(ms))
	}
	if vad := cfg.Interview.VAD; vad.Threshold > 0 || vad.PrefixPaddingMs > 0 {
		minterOpts = append(minterOpts, server.WithMintVADTuning(vad.Threshold, vad.PrefixPaddingMs))
	}
	if cfg.Interview.Language != "" {
		minterOpts = append(minterOpts, server.WithMintLanguage(cfg.Interview.Language))
	}
	minter, err := server.NewOpenAIMinter(cfg.OpenAI.APIKey, minterOpts...)
	if err != nil {
		slog.Error("failed to create session minter", "err", err)
		return 1
	}

	// ── Analysis (optional) ───────────────────────────────────────────────────
	var analyzer server.TranscriptAnalyzer
	if cfg.OpenAI.APIKey != "" {
		analyzerOpts := []analysis.Option{courseOption(cfg.Interview.Courses)}
		if cfg.OpenAI.AnalysisModel != "" {
			analyzerOpts = append(analyzerOpts, analysis.WithModel(cfg.OpenAI.AnalysisModel))
		}
		if cfg.OpenAI.BaseURL != "" {
			analyzerOpts = append(analyzerOpts, analysis.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		analyzer, err = analysis.New(cfg.OpenAI.APIKey, analyzerOpts...)
		if err != nil {
			slog.Error("failed to create analyzer", "err", err)
			return 1
		}
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	serverOpts := []server.Option{
		server.WithHealth(health.New(checkers...)),
		server.WithMetrics(metrics),
		server.WithLogger(logger),
		server.WithRoster(buildRoster(cfg.Interview.Candidates)),
	}
	if metadata != nil {
		serverOpts = append(serverOpts, server.WithMetadata(metadata))
	}
	if analyzer != nil {
		serverOpts = append(serverOpts, server.WithAnalyzer(analyzer))
	}
	srv, err := server.New(library, minter, recordings, serverOpts...)
	if err != nil {
		slog.Error("failed to create server", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	srv.Register(mux)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		var err error
		if cfg.Server.TLS != nil {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// courseOption converts the configured course map into an analyzer option.
func courseOption(courses map[string]config.CourseConfig) analysis.Option {
	m := make(map[string]analysis.Course, len(courses))
	for topic, c := range courses {
		m[topic] = analysis.Course{Title: c.Title, URL: c.URL}
	}
	return analysis.WithCourseMap(m)
}

// buildRoster converts config candidates into the server roster.
func buildRoster(candidates []config.CandidateConfig) map[string]server.Candidate {
	roster := make(map[string]server.Candidate, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			continue
		}
		roster[c.ID] = server.Candidate{Name: c.Name, JobTitle: c.JobTitle}
	}
	return roster
}

// ── Turn event publishing ─────────────────────────────────────────────────────

// publishingMetadata decorates a metadata store so every saved interview
// also emits its turns onto the event streams. Publish failures are logged;
// the save already succeeded.
type publishingMetadata struct {
	inner     server.MetadataStore
	publisher *events.Publisher
}

func (p *publishingMetadata) Save(ctx context.Context, iv *store.Interview) (string, error) {
	id, err := p.inner.Save(ctx, iv)
	if err != nil {
		return "", err
	}

	for i, text := range iv.InterviewerTurns {
		ev := events.TurnEvent{
			InterviewID: id, Topic: iv.Topic, Speaker: "interviewer",
			Text: text, Index: i, At: time.Now().UTC(),
		}
		if perr := p.publisher.PublishInterviewer(ctx, ev); perr != nil {
			slog.Warn("publish interviewer turn", "interview_id", id, "err", perr)
			break
		}
	}
	for i, text := range iv.CandidateTurns {
		ev := events.TurnEvent{
			InterviewID: id, Topic: iv.Topic, Speaker: "candidate",
			Text: text, Index: i, At: time.Now().UTC(),
		}
		if perr := p.publisher.PublishCandidate(ctx, ev); perr != nil {
			slog.Warn("publish candidate turn", "interview_id", id, "err", perr)
			break
		}
	}
	return id, nil
}

func (p *publishingMetadata) Get(ctx context.Context, id string) (*store.Interview, error) {
	return p.inner.Get(ctx, id)
}

func (p *publishingMetadata) List(ctx context.Context, candidateID string) ([]store.Interview, error) {
	return p.inner.List(ctx, candidateID)
}

func (p *publishingMetadata) AttachReport(ctx context.Context, id string, report json.RawMessage) error {
	return p.inner.AttachReport(ctx, id, report)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
