package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"policyrag/features/job"
	"policyrag/features/mcp"
	"policyrag/features/policy"
	"policyrag/features/stats"
	"policyrag/internal/config"
	"policyrag/internal/generation"
	"policyrag/internal/middleware"
	"policyrag/internal/retrieval"
	"policyrag/internal/settings"
	"policyrag/internal/vector"
	"policyrag/internal/worker"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	Handler   http.Handler
	Policies  *policy.Service
	Retrieval *retrieval.Service
	Queue     *worker.Queue
	MCP       *mcp.Server

	cfg       *config.Config
	deps      *Dependencies
	processor *worker.Processor
	closers   []io.Closer
}

func New(cfg *config.Config, deps *Dependencies, opts ...Option) (*App, error) {
	settingsRepo := settings.NewPostgresRepo(deps.DB)
	settingsService := settings.NewService(settingsRepo, settings.Settings{
		GeminiAPIKey:        cfg.GeminiAPIKey,
		SimilarityThreshold: cfg.SimilarityThreshold,
		OverfetchFactor:     cfg.OverfetchFactor,
		DefaultTopK:         cfg.DefaultTopK,
		FactPolicy:          cfg.FactPolicy,
	})

	prov := &providers{}
	for _, opt := range opts {
		opt(prov)
	}
	if err := prov.fill(cfg, settingsService); err != nil {
		return nil, err
	}

	policyRepo := policy.NewPostgresRepo(deps.DB)
	jobRepo := job.NewPostgresRepo(deps.DB)
	gateway := vector.NewGateway(deps.Index, cfg.EmbeddingDimension, cfg.VectorDeleteScanLimit)
	facts := generation.NewFactExtractor(policyRepo, prov.generator, settingsService)

	processor, err := worker.NewProcessor(policyRepo, prov.extractor, prov.embedder, gateway, facts, worker.ProcessorConfig{
		ChunkMaxChars:    cfg.ChunkMaxChars,
		ChunkOverlap:     cfg.ChunkOverlap,
		EmbedConcurrency: cfg.EmbedConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}

	var publisher worker.Publisher
	if deps.NSQProducer != nil {
		publisher = deps.NSQProducer
	}
	queue := worker.NewQueue(processor, policyRepo, jobRepo, publisher, cfg.JobTimeout)

	policyService := policy.NewService(policyRepo, gateway, facts, queue, cfg.UploadDir)
	jobService := job.NewService(jobRepo, queue)

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(prov.embedder, gateway, policyRepo,
		generation.NewAnswerGenerator(prov.generator), settingsService, queryLogger)

	mcpServer, err := mcp.NewServer(retrievalService, policyService)
	if err != nil {
		return nil, err
	}

	a := &App{
		Policies:  policyService,
		Retrieval: retrievalService,
		Queue:     queue,
		MCP:       mcpServer,
		cfg:       cfg,
		deps:      deps,
		processor: processor,
		closers:   prov.closers,
	}
	a.Handler = a.routes(
		policy.NewHandler(policyService, cfg.MaxUploadSizeMB),
		retrieval.NewHandler(retrievalService),
		job.NewHandler(jobService),
		stats.NewHandler(policyRepo, jobRepo, queue),
		settings.NewHandler(settingsService),
	)
	return a, nil
}

func (a *App) routes(
	policyHandler *policy.Handler,
	retrievalHandler *retrieval.Handler,
	jobHandler *job.Handler,
	statsHandler *stats.Handler,
	settingsHandler *settings.Handler,
) http.Handler {
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(enableCORS(h)))
	}

	route("POST /policies", policyHandler.Create)
	route("GET /policies", policyHandler.List)
	route("GET /policies/{id}", policyHandler.Get)
	route("DELETE /policies/{id}", policyHandler.Delete)
	route("POST /policies/{id}/documents", policyHandler.Upload)
	route("POST /policies/{id}/facts", policyHandler.ExtractFacts)
	route("GET /policies/{id}/facts", policyHandler.ListFacts)

	route("POST /search", retrievalHandler.Search)
	route("POST /ask", retrievalHandler.Ask)

	route("GET /jobs/failed", jobHandler.List)
	route("POST /jobs/{id}/retry", jobHandler.Retry)

	route("GET /stats", statsHandler.GetStats)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	mcpHandler := middleware.CorrelationID(a.MCP.Handler())
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		mux.Handle(method+" /mcp", mcpHandler)
	}

	// preflight for every route; method patterns above never match OPTIONS
	mux.HandleFunc("OPTIONS /", enableCORS(func(w http.ResponseWriter, r *http.Request) {}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := a.deps.DB.PingContext(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Run serves HTTP and the background ingestion inputs until ctx is
// cancelled, then stops the queue.
func (a *App) Run(ctx context.Context) error {
	consumer := a.startConsumer()
	if a.cfg.InboxDir != "" {
		watcher := worker.NewInboxWatcher(a.cfg.InboxDir, a.Queue, a.cfg.InboxQuiet)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("inbox watcher stopped", "error", err, "dir", a.cfg.InboxDir)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", a.cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}
	if err := a.Close(shutdownCtx); err != nil {
		slog.Warn("in-flight job cancelled at shutdown deadline", "error", err)
	}
	return runErr
}

func (a *App) startConsumer() *nsq.Consumer {
	if !a.cfg.EnableNSQ {
		return nil
	}
	consumer, err := nsq.NewConsumer(config.TopicPolicyIngest, config.ChannelBackend, nsq.NewConfig())
	if err != nil {
		slog.Error("failed to create NSQ consumer for ingest requests", "error", err)
		return nil
	}
	consumer.SetLogger(nil, nsq.LogLevelError)
	consumer.AddHandler(worker.NewIngestConsumer(a.Queue))
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		slog.Error("failed to connect to NSQLookupd", "error", err)
		consumer.Stop()
		return nil
	}
	slog.Info("NSQ ingest consumer connected", "topic", config.TopicPolicyIngest)
	return consumer
}

// Close stops the queue, waiting for the in-flight job until ctx expires, and
// releases provider clients.
func (a *App) Close(ctx context.Context) error {
	err := a.Queue.Shutdown(ctx)
	a.processor.Release()
	for _, c := range a.closers {
		if cerr := c.Close(); cerr != nil {
			slog.Warn("failed to close provider client", "error", cerr)
		}
	}
	return err
}
