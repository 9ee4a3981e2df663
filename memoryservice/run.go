// Package memoryservice wires configuration, stores, the consolidation
// pipeline and the HTTP server into a running service.
package memoryservice

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketmind/memoryd/internal/api"
	"github.com/marketmind/memoryd/internal/assembler"
	"github.com/marketmind/memoryd/internal/config"
	"github.com/marketmind/memoryd/internal/consolidation"
	"github.com/marketmind/memoryd/internal/embeddings"
	"github.com/marketmind/memoryd/internal/factory"
	"github.com/marketmind/memoryd/internal/graph"
	"github.com/marketmind/memoryd/internal/health"
	"github.com/marketmind/memoryd/internal/logger"
	"github.com/marketmind/memoryd/internal/services"
	"github.com/marketmind/memoryd/internal/store"
	"github.com/marketmind/memoryd/internal/tokenizer"
	"github.com/marketmind/memoryd/internal/vectorindex"
	"github.com/marketmind/memoryd/internal/working"
)

// Run starts the memory service HTTP server and blocks until shutdown or
// error.
func Run() error {
	log := logger.New("memoryd")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("vector_store", cfg.VectorStore).
		Int("http_port", cfg.HTTPPort).
		Msg("Memory service starting")

	ctx, stop := newServerContext()
	defer stop()

	deps, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = deps.store.Close() }()

	pipeline := consolidation.New(
		deps.working, deps.index, deps.graph, deps.store.Personas(), deps.store.Tasks(),
		factory.NewExtractor(cfg), log, cfg.ConsolidationQueue, cfg.ExtractTimeout,
	)
	if err := pipeline.Start(ctx, cfg.ConsolidationWorkers); err != nil {
		log.Error().Err(err).Msg("Failed to start consolidation pipeline")
		return err
	}
	defer pipeline.Stop()

	counter := tokenizer.NewCounter("cl100k_base")
	asm := assembler.New(
		deps.store.Personas(), deps.index, deps.working, counter, log,
		cfg.EpisodicTopK, cfg.RecentWindow, cfg.MaxContextTokens,
	)
	svc := services.NewMemoryService(deps.working, asm, pipeline, deps.graph, deps.index, deps.store)

	svcHealth := startHealthCheckers(ctx, cfg, log, deps)
	router := api.NewRouter(svc, svcHealth.IsHealthy)

	server := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

type dependencies struct {
	store    store.Store
	index    vectorindex.Index
	embedder embeddings.Provider
	graph    *graph.Store
	working  *working.Store
}

func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*dependencies, error) {
	st, err := factory.NewStore(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}

	emb, err := factory.NewEmbedder(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Embedding provider unavailable")
		return nil, err
	}

	idx, err := factory.NewVectorIndex(ctx, cfg, emb, log)
	if err != nil {
		log.Error().Err(err).Msg("Vector index unavailable")
		return nil, err
	}

	g, err := factory.NewGraphStore(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Graph store unavailable")
		return nil, err
	}

	return &dependencies{
		store:    st,
		index:    idx,
		embedder: emb,
		graph:    g,
		working:  working.NewStore(cfg.WorkingCapacity),
	}, nil
}

// startHealthCheckers launches per-dependency probes plus the service-level
// aggregator that gates readiness.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, deps *dependencies) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	var checkers []health.Checker

	storeChecker := health.NewPingChecker("store", health.PingFunc(deps.store.Ping), log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	if hp, ok := deps.index.(health.HealthPinger); ok {
		idxChecker := health.NewPingChecker("vector-index", hp, log, probeTimeout)
		go idxChecker.Start(ctx, interval)
		checkers = append(checkers, idxChecker)
	}

	if hp, ok := deps.embedder.(health.HealthPinger); ok {
		embChecker := health.NewPingChecker("embedder", hp, log, probeTimeout)
		go embChecker.Start(ctx, interval)
		checkers = append(checkers, embChecker)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
