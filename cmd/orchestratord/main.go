// Command orchestratord is the process entrypoint wiring every
// spec.md §2 component together: model discovery and VRAM accounting,
// selection, ensemble validation, generation, the iteration loop, job
// lifecycle management, learning, warmup, and the HTTP/websocket
// surface. Replaces the teacher's cmd/server/main.go, which wired its
// own Workflow/Execution engine against a Postgres-backed event store
// this repo's Job/Attempt domain does not have.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/smilemakc/codegen-orchestrator/internal/backend"
	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/api/rest"
	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/config"
	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/logging"
	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/metrics"
	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/storage"
	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/tracing"
	"github.com/smilemakc/codegen-orchestrator/internal/infrastructure/websocket"
	"github.com/smilemakc/codegen-orchestrator/internal/jobmanager"
	"github.com/smilemakc/codegen-orchestrator/internal/learning"
	"github.com/smilemakc/codegen-orchestrator/internal/orchestrator"
	"github.com/smilemakc/codegen-orchestrator/internal/warmup"
)

// registryRefreshInterval bounds how often ModelRegistry and VramBudget
// re-poll the inference backend's /api/tags and /api/ps endpoints.
const registryRefreshInterval = 20 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.toml (defaults to $ORCHESTRATOR_HOME/config.toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Configuration is the one startup failure spec.md §6 marks fatal.
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)
	log.Info().Str("ollama", cfg.Ollama.BaseURL).Int("port", cfg.Server.Port).Msg("starting codegen-orchestrator")

	tp := tracing.NewProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	registry := orchestrator.NewModelRegistry()
	vramBudget := orchestrator.NewVramBudget()

	inference := backend.NewRetryingInferenceClient(backend.NewInferenceClient(cfg.Ollama.BaseURL, nil), 1)
	rawInference := backend.NewInferenceClient(cfg.Ollama.BaseURL, nil)

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go refreshRegistry(refreshCtx, rawInference, registry, vramBudget, cfg.Gpu.TotalVRAMBytes, log)

	var memoryClient *backend.MemoryClient
	if cfg.MemoryAgent.Enabled {
		memoryClient = backend.NewMemoryClient(cfg.MemoryAgent.BaseURL, nil)
	}

	var sandboxClient *backend.SandboxClient
	if cfg.Sandbox.Enabled {
		sandboxClient = backend.NewSandboxClient(cfg.Sandbox.BaseURL, nil)
	}

	llmReviewer := backend.NewOpenAIDelegate("", "", "")

	var generatorMemory orchestrator.MemoryService
	if memoryClient != nil {
		generatorMemory = memoryClient
	}
	generator := orchestrator.NewGenerator(inference, generatorMemory)

	validator := orchestrator.NewValidator(cfg.Engine.MinScore, llmReviewer, nil, sandboxRunner(sandboxClient))
	validator.SetSandboxFailuresTerminal(cfg.Sandbox.FailuresAreTerminal)

	selector := orchestrator.NewModelSelector(registry, vramBudget, cfg.Engine.PrimaryModel, cfg.Engine.Verbose)
	ensemble := orchestrator.NewEnsembleCoordinator(cfg.Engine.MaxParallel)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	var auditStore *storage.AuditStore
	if cfg.Storage.Enabled {
		auditStore = storage.NewAuditStore(cfg.Storage.DSN)
		if err := auditStore.InitSchema(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to initialize audit store schema, continuing without it")
			auditStore = nil
		}
	}

	var memoryWriter learning.MemoryWriter
	if memoryClient != nil {
		memoryWriter = memoryClient
	}
	var auditSink learning.AuditSink
	if auditStore != nil {
		auditSink = auditStore
	}
	recorder := learning.New(memoryWriter, auditSink, log)
	selector.WithLearningStats(recorder).WithCategoryDelegate(llmReviewer)

	loop := orchestrator.NewIterationLoop(selector, ensemble, generator, validator, recorder, collector, orchestrator.LoopConfig{
		MaxIterations: cfg.Engine.MaxIterations,
		Strategy:      domain.EnsembleStrategy(cfg.Engine.Strategy),
		Category:      domain.ModelCategory(cfg.Engine.Category),
		EnsembleSize:  cfg.Engine.EnsembleSize,
	})

	hub := websocket.NewHub(log)
	go hub.Run()

	jobs := jobmanager.New(loop).WithPublisher(hub).WithMetrics(collector)

	jwtSecret := ""
	if cfg.Server.RequireAuth {
		jwtSecret = cfg.Server.JWTSecret
	}
	server := rest.NewServer(jobs, hub, log, jwtSecret)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", server)

	if cfg.Docker.Enabled {
		dockerClient, err := warmup.NewDockerClient()
		if err != nil {
			log.Warn().Err(err).Msg("failed to build docker client, warmup disabled")
		} else {
			supervisor := warmup.New(dockerClient, log, true)
			go supervisor.Warm(context.Background(), cfg.Docker.WarmupImages)
		}
	}

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the websocket status stream holds connections open indefinitely.
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// refreshRegistry polls the inference backend on a fixed interval,
// upserting discovered models into registry and refreshing vramBudget
// from the backend's currently-resident model list, per spec.md §4.1/4.2.
func refreshRegistry(ctx context.Context, client *backend.InferenceClient, registry *orchestrator.ModelRegistry, vramBudget *orchestrator.VramBudget, totalVRAM int64, log zerolog.Logger) {
	ticker := time.NewTicker(registryRefreshInterval)
	defer ticker.Stop()

	poll := func() {
		models, err := client.ListModels(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("model registry refresh failed")
		} else {
			for _, m := range models {
				registry.Upsert(m)
			}
		}

		devices, err := client.ListRunning(ctx, totalVRAM)
		if err != nil {
			log.Warn().Err(err).Msg("vram budget refresh failed")
			return
		}
		vramBudget.Refresh(devices)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

func sandboxRunner(c *backend.SandboxClient) orchestrator.SandboxRunner {
	if c == nil {
		return nil
	}
	return c
}
