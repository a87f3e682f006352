package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kavymi/meepo/internal/agentloop"
	"github.com/kavymi/meepo/internal/agenttools"
	"github.com/kavymi/meepo/internal/channel"
	"github.com/kavymi/meepo/internal/channel/notesadapter"
	"github.com/kavymi/meepo/internal/config"
	"github.com/kavymi/meepo/internal/doctor"
	"github.com/kavymi/meepo/internal/gatewayauth"
	"github.com/kavymi/meepo/internal/guardrail"
	"github.com/kavymi/meepo/internal/intersession"
	"github.com/kavymi/meepo/internal/knowledge"
	"github.com/kavymi/meepo/internal/middleware"
	"github.com/kavymi/meepo/internal/modelclient"
	"github.com/kavymi/meepo/internal/observability"
	"github.com/kavymi/meepo/internal/orchestrator"
	"github.com/kavymi/meepo/internal/ratelimit"
	"github.com/kavymi/meepo/internal/session"
	"github.com/kavymi/meepo/internal/skillsregistry"
	"github.com/kavymi/meepo/internal/toolregistry"
	"github.com/kavymi/meepo/internal/watcher"
)

// appContext is the process-wide set of wired dependencies, assembled
// once at startup and shared by value through the agent loop, watcher
// scheduler and task orchestrator. There are no ambient globals; every
// component that needs one of these receives it explicitly.
type appContext struct {
	cfg        *config.Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	store      *knowledge.Store
	vectors    *knowledge.VectorIndex
	embedder   knowledge.EmbeddingProvider
	sessions   *session.Manager
	guardrails *guardrail.Pipeline
	limiter    *ratelimit.Limiter
	tools      *toolregistry.Registry
	chain      *middleware.Chain
	bus        *channel.Bus
	loop       *agentloop.Loop
	orch       *orchestrator.Orchestrator
	scheduler  *watcher.Scheduler
	skills     *skillsregistry.Registry
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the meepo runtime",
		Long: `Start the meepo runtime: load configuration, wire the knowledge store,
session manager, tool registry, guardrail pipeline, rate limiter, channel
adapters and watcher scheduler, then run the agent loop over the message
bus until a shutdown signal arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "meepo.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Observability.LogLevel = "debug"
	}

	app, cleanup, err := buildAppContext(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wire app context: %w", err)
	}
	defer cleanup()

	app.logger.Info(ctx, "meepo runtime starting",
		"version", version, "commit", commit,
		"knowledge_db", cfg.Knowledge.DBPath,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.bus.StartAdapters(ctx); err != nil {
		return fmt.Errorf("start channel adapters: %w", err)
	}
	if err := app.scheduler.Load(ctx); err != nil {
		return fmt.Errorf("load persisted watchers: %w", err)
	}
	if err := app.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start watcher scheduler: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled && cfg.Server.MetricsPort > 0 {
		metricsServer = startMetricsServer(app, cfg)
	}

	busErrCh := make(chan error, 1)
	go func() {
		busErrCh <- app.bus.Run(ctx, func(hctx context.Context, msg channel.IncomingMessage) error {
			app.scheduler.NotifyMessage(hctx, msg.Content)
			return app.loop.HandleMessage(hctx, msg)
		})
	}()

	select {
	case <-ctx.Done():
		app.logger.Info(context.Background(), "shutdown signal received")
	case err := <-busErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error(context.Background(), "bus consumer stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.scheduler.Stop(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "watcher scheduler stop", "error", err)
	}
	if err := app.bus.StopAdapters(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "channel adapters stop", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	app.logger.Info(shutdownCtx, "meepo runtime stopped gracefully")
	return nil
}

// buildAppContext wires every subsystem into one appContext. It is the
// single place that knows the construction order required by the
// circular delegate_tasks<->registry dependency (resolved via
// orchestrator.RegistrySlot) and by the agent loop's dependence on the
// fully-populated tool registry.
func buildAppContext(ctx context.Context, cfg *config.Config) (*appContext, func(), error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	slogger := logger.Slog()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	store, err := knowledge.Open(cfg.Knowledge.DBPath, slogger)
	if err != nil {
		return nil, nil, fmt.Errorf("open knowledge store: %w", err)
	}

	var embedder knowledge.EmbeddingProvider = knowledge.NewNoOpEmbeddingProvider(0)
	var vectors *knowledge.VectorIndex
	if cfg.Knowledge.EnableEmbeddings {
		vectors, err = knowledge.LoadVectorIndex(ctx, store, embedder.Dimensions())
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("load vector index: %w", err)
		}
	}

	sessions := session.New()
	guardrails := guardrail.WithDefaults(slogger)
	guardrails.SetBlockSeverity(cfg.Guardrail.Severity())
	limiter := ratelimit.New(cfg.RateLimit.MaxMessages, cfg.RateLimit.Window, slogger)

	client, err := buildModelClient(ctx, cfg.ModelClient)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("build model client: %w", err)
	}

	tools := toolregistry.New()
	chain := middleware.NewChain(slogger)
	chain.Add(middleware.NewLoggingMiddleware(slogger))
	chain.Add(middleware.NewToolCallLimitMiddleware(cfg.ModelClient.MaxTurns * 4))
	chain.Add(middleware.NewToolOutputTruncationMiddleware(8000))

	registry := channel.NewRegistry()
	bus := channel.New(registry, 256, slogger)

	if contains(cfg.Channels.Enabled, "notes") {
		notesAdapter, err := notesadapter.New(cfg.Knowledge.DBPath+".notes", time.Minute, slogger)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("build notes adapter: %w", err)
		}
		registry.Register(notesAdapter)
	}

	loopCfg := agentloop.DefaultConfig()
	loopCfg.Model = cfg.ModelClient.Model
	if loopCfg.Model == "" {
		loopCfg.Model = "claude-sonnet-4-5"
	}
	loopCfg.MaxTokens = cfg.ModelClient.MaxTokens
	loopCfg.MaxTurns = cfg.ModelClient.MaxTurns
	loopCfg.EnableGraphExpand = cfg.Knowledge.EnableGraphExpand
	loopCfg.Corrective.Enabled = cfg.Knowledge.EnableCorrective

	loop := agentloop.New(loopCfg, client, sessions, guardrails, limiter, store, vectors, embedder, tools, chain, bus, slogger)

	scheduler := watcher.New(store, func(nctx context.Context, replyChannel, content string) error {
		return bus.Publish(nctx, channel.IncomingMessage{
			ID:      fmt.Sprintf("watcher-%d", time.Now().UnixNano()),
			Sender:  "watcher",
			Content: content,
			Channel: channel.Type(replyChannel),
			At:      time.Now().UTC(),
		})
	}, watcher.WithLogger(slogger))

	slot := orchestrator.NewRegistrySlot()
	orch := orchestrator.New(loop.RunSubAgent, func(nctx context.Context, ch, content string) error {
		return bus.Send(nctx, channel.OutgoingMessage{Kind: channel.KindNotification, Content: content, Channel: channel.Type(ch)})
	}, slogger)

	if err := tools.Register(orchestrator.DelegateTasksTool(orch, slot, "")); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("register delegate_tasks: %w", err)
	}
	if err := intersession.RegisterAll(tools, sessions, []string{"assistant"}, cfg.AgentToAgent); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("register inter-session tools: %w", err)
	}
	if err := agenttools.RegisterAll(tools, store, scheduler); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("register knowledge and watcher tools: %w", err)
	}
	if err := slot.Set(tools); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("fill registry slot: %w", err)
	}

	skillsDir := cfg.Skills.SkillsDir
	if skillsDir == "" {
		skillsDir = "skills"
	}
	skills := skillsregistry.New(skillsDir)
	if err := skills.Load(); err != nil {
		slogger.Warn("skills registry load", "error", err)
	}

	app := &appContext{
		cfg: cfg, logger: logger, metrics: metrics, store: store, vectors: vectors,
		embedder: embedder, sessions: sessions, guardrails: guardrails, limiter: limiter,
		tools: tools, chain: chain, bus: bus, loop: loop, orch: orch, scheduler: scheduler,
		skills: skills,
	}

	cleanup := func() {
		store.Close()
	}

	return app, cleanup, nil
}

func buildModelClient(ctx context.Context, cfg config.ModelClientConfig) (modelclient.Client, error) {
	switch cfg.Backend {
	case "bedrock":
		return modelclient.NewBedrockClient(ctx, modelclient.BedrockConfig{
			Region:       cfg.BedrockRegn,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	default:
		apiKey := cfg.AnthropicKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return modelclient.NewAnthropicClient(modelclient.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.AnthropicURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	}
}

// startMetricsServer serves Prometheus metrics on /metrics and a doctor
// summary on /healthz (the checks run afresh on each request; 503 when
// any fails) at server.host:metrics_port, gated by bearer auth when
// gateway_auth.enabled is set.
func startMetricsServer(app *appContext, cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := doctor.Run(r.Context(), doctor.Options{
			ConfigPath:   "meepo.yaml",
			DBPath:       cfg.Knowledge.DBPath,
			APIKeyEnvVar: cfg.Doctor.APIKeyEnvVar,
			StateDir:     cfg.Doctor.StateDir,
		})
		if report.Healthy() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, report.Summary())
	})

	var handler http.Handler = mux
	if cfg.GatewayAuth.Enabled {
		verifier := gatewayauth.NewVerifier(cfg.GatewayAuth.SigningKey, cfg.GatewayAuth.ExpectedAud)
		handler = verifier.Middleware(mux)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	server := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(context.Background(), "metrics server stopped", "error", err)
		}
	}()
	return server
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
