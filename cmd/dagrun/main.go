package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/dagrun/internal/application/orchestrator"
	"github.com/aescanero/dagrun/internal/application/planner"
	"github.com/aescanero/dagrun/internal/application/replay"
	"github.com/aescanero/dagrun/internal/application/state"
	"github.com/aescanero/dagrun/internal/application/workers"
	"github.com/aescanero/dagrun/internal/config"
	"github.com/aescanero/dagrun/pkg/adapters/events/redis"
	"github.com/aescanero/dagrun/pkg/adapters/isolation/process"
	"github.com/aescanero/dagrun/pkg/adapters/llm"
	"github.com/aescanero/dagrun/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/aescanero/dagrun/pkg/adapters/storage/redis"
	"github.com/aescanero/dagrun/pkg/api/grpc"
	"github.com/aescanero/dagrun/pkg/api/http"
	"github.com/aescanero/dagrun/pkg/api/websocket"
	"github.com/aescanero/dagrun/pkg/ports"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting dagrun engine",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// An unreachable store degrades the service instead of stopping it
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, running degraded",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
	} else {
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := prometheus.NewCollector(registry)

	store := redisstorage.NewStore(redisClient, logger)
	eventBus := redis.NewStreamsEventBus(
		redisClient,
		"dagrun",
		fmt.Sprintf("dagrun-%d", os.Getpid()),
		cfg.Redis.StreamMaxLen,
		logger,
	)

	repo := state.NewRepository(store, cfg.Redis.TTL, metricsCollector, logger)

	// Initialize workers
	workerSet, err := buildWorkers(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create workers", zap.Error(err))
	}
	workerRegistry, err := workers.NewRegistry(workerSet)
	if err != nil {
		logger.Fatal("failed to register workers", zap.Error(err))
	}

	dispatcherCfg := workers.DispatcherConfig{
		PollInterval: cfg.Isolation.PollInterval,
		Timeout:      cfg.Isolation.Timeout,
	}
	if cfg.Isolation.Enabled {
		dispatcherCfg.Backend = process.NewBackend(cfg.Isolation.Shell, cfg.Isolation.Script, logger)
		dispatcherCfg.IsolatedTypes = cfg.Isolation.Types
		if len(dispatcherCfg.IsolatedTypes) == 0 {
			dispatcherCfg.IsolatedTypes = workerRegistry.Types()
		}
		logger.Info("worker isolation enabled",
			zap.Strings("types", dispatcherCfg.IsolatedTypes),
			zap.Duration("timeout", cfg.Isolation.Timeout))
	}
	dispatcher := workers.NewDispatcher(workerRegistry, dispatcherCfg, metricsCollector, logger)

	healthMonitor := workers.NewHealthMonitor(dispatcher, cfg.Workers.HealthCheckInterval, logger)
	healthMonitor.Start()

	// Initialize application components
	executor := orchestrator.NewExecutor(repo, dispatcher, eventBus, metricsCollector, logger)

	// Task metrics are driven by the lifecycle stream
	lifecycleCtx, stopLifecycle := context.WithCancel(context.Background())
	defer stopLifecycle()
	if err := orchestrator.NewLifecycleRecorder(eventBus, metricsCollector, logger).Start(lifecycleCtx); err != nil {
		logger.Warn("lifecycle recorder not started", zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(
		repo,
		executor,
		planner.NewKeywordPlanner(),
		orchestrator.NewValidator(cfg.Tasks.MaxDescriptionLength, cfg.Tasks.MaxSubtasks),
		metricsCollector,
		logger,
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:           cfg.HTTPPort,
		Orchestrator:   orchestratorMgr,
		Store:          repo,
		Gatherer:       registry,
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxReplaySpeed: cfg.Replay.MaxSpeed,
		Logger:         logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(&websocket.Config{
		Manager:    orchestratorMgr,
		Repository: repo,
		Replay: replay.Config{
			Speed:         cfg.Replay.DefaultSpeed,
			MaxSpeed:      cfg.Replay.MaxSpeed,
			MaxDelay:      cfg.Replay.MaxDelay,
			FallbackDelay: cfg.Replay.FallbackDelay,
		},
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metricsCollector,
		Logger:         logger,
	})
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Store:         repo,
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("dagrun engine started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Strings("worker_types", workerRegistry.Types()))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	healthMonitor.Stop()

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	stopLifecycle()
	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("dagrun engine shut down complete")
}

// buildWorkers returns model-backed workers when an API key is configured,
// template workers otherwise.
func buildWorkers(cfg *config.Config, logger *zap.Logger) (map[string]ports.Worker, error) {
	if cfg.LLM.APIKey == "" {
		logger.Info("no LLM API key configured, using template workers",
			zap.Duration("latency", cfg.Workers.SimulatedLatency))
		return workers.NewTemplateWorkers(cfg.Workers.SimulatedLatency), nil
	}

	client, err := llm.NewClient(&llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("using LLM workers",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))
	return workers.NewLLMWorkers(client), nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
