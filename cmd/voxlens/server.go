package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voxlens/voxlens/api/handlers"
	"github.com/voxlens/voxlens/config"
	"github.com/voxlens/voxlens/internal/blob"
	"github.com/voxlens/voxlens/internal/cache"
	"github.com/voxlens/voxlens/internal/metrics"
	"github.com/voxlens/voxlens/internal/notify"
	"github.com/voxlens/voxlens/internal/perf"
	"github.com/voxlens/voxlens/internal/ratelimit"
	"github.com/voxlens/voxlens/internal/server"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/orchestrator"
	"github.com/voxlens/voxlens/pipeline"
	"github.com/voxlens/voxlens/providers"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/telephony"
	"github.com/voxlens/voxlens/webhook"
)

// Server wires the evaluation platform together: stores, providers,
// pipeline, orchestrator, webhook dispatcher, and the HTTP surfaces.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	db         *gorm.DB
	stores     *store.Stores
	blobs      blob.Store
	cacheStore cache.Store
	registry   *providers.Registry
	collector  *metrics.Collector
	limiter    *ratelimit.Limiter
	monitor    *perf.Monitor
	hub        *notify.Hub
	dispatcher *webhook.Dispatcher
	pipeline   *pipeline.Pipeline
	orch       *orchestrator.Orchestrator

	rateLimiterCancel context.CancelFunc
}

// NewServer creates a server from loaded configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start initializes all components and starts the HTTP listeners.
func (s *Server) Start() error {
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) initComponents() error {
	db, err := store.Open(s.cfg.Database.StoreConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.db = db
	s.stores = store.New(db)

	switch s.cfg.Cache.Backend {
	case "redis":
		redisStore, err := cache.NewRedisStore(s.cfg.Cache.Redis, s.logger)
		if err != nil {
			return fmt.Errorf("open redis cache: %w", err)
		}
		s.cacheStore = redisStore
	default:
		s.cacheStore = cache.NewMemoryStore(s.cfg.Cache.Memory, s.logger)
	}

	blobs, err := blob.NewFSStore(s.cfg.Storage.Root, s.logger)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	s.blobs = blobs

	s.registry = s.buildRegistry()
	s.collector = metrics.NewCollector("voxlens", s.logger)
	s.registry.SetCollector(s.collector)
	s.limiter = ratelimit.NewLimiter(s.cfg.RateLimit, s.logger)
	s.monitor = perf.NewMonitor(s.cfg.Perf, s.logger)
	s.hub = notify.NewHub()
	s.dispatcher = webhook.NewDispatcher(s.cfg.Webhook, s.stores.Subscriptions, s.collector, s.logger)

	evaluator := pipeline.NewEvaluator(pipeline.NewJobsScorer(s.registry, s.logger))

	s.pipeline = pipeline.New(pipeline.Options{
		Config:    s.cfg.Pipeline,
		Calls:     s.stores.Calls,
		Knowledge: s.stores.Knowledge,
		Blobs:     s.blobs,
		Cache:     s.cacheStore,
		Registry:  s.registry,
		Evaluator: evaluator,
		Perf:      s.monitor,
		Collector: s.collector,
		Events:    s.dispatcher,
		Hub:       s.hub,
		Logger:    s.logger,
	})

	s.orch = orchestrator.New(orchestrator.Options{
		Config:    s.cfg.Orchestrator,
		Runs:      s.stores.Runs,
		Knowledge: s.stores.Knowledge,
		Blobs:     s.blobs,
		Registry:  s.registry,
		Evaluator: evaluator,
		Collector: s.collector,
		Events:    s.dispatcher,
		Hub:       s.hub,
		Logger:    s.logger,
	})

	return nil
}

// buildRegistry registers every provider with credentials configured.
// Registration order within a capability is the fallback order.
func (s *Server) buildRegistry() *providers.Registry {
	registry := providers.NewRegistry()
	p := s.cfg.Providers

	if p.Deepgram.APIKey != "" {
		registry.RegisterSTT(speech.NewDeepgramProvider(p.Deepgram))
		s.logger.Info("STT provider registered", zap.String("provider", "deepgram"))
	}
	if p.Whisper.APIKey != "" {
		registry.RegisterSTT(speech.NewWhisperProvider(p.Whisper))
		s.logger.Info("STT provider registered", zap.String("provider", "whisper"))
	}
	if p.ElevenLabs.APIKey != "" {
		registry.RegisterTTS(speech.NewElevenLabsProvider(p.ElevenLabs))
		s.logger.Info("TTS provider registered", zap.String("provider", "elevenlabs"))
	}
	if p.OpenAITTS.APIKey != "" {
		registry.RegisterTTS(speech.NewOpenAITTSProvider(p.OpenAITTS))
		s.logger.Info("TTS provider registered", zap.String("provider", "openai_tts"))
	}
	if p.OpenAI.APIKey != "" {
		registry.RegisterCompletion(llm.NewOpenAIProvider(p.OpenAI))
		s.logger.Info("completion provider registered", zap.String("provider", "openai"))
	}
	if p.Twilio.AccountSID != "" {
		registry.RegisterCallControl(telephony.NewTwilioProvider(p.Twilio))
		s.logger.Info("call control provider registered", zap.String("provider", "twilio"))
	}

	return registry
}

func (s *Server) startHTTPServer() error {
	callHandler := handlers.NewCallHandler(s.stores.Calls, s.pipeline, s.limiter, s.collector, s.logger)
	runHandler := handlers.NewRunHandler(s.stores.Runs, s.orch, s.limiter, s.logger)
	webhookHandler := handlers.NewWebhookHandler(s.stores.Subscriptions, s.logger)
	knowledgeHandler := handlers.NewKnowledgeHandler(s.stores.Knowledge, s.logger)
	callbackHandler := handlers.NewCallbackHandler(s.orch, s.blobs, s.registry,
		s.cfg.Orchestrator.CallbackBaseURL, s.logger)

	healthHandler := handlers.NewHealthHandler(Version, s.logger)
	healthHandler.RegisterCheck(handlers.CheckFunc{CheckName: "database", Fn: func(ctx context.Context) error {
		db, err := s.db.DB()
		if err != nil {
			return err
		}
		return db.PingContext(ctx)
	}})
	healthHandler.RegisterCheck(handlers.CheckFunc{CheckName: "cache", Fn: func(ctx context.Context) error {
		// A miss on the probe key still proves the backend answers.
		if _, err := s.cacheStore.Get(ctx, "health:probe"); err != nil && !cache.IsCacheMiss(err) {
			return err
		}
		return nil
	}})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)

	mux.HandleFunc("POST /api/v1/calls", callHandler.HandleIngest)
	mux.HandleFunc("GET /api/v1/calls", callHandler.HandleList)
	mux.HandleFunc("GET /api/v1/calls/{id}", callHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/calls/{id}/retry", callHandler.HandleRetry)
	mux.HandleFunc("POST /api/v1/calls/{id}/cancel", callHandler.HandleCancel)
	mux.HandleFunc("DELETE /api/v1/calls/{id}", callHandler.HandleDelete)
	mux.HandleFunc("GET /api/v1/calls/{id}/export", callHandler.HandleExport)

	mux.HandleFunc("POST /api/v1/runs", runHandler.HandleStart)
	mux.HandleFunc("GET /api/v1/runs", runHandler.HandleList)
	mux.HandleFunc("GET /api/v1/runs/{id}", runHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", runHandler.HandleCancel)

	mux.HandleFunc("POST /api/v1/webhooks", webhookHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/webhooks", webhookHandler.HandleList)
	mux.HandleFunc("GET /api/v1/webhooks/{id}", webhookHandler.HandleGet)
	mux.HandleFunc("PUT /api/v1/webhooks/{id}", webhookHandler.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/webhooks/{id}", webhookHandler.HandleDelete)

	mux.HandleFunc("POST /api/v1/knowledge", knowledgeHandler.HandleUpsert)
	mux.HandleFunc("GET /api/v1/knowledge", knowledgeHandler.HandleList)
	mux.HandleFunc("GET /api/v1/knowledge/{id}", knowledgeHandler.HandleGet)
	mux.HandleFunc("DELETE /api/v1/knowledge/{id}", knowledgeHandler.HandleDelete)

	mux.HandleFunc("POST /v1/callbacks/runs/{id}/answer", callbackHandler.HandleAnswer)
	mux.HandleFunc("POST /v1/callbacks/runs/{id}/status", callbackHandler.HandleStatus)
	mux.HandleFunc("POST /v1/callbacks/runs/{id}/recording", callbackHandler.HandleRecording)
	mux.HandleFunc("GET /v1/callbacks/audio/{ref...}", callbackHandler.HandleAudio)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.AllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a shutdown signal arrives, then closes
// everything in dependency order.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners first so no new work arrives, then drains
// background processing.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout+10*time.Second)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if s.pipeline != nil {
		s.pipeline.Shutdown()
	}
	if s.orch != nil {
		s.orch.Shutdown()
	}
	if s.dispatcher != nil {
		s.dispatcher.Flush()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.cacheStore != nil {
		if err := s.cacheStore.Close(); err != nil {
			s.logger.Error("cache shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
