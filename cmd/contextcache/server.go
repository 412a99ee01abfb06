package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/BaSui01/contextcache/api/handlers"
	"github.com/BaSui01/contextcache/config"
	"github.com/BaSui01/contextcache/internal/metrics"
	"github.com/BaSui01/contextcache/internal/pool"
	"github.com/BaSui01/contextcache/internal/server"
	"github.com/BaSui01/contextcache/internal/telemetry"
	"github.com/BaSui01/contextcache/llm/cache"
	"github.com/BaSui01/contextcache/llm/tokenizer"
)

const (
	metricsNamespace = "contextcache"
	cacheName        = "context"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ContextCache 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	// 上下文缓存
	cache *cache.ContextCache

	// Handlers
	healthHandler  *handlers.HealthHandler
	cacheHandler   *handlers.CacheHandler
	contextHandler *handlers.ContextHandler

	// 指标
	registry  *prometheus.Registry
	collector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers
	otelGauges    metric.Registration

	// 热更新
	reloader *config.Reloader

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager
	group          *server.Group

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器并装配所有组件，不监听端口
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}

	// 1. 遥测（失败不阻断启动）
	providers, err := telemetry.Init(cfg, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.otelProviders = providers

	// 2. 指标
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWithRegistry(metricsNamespace, s.registry, logger)

	// 3. 估算器
	if cfg.Tokenizer.UseTiktoken {
		tokenizer.RegisterOpenAIEstimators()
	}

	// 4. 缓存
	s.cache = cache.NewContextCache(cfg.ToCache(), logger, cache.WithObserver(s.collector))
	if err := s.collector.RegisterStatsSource(cacheName, s.cache.Stats); err != nil {
		_ = s.cache.Close()
		return nil, fmt.Errorf("register cache stats: %w", err)
	}
	if err := s.collector.RegisterPoolStats("byte_buffer", pool.ByteBufferPool.Stats); err != nil {
		_ = s.cache.Close()
		return nil, fmt.Errorf("register pool stats: %w", err)
	}
	gauges, err := telemetry.RegisterCacheGauges(telemetry.Meter(), cacheName, s.cache.Stats)
	if err != nil {
		logger.Warn("failed to register otel cache gauges", zap.Error(err))
	}
	s.otelGauges = gauges

	// 5. Handlers
	s.initHandlers()

	// 6. 热更新
	if configPath != "" {
		s.initReloader()
	}

	// 7. HTTP 与 Metrics 监听
	s.httpManager = server.NewManager(s.buildHandler(), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
	}, logger)
	s.metricsManager = server.NewManager(s.metricsHandler(), server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	s.group = server.NewGroup(logger, s.httpManager, s.metricsManager)
	s.registerShutdownHooks()
	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewCacheHealthCheck("context_cache", s.cache))
	s.healthHandler.RegisterCheck(handlers.NewFuncHealthCheck("cache_codec", s.cache.CheckCodec))

	s.cacheHandler = handlers.NewCacheHandler(s.cache, cache.NewKeyBuilder(), s.logger)
	s.contextHandler = handlers.NewContextHandler(
		s.cfg.ToTruncation(),
		s.cfg.Tokenizer.DefaultModel,
		s.collector,
		s.logger,
	)
}

func (s *Server) initReloader() {
	loader := config.NewLoader().WithConfigPath(s.configPath)
	s.reloader = config.NewReloader(s.cfg, loader, config.WithReloadLogger(s.logger))
	s.reloader.OnReload(s.applyConfig)
}

// applyConfig 将热更新后的配置推送到运行中的组件
func (s *Server) applyConfig(oldCfg, newCfg *config.Config) {
	config.ApplyCacheTunables(s.cache, oldCfg.Cache, newCfg.Cache)
	if newCfg.Truncation != oldCfg.Truncation {
		s.contextHandler.SetConfig(newCfg.ToTruncation())
	}
	if newCfg.Log.Level != oldCfg.Log.Level {
		s.level.SetLevel(parseLevel(newCfg.Log.Level))
	}
	s.logger.Info("configuration applied",
		zap.Int("max_size", newCfg.Cache.MaxSize),
		zap.Duration("default_ttl", newCfg.Cache.DefaultTTL),
		zap.String("log_level", newCfg.Log.Level))
}

// =============================================================================
// 🌐 路由
// =============================================================================

// buildHandler 注册路由并构建中间件链
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 缓存管理
	mux.HandleFunc("GET /api/v1/cache/stats", s.cacheHandler.HandleStats)
	mux.HandleFunc("GET /api/v1/cache/entries", s.cacheHandler.HandleEntries)
	mux.HandleFunc("DELETE /api/v1/cache", s.cacheHandler.HandleClear)
	mux.HandleFunc("GET /api/v1/cache/entries/{key}", s.cacheHandler.HandleGetEntry)
	mux.HandleFunc("PUT /api/v1/cache/entries/{key}", s.cacheHandler.HandlePutEntry)
	mux.HandleFunc("DELETE /api/v1/cache/entries/{key}", s.cacheHandler.HandleDeleteEntry)
	mux.HandleFunc("PUT /api/v1/cache/config", s.cacheHandler.HandleUpdateConfig)
	mux.HandleFunc("POST /api/v1/cache/keys", s.cacheHandler.HandleBuildKey)

	// 上下文截断
	mux.HandleFunc("POST /api/v1/context/truncate", s.contextHandler.HandleTruncate)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		MaxBodySize(s.cfg.Server.MaxBodyBytes),
	)
}

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	return mux
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动 HTTP、Metrics 监听与配置热更新
func (s *Server) Start() error {
	if err := s.group.Start(); err != nil {
		return err
	}

	if s.reloader != nil {
		if err := s.reloader.Start(context.Background()); err != nil {
			s.logger.Warn("config hot reload disabled", zap.Error(err))
			s.reloader = nil
		}
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.ListenAddr()),
		zap.String("metrics_addr", s.metricsManager.ListenAddr()),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
	)
	return nil
}

// Wait 阻塞直到收到信号、ctx 取消或服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	return s.group.Wait(ctx)
}

func (s *Server) registerShutdownHooks() {
	s.group.OnShutdown("rate_limiter", func(context.Context) error {
		if s.rateLimiterCancel != nil {
			s.rateLimiterCancel()
		}
		return nil
	})
	s.group.OnShutdown("config_reloader", func(context.Context) error {
		if s.reloader == nil {
			return nil
		}
		return s.reloader.Stop()
	})
	s.group.OnShutdown("otel_gauges", func(context.Context) error {
		if s.otelGauges == nil {
			return nil
		}
		return s.otelGauges.Unregister()
	})
	s.group.OnShutdown("context_cache", func(context.Context) error {
		return s.cache.Close()
	})
	s.group.OnShutdown("telemetry", s.otelProviders.Shutdown)
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")
	err := s.group.Shutdown(ctx)
	s.logger.Info("Graceful shutdown completed")
	return err
}
