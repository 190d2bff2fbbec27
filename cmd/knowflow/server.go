package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/knowflow/api/handlers"
	"github.com/BaSui01/knowflow/config"
	"github.com/BaSui01/knowflow/internal/cache"
	"github.com/BaSui01/knowflow/internal/database"
	"github.com/BaSui01/knowflow/internal/metrics"
	"github.com/BaSui01/knowflow/internal/migration"
	"github.com/BaSui01/knowflow/internal/persistence"
	"github.com/BaSui01/knowflow/internal/server"
	"github.com/BaSui01/knowflow/internal/telemetry"
	"github.com/BaSui01/knowflow/llm/providers/openaicompat"
	"github.com/BaSui01/knowflow/llm/tokenizer"
	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/rag/loader"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
	"github.com/BaSui01/knowflow/workflow/dsl"
	"github.com/BaSui01/knowflow/workflow/nodes"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有全部运行时组件。Init 组装，Start 监听，Shutdown 逆序释放。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	registry  *prometheus.Registry
	collector *metrics.Collector

	pool      *database.PoolManager
	gormStore *persistence.GormStore
	store     workflow.Store
	mongoSink *persistence.MongoLogSink
	cache     *cache.Manager

	provider *openaicompat.Provider
	index    *rag.MemoryIndex
	qdrant   *rag.QdrantSearcher
	ranker   *rag.Ranker
	tools    *tools.Registry
	engine   *workflow.Engine
	health   *handlers.HealthHandler

	handler        http.Handler
	metricsHandler http.Handler
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流清理协程的生命周期
	bgCancel context.CancelFunc

	newTokenizer func(model string) tokenizer.Tokenizer
	tokenizers   sync.Map // model -> tokenizer.Tokenizer
	closeOnce    sync.Once
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}
	s.newTokenizer = func(model string) tokenizer.Tokenizer { return tokenizer.ForModel(model, s.logger) }
	return s
}

// =============================================================================
// 🚀 组装流程
// =============================================================================

// Init 按依赖顺序组装组件。失败时已创建的组件由 Shutdown 释放。
func (s *Server) Init(ctx context.Context) error {
	// 1. 遥测
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("telemetry disabled", zap.Error(err))
	}
	s.telemetry = providers

	// 2. 指标，每个 Server 独立的 registry
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWithRegistry("knowflow", s.registry, s.logger)

	// 3. 存储
	if err := s.initStore(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	// 4. 可选的外部依赖，不可用时降级
	s.initMongo(ctx)
	s.initCache()
	s.initLLM()

	// 5. 检索
	if err := s.initRetrieval(ctx); err != nil {
		return fmt.Errorf("init retrieval: %w", err)
	}

	// 6. 工具端点
	s.initTools()

	// 7. 执行引擎
	s.initEngine()
	if err := s.publishWorkflows(ctx); err != nil {
		return fmt.Errorf("publish workflows: %w", err)
	}

	// 8. 健康检查与路由
	s.initHealth()
	s.handler = s.buildHandler()
	s.metricsHandler = s.buildMetricsHandler()

	s.logger.Info("server initialized",
		zap.Bool("database", s.pool != nil),
		zap.Bool("mongo", s.mongoSink != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("llm", s.provider != nil),
		zap.Bool("qdrant", s.qdrant != nil),
		zap.Int("indexed_fragments", s.index.Len()),
	)
	return nil
}

func (s *Server) initStore(ctx context.Context) error {
	dbCfg := s.cfg.Database
	if !dbCfg.Enabled() {
		s.store = workflow.NewMemoryStore()
		s.logger.Info("using in-memory workflow store")
		return nil
	}

	dialector, err := persistence.OpenDialector(dbCfg.Driver, dbCfg.DSN())
	if err != nil {
		return err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:        dbCfg.MaxIdleConns,
		MaxOpenConns:        dbCfg.MaxOpenConns,
		ConnMaxLifetime:     dbCfg.ConnMaxLifetime,
		ConnMaxIdleTime:     dbCfg.ConnMaxIdleTime,
		HealthCheckInterval: dbCfg.HealthCheckInterval,
		TxMaxAttempts:       dbCfg.TxMaxAttempts,
		TxBackoff:           dbCfg.TxBackoff,
	}, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	if dbCfg.AutoMigrate {
		m, err := migration.NewMigratorFromDatabaseConfig(dbCfg)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		err = m.Up(ctx)
		_ = m.Close()
		if err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		s.logger.Info("database migrations applied")
	}

	s.gormStore = persistence.NewGormStore(pool, s.logger)
	s.store = s.gormStore
	s.logger.Info("database connected", zap.String("driver", dbCfg.Driver))
	return nil
}

func (s *Server) initMongo(ctx context.Context) {
	mc := s.cfg.Mongo
	if !mc.Enabled {
		return
	}
	sink, err := persistence.OpenMongoLogSink(ctx, persistence.MongoOptions{
		URI:            mc.URI,
		Database:       mc.Database,
		Collection:     mc.Collection,
		ConnectTimeout: mc.ConnectTimeout,
	}, s.logger)
	if err != nil {
		s.logger.Warn("mongo log mirror disabled", zap.Error(err))
		return
	}
	s.mongoSink = sink
}

func (s *Server) initCache() {
	rc := s.cfg.Redis
	if !rc.Enabled {
		return
	}
	cc := cache.DefaultConfig()
	cc.Addr = rc.Addr
	cc.Password = rc.Password
	cc.DB = rc.DB
	if rc.KeyPrefix != "" {
		cc.KeyPrefix = rc.KeyPrefix
	}
	if rc.PoolSize > 0 {
		cc.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		cc.MinIdleConns = rc.MinIdleConns
	}
	if s.cfg.Retrieval.EmbeddingCacheTTL > 0 {
		cc.DefaultTTL = s.cfg.Retrieval.EmbeddingCacheTTL
	}
	m, err := cache.NewManager(cc, s.logger)
	if err != nil {
		s.logger.Warn("redis cache disabled", zap.Error(err))
		return
	}
	s.cache = m
}

func (s *Server) initLLM() {
	lc := s.cfg.LLM
	if lc.BaseURL == "" && lc.APIKey == "" {
		s.logger.Info("LLM not configured, AI_CHAT nodes and semantic retrieval disabled")
		return
	}
	name := lc.Provider
	if name == "" {
		name = "openai"
	}
	s.provider = openaicompat.New(openaicompat.Config{
		ProviderName:   name,
		APIKey:         lc.APIKey,
		BaseURL:        lc.BaseURL,
		DefaultModel:   lc.Model,
		EmbeddingModel: lc.EmbeddingModel,
		Timeout:        lc.Timeout,
	}, s.logger)
	s.logger.Info("LLM provider ready", zap.String("provider", name), zap.String("model", lc.Model))
}

// tokenizerFor 按模型缓存分词器，tiktoken 编码表只加载一次
func (s *Server) tokenizerFor(model string) tokenizer.Tokenizer {
	if v, ok := s.tokenizers.Load(model); ok {
		return v.(tokenizer.Tokenizer)
	}
	v, _ := s.tokenizers.LoadOrStore(model, s.newTokenizer(model))
	return v.(tokenizer.Tokenizer)
}

func (s *Server) initRetrieval(ctx context.Context) error {
	rc := s.cfg.Retrieval
	s.index = rag.NewMemoryIndex(s.logger)

	var embedder rag.Embedder
	if s.provider != nil && s.cfg.LLM.EmbeddingModel != "" {
		embedder = rag.NewLLMEmbedder(s.provider, s.cfg.LLM.EmbeddingModel)
		if s.cache != nil && rc.EmbeddingCacheTTL > 0 {
			embedder = rag.NewCachedEmbedder(embedder, s.cache, s.cfg.LLM.EmbeddingModel, rc.EmbeddingCacheTTL, s.logger)
		}
	}

	var vectors rag.VectorSearcher
	if embedder != nil {
		vectors = s.index.Vectors()
		if qc := s.cfg.Qdrant; qc.BaseURL != "" {
			s.qdrant = rag.NewQdrantSearcher(rag.QdrantConfig{
				BaseURL:              qc.BaseURL,
				APIKey:               qc.APIKey,
				Collection:           qc.Collection,
				Timeout:              qc.Timeout,
				AutoCreateCollection: true,
			}, s.logger)
			vectors = s.qdrant
		}
	}

	if rc.CorpusDir != "" {
		model := s.cfg.LLM.EmbeddingModel
		if model == "" {
			model = s.cfg.LLM.Model
		}
		frags, err := loader.Ingest(ctx, rc.CorpusDir, loader.IngestOptions{
			Chunker:  loader.NewChunker(s.tokenizerFor(model), rc.ChunkTokens, rc.ChunkOverlap),
			Embedder: embedder,
			Logger:   s.logger,
		})
		if err != nil {
			return err
		}
		if err := s.index.Add(frags...); err != nil {
			return err
		}
		if s.qdrant != nil && len(frags) > 0 {
			if err := s.qdrant.EnsureCollection(ctx, len(frags[0].Embedding)); err != nil {
				return err
			}
			if err := s.qdrant.Upsert(ctx, frags); err != nil {
				return err
			}
		}
	}

	mode := rag.Mode(rc.Mode)
	if vectors == nil && mode != rag.ModeKeyword {
		s.logger.Warn("no vector searcher configured, retrieval defaults to keyword mode",
			zap.String("configured_mode", rc.Mode))
		mode = rag.ModeKeyword
	}

	opts := []rag.RankerOption{
		rag.WithKeywordSearcher(s.index.Keywords()),
		rag.WithFragmentSource(s.index),
		rag.WithHitRecorder(s.index),
		rag.WithRankObserver(s.collector),
		rag.WithDefaults(rag.Defaults{
			Limit:     rc.Limit,
			Threshold: rc.SimilarityThreshold,
			Alpha:     rc.Alpha,
			Mode:      mode,
		}),
		rag.WithCandidateMultiplier(rc.CandidateMultiplier),
	}
	if vectors != nil {
		opts = append(opts, rag.WithVectorSearcher(vectors, embedder))
	}
	s.ranker = rag.NewRanker(s.logger, opts...)
	return nil
}

func (s *Server) initTools() {
	tc := s.cfg.Tools
	opts := []tools.Option{tools.WithObserver(s.collector)}
	if s.gormStore != nil {
		opts = append(opts, tools.WithCallRecorder(s.gormStore))
	}
	s.tools = tools.NewRegistry(tools.Config{
		HealthCheckInterval:    tc.HealthCheckInterval,
		HealthCheckTimeout:     tc.HealthCheckTimeout,
		DownAfter:              tc.DownAfter,
		UpAfter:                tc.UpAfter,
		HealthCheckConcurrency: tc.HealthCheckConcurrency,
		HistorySize:            tc.HistorySize,
		DefaultTimeout:         tc.DefaultTimeout,
	}, s.logger, opts...)

	for _, ep := range tc.Endpoints {
		if err := s.tools.Register(ep); err != nil {
			s.logger.Warn("tool endpoint not registered", zap.String("endpoint", ep.ID), zap.Error(err))
		}
	}
}

func (s *Server) initEngine() {
	ec := s.cfg.Executor
	deps := nodes.Deps{
		DefaultModel: s.cfg.LLM.Model,
		Tokenizer:    s.tokenizerFor,
		Ranker:       s.ranker,
		Tools:        s.tools,
		Logger:       s.logger,
	}
	if s.provider != nil {
		deps.Provider = s.provider
	}
	executor := workflow.NewExecutor(nodes.NewRegistry(deps), s.logger,
		workflow.WithParamsResolver(nodes.ResolveParams),
		workflow.WithObserver(s.collector),
	)

	satisfied := ec.SkippedAsSatisfied
	policy := workflow.RunPolicy{
		MaxConcurrency:     ec.MaxConcurrency,
		TimeoutMs:          int(ec.RunTimeout.Milliseconds()),
		CancelGraceMs:      int(ec.CancelGrace.Milliseconds()),
		SkippedAsSatisfied: &satisfied,
		MaxBackoffMs:       int(ec.MaxBackoff.Milliseconds()),
	}
	opts := []workflow.EngineOption{workflow.WithDefaultPolicy(policy)}
	if s.mongoSink != nil {
		opts = append(opts, workflow.WithLogSinks(s.mongoSink))
	}
	s.engine = workflow.NewEngine(s.store, executor, s.logger, opts...)
}

// publishWorkflows 发布 workflows_dir 下的定义；已存在的定义跳过
func (s *Server) publishWorkflows(ctx context.Context) error {
	dir := s.cfg.WorkflowsDir
	if dir == "" {
		return nil
	}
	docs, err := dsl.NewParser().LoadDir(dir)
	if err != nil {
		return err
	}
	published := 0
	for _, doc := range docs {
		err := s.engine.Publish(ctx, doc.Definition)
		if te, ok := types.AsError(err); ok && te.Code == types.ErrDefinitionExists {
			s.logger.Debug("definition already published", zap.String("definition_id", doc.Definition.ID))
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", doc.Source, err)
		}
		published++
	}
	s.logger.Info("workflow definitions published", zap.String("dir", dir), zap.Int("count", published))
	return nil
}

func (s *Server) initHealth() {
	s.health = handlers.NewHealthHandler(Version, s.logger)
	if s.pool != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.cache != nil {
		s.health.RegisterAdvisoryCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}
	if s.mongoSink != nil {
		s.health.RegisterAdvisoryCheck(handlers.NewPingCheck("mongo", s.mongoSink.Ping))
	}
	if s.qdrant != nil {
		s.health.RegisterAdvisoryCheck(handlers.NewPingCheck("qdrant", func(ctx context.Context) error {
			_, err := s.qdrant.Count(ctx)
			return err
		}))
	}
	s.health.RegisterAdvisoryCheck(handlers.NewToolEndpointsCheck(s.tools))
}

// =============================================================================
// 🌐 路由
// =============================================================================

// publicPaths 不需要认证
var publicPaths = []string{"/health", "/ready", "/version", "/metrics"}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(BuildTime, GitCommit))

	wf := handlers.NewWorkflowHandler(s.engine, s.logger)
	mux.HandleFunc("POST /api/v1/workflows", wf.HandlePublish)
	mux.HandleFunc("GET /api/v1/workflows", wf.HandleListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{id}", wf.HandleGetWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{id}/runs", wf.HandleStartRun)
	mux.HandleFunc("GET /api/v1/runs", wf.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", wf.HandleGetRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", wf.HandleCancelRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/log", wf.HandleRunLog)

	mux.HandleFunc("POST /api/v1/retrieval/rank", handlers.NewRetrievalHandler(s.ranker, s.logger).HandleRank)

	var history handlers.ToolHistoryStore
	if s.gormStore != nil {
		history = s.gormStore
	}
	th := handlers.NewToolHandler(s.tools, history, s.logger)
	mux.HandleFunc("GET /api/v1/tools", th.HandleListTools)
	mux.HandleFunc("POST /api/v1/tools", th.HandleRegisterTool)
	mux.HandleFunc("GET /api/v1/tools/history", th.HandleHistory)

	// 未单独开 metrics 端口时挂在 API 端口上
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.promHandler())
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	sc := s.cfg.Server
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		CORS(sc.CORSAllowedOrigins),
		Authenticate(AuthConfig{
			APIKeys:          sc.APIKeys,
			AllowQueryAPIKey: sc.AllowQueryAPIKey,
			JWTSecret:        sc.JWTSecret,
			JWTIssuer:        sc.JWTIssuer,
			SkipPaths:        publicPaths,
		}, s.logger),
		RateLimiter(bgCtx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
		MetricsMiddleware(s.collector),
	)
}

func (s *Server) promHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *Server) buildMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.promHandler())
	return mux
}

// Handler returns the API handler with its middleware chain. Valid after Init.
func (s *Server) Handler() http.Handler { return s.handler }

// =============================================================================
// 🔌 监听与关闭
// =============================================================================

// Start 启动 API 与 Metrics 监听（非阻塞）
func (s *Server) Start() error {
	sc := s.cfg.Server
	idle := sc.IdleTimeout
	if idle <= 0 {
		idle = 2 * sc.ReadTimeout
	}
	s.httpManager = server.NewManager(s.handler, server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     idle,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	if sc.MetricsPort > 0 {
		s.metricsManager = server.NewManager(s.metricsHandler, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.WriteTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		}, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return err
		}
	}

	s.logger.Info("All servers started",
		zap.String("api_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", sc.MetricsPort),
	)
	return nil
}

// Wait 阻塞到 ctx 结束或任一监听异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErr <-chan error
	if s.metricsManager != nil {
		metricsErr = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("api server: %w", err)
	case err := <-metricsErr:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 先停止接收请求，再取消运行中的工作流，最后释放外部连接。可重复调用。
func (s *Server) Shutdown(ctx context.Context) {
	s.closeOnce.Do(func() { s.shutdown(ctx) })
}

func (s *Server) shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logErr := func(what string, err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(what+" shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		logErr("HTTP server", s.httpManager.Shutdown(ctx))
	}
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.engine != nil {
		logErr("engine", s.engine.Shutdown(ctx))
	}
	if s.tools != nil {
		logErr("tool registry", s.tools.Close())
	}
	if s.metricsManager != nil {
		logErr("metrics server", s.metricsManager.Shutdown(ctx))
	}
	if s.mongoSink != nil {
		logErr("mongo sink", s.mongoSink.Close(ctx))
	}
	if s.cache != nil {
		logErr("redis cache", s.cache.Close())
	}
	if s.pool != nil {
		logErr("database pool", s.pool.Close())
	}
	if s.telemetry != nil {
		logErr("telemetry", s.telemetry.Shutdown(ctx))
	}
	s.logger.Info("Graceful shutdown completed")
}
