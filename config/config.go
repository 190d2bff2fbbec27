// =============================================================================
// 📦 KnowFlow 配置结构
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/knowflow/tools"
)

// Config 是 KnowFlow 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Executor  ExecutorConfig  `yaml:"executor" env:"EXECUTOR"`
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`
	Tools     ToolsConfig     `yaml:"tools" env:"TOOLS"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Qdrant    QdrantConfig    `yaml:"qdrant" env:"QDRANT"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// WorkflowsDir 启动时发布该目录下的全部定义文件（.yaml/.yml/.json）
	WorkflowsDir string `yaml:"workflows_dir" env:"WORKFLOWS_DIR"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// 两者同时设置时 API 端口走 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`

	// 每 IP 限流，RateLimitRPS 为 0 时关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// APIKeys 为空且 JWTSecret 为空时不做认证
	APIKeys          []string `yaml:"api_keys" env:"API_KEYS"`
	AllowQueryAPIKey bool     `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	JWTSecret        string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer        string   `yaml:"jwt_issuer" env:"JWT_ISSUER"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// ExecutorConfig 运行默认策略，定义中的 policy 字段优先
type ExecutorConfig struct {
	MaxConcurrency     int           `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	RunTimeout         time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT"`
	CancelGrace        time.Duration `yaml:"cancel_grace" env:"CANCEL_GRACE"`
	MaxBackoff         time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	SkippedAsSatisfied bool          `yaml:"skipped_as_satisfied" env:"SKIPPED_AS_SATISFIED"`
}

// RetrievalConfig 混合检索默认参数
type RetrievalConfig struct {
	Mode                string  `yaml:"mode" env:"MODE"`
	Limit               int     `yaml:"limit" env:"LIMIT"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	Alpha               float64 `yaml:"alpha" env:"ALPHA"`
	CandidateMultiplier int     `yaml:"candidate_multiplier" env:"CANDIDATE_MULTIPLIER"`

	// EmbeddingCacheTTL 查询向量在 Redis 中的缓存时间，0 表示不缓存
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl" env:"EMBEDDING_CACHE_TTL"`

	// CorpusDir 启动时导入内存索引的语料目录，一级子目录名即数据集 ID
	CorpusDir    string `yaml:"corpus_dir" env:"CORPUS_DIR"`
	ChunkTokens  int    `yaml:"chunk_tokens" env:"CHUNK_TOKENS"`
	ChunkOverlap int    `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
}

// ToolsConfig 工具端点注册表配置
type ToolsConfig struct {
	HealthCheckInterval    time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	HealthCheckTimeout     time.Duration `yaml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT"`
	DownAfter              int           `yaml:"down_after" env:"DOWN_AFTER"`
	UpAfter                int           `yaml:"up_after" env:"UP_AFTER"`
	HealthCheckConcurrency int           `yaml:"health_check_concurrency" env:"HEALTH_CHECK_CONCURRENCY"`
	HistorySize            int           `yaml:"history_size" env:"HISTORY_SIZE"`
	DefaultTimeout         time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`

	// Endpoints 启动时注册的端点，只能来自 YAML
	Endpoints []tools.Endpoint `yaml:"endpoints" env:"-"`
}

// LLMConfig OpenAI 兼容服务配置
type LLMConfig struct {
	Provider       string        `yaml:"provider" env:"PROVIDER"`
	BaseURL        string        `yaml:"base_url" env:"BASE_URL"`
	APIKey         string        `yaml:"api_key" env:"API_KEY"`
	Model          string        `yaml:"model" env:"MODEL"`
	EmbeddingModel string        `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig Redis 配置，用于查询向量缓存
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置。Driver 为空时使用进程内存储。
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite, sqlite-pure
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 下为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns        int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns        int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	TxMaxAttempts       int           `yaml:"tx_max_attempts" env:"TX_MAX_ATTEMPTS"`
	TxBackoff           time.Duration `yaml:"tx_backoff" env:"TX_BACKOFF"`

	// AutoMigrate 启动时执行内嵌迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// Enabled reports whether a relational store is configured.
func (d DatabaseConfig) Enabled() bool { return d.Driver != "" }

// QdrantConfig Qdrant 向量检索配置，BaseURL 为空时使用内存索引
type QdrantConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MongoConfig 执行日志镜像
type MongoConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	URI            string        `yaml:"uri" env:"URI"`
	Database       string        `yaml:"database" env:"DATABASE"`
	Collection     string        `yaml:"collection" env:"COLLECTION"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry 配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// ✅ 校验
// =============================================================================

var validModes = map[string]bool{"semantic": true, "keyword": true, "hybrid": true}

// Validate collects every configuration error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		add("server.metrics_port %d out of range", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		add("server.metrics_port must differ from http_port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		add("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps must not be negative")
	}

	if c.Executor.MaxConcurrency <= 0 {
		add("executor.max_concurrency must be positive")
	}
	if c.Executor.RunTimeout < 0 || c.Executor.CancelGrace < 0 || c.Executor.MaxBackoff < 0 {
		add("executor durations must not be negative")
	}

	if !validModes[strings.ToLower(c.Retrieval.Mode)] {
		add("retrieval.mode %q must be semantic, keyword or hybrid", c.Retrieval.Mode)
	}
	if c.Retrieval.Limit <= 0 {
		add("retrieval.limit must be positive")
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		add("retrieval.similarity_threshold must be within [0,1]")
	}
	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		add("retrieval.alpha must be within [0,1]")
	}
	if c.Retrieval.ChunkTokens < 0 || c.Retrieval.ChunkOverlap < 0 {
		add("retrieval chunk sizes must not be negative")
	} else if c.Retrieval.ChunkTokens > 0 && c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkTokens {
		add("retrieval.chunk_overlap must be smaller than chunk_tokens")
	}

	seen := make(map[string]bool, len(c.Tools.Endpoints))
	for i, ep := range c.Tools.Endpoints {
		if err := ep.Validate(); err != nil {
			add("tools.endpoints[%d]: %w", i, err)
		}
		if seen[ep.ID] {
			add("tools.endpoints[%d]: duplicate id %q", i, ep.ID)
		}
		seen[ep.ID] = true
	}

	if c.Database.Enabled() {
		switch strings.ToLower(c.Database.Driver) {
		case "postgres", "mysql", "sqlite", "sqlite-pure":
		default:
			add("database.driver %q is not supported", c.Database.Driver)
		}
		if c.Database.Name == "" {
			add("database.name is required")
		}
		if c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			add("database.max_idle_conns exceeds max_open_conns")
		}
	}

	if c.Mongo.Enabled && (c.Mongo.URI == "" || c.Mongo.Database == "") {
		add("mongo.uri and mongo.database are required when mongo is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be within [0,1]")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
}

// DSN 返回 gorm 使用的数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch strings.ToLower(d.Driver) {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite-pure":
		return d.Name
	default:
		return ""
	}
}
