// =============================================================================
// 📦 KnowFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Executor:  DefaultExecutorConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Tools:     DefaultToolsConfig(),
		LLM:       DefaultLLMConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Qdrant:    DefaultQdrantConfig(),
		Mongo:     DefaultMongoConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultExecutorConfig 返回默认执行策略
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:     8,
		RunTimeout:         0,
		CancelGrace:        5 * time.Second,
		MaxBackoff:         30 * time.Second,
		SkippedAsSatisfied: true,
	}
}

// DefaultRetrievalConfig 返回默认检索参数
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Mode:                "hybrid",
		Limit:               5,
		SimilarityThreshold: 0.7,
		Alpha:               0.7,
		CandidateMultiplier: 3,
		EmbeddingCacheTTL:   24 * time.Hour,
		ChunkTokens:         400,
		ChunkOverlap:        40,
	}
}

// DefaultToolsConfig 返回默认工具注册表配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		HealthCheckInterval:    30 * time.Second,
		HealthCheckTimeout:     5 * time.Second,
		DownAfter:              3,
		UpAfter:                1,
		HealthCheckConcurrency: 8,
		HistorySize:            500,
		DefaultTimeout:         180 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		BaseURL:        "https://api.openai.com",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        2 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		KeyPrefix:    "knowflow:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置。Driver 留空即使用内存存储。
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:                "localhost",
		Port:                5432,
		User:                "knowflow",
		Name:                "knowflow",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     time.Minute,
		HealthCheckInterval: 30 * time.Second,
		TxMaxAttempts:       3,
		TxBackoff:           50 * time.Millisecond,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Collection: "knowflow_fragments",
		Timeout:    10 * time.Second,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "knowflow",
		Collection:     "execution_log",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "knowflow",
		SampleRate:   0.1,
	}
}
