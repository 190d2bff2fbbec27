// =============================================================================
// KnowFlow 主入口
// =============================================================================
// 使用方法:
//
//	knowflow serve                            # 启动服务
//	knowflow serve --config config.yaml       # 指定配置文件
//	knowflow validate workflows/*.yaml        # 校验定义文件
//	knowflow migrate up                       # 运行数据库迁移
//	knowflow health --addr http://localhost:8080 --ready
//	knowflow version
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/knowflow/config"
	"github.com/BaSui01/knowflow/workflow"
	"github.com/BaSui01/knowflow/workflow/dsl"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "migrate":
		code = runMigrate(os.Args[2:])
	case "validate":
		code = runValidate(os.Args[2:], os.Stdout, os.Stderr)
	case "version":
		printVersion()
	case "health":
		code = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		code = 1
	}
	os.Exit(code)
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithStrict(true)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting KnowFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, logger)
	if err := srv.Init(ctx); err != nil {
		logger.Error("Failed to initialize server", zap.Error(err))
		srv.Shutdown(context.Background())
		return 1
	}
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		srv.Shutdown(context.Background())
		return 1
	}

	code := 0
	if err := srv.Wait(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		code = 1
	}
	srv.Shutdown(context.Background())
	logger.Info("KnowFlow stopped")
	return code
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

// runValidate 解析并编译每个定义文件，逐个报告结果
func runValidate(files []string, stdout, stderr io.Writer) int {
	if len(files) == 0 {
		fmt.Fprintln(stderr, "usage: knowflow validate <file>...")
		return 2
	}
	parser := dsl.NewParser()
	failed := 0
	for _, f := range files {
		doc, err := parser.ParseFile(f)
		if err == nil {
			_, err = workflow.Compile(doc.Definition)
		}
		if err != nil {
			failed++
			fmt.Fprintf(stderr, "FAIL %s: %v\n", f, err)
			continue
		}
		fmt.Fprintf(stdout, "ok   %s (%s, %d nodes, %d edges)\n",
			f, doc.Definition.ID, len(doc.Definition.Nodes), len(doc.Definition.Edges))
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check /ready instead of /health")
	_ = fs.Parse(args)

	path := "/health"
	if *ready {
		path = "/ready"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Println("OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("KnowFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `KnowFlow - workflow engine with hybrid retrieval

Usage:
  knowflow <command> [options]

Commands:
  serve      Start the KnowFlow server
  migrate    Database migration commands
  validate   Validate workflow definition files
  version    Show version information
  health     Check server health
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'health':
  --addr <url>      Server address (default http://localhost:8080)
  --ready           Check readiness instead of liveness

Examples:
  knowflow serve --config /etc/knowflow/config.yaml
  knowflow validate workflows/rag.yaml
  knowflow migrate up
  knowflow migrate goto 1
  knowflow health --addr http://localhost:8080 --ready`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil || cfg.Level == "" {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
