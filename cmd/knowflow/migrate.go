package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/knowflow/config"
	"github.com/BaSui01/knowflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate 解析公共参数后把剩余参数交给 migration.CLI
func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.Usage = printMigrateUsage
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printMigrateUsage()
		if len(rest) == 0 {
			return 1
		}
		return 0
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), rest); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// createMigrator 优先使用 --db-type/--db-url，否则读取配置
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	if !cfg.Database.Enabled() {
		return nil, fmt.Errorf("database.driver is not configured")
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  knowflow migrate [options] <subcommand> [arg]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback every migration
  steps <n>   Apply (n>0) or rollback (n<0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show detailed migration information
  reset       Rollback all migrations and re-apply them

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite
  --db-url <url>      Database connection URL

Examples:
  knowflow migrate up
  knowflow migrate --config /etc/knowflow/config.yaml status
  knowflow migrate goto 1
  knowflow migrate --db-type sqlite --db-url "file:knowflow.db?mode=rwc" up`)
}
