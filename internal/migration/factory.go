package migration

import (
	"fmt"
	"strings"

	"github.com/BaSui01/knowflow/config"
)

// NewMigratorFromDatabaseConfig builds a migrator for the configured database.
// sqlite-pure 复用 gorm 侧已注册的纯 Go "sqlite" 驱动。
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	cfg := &Config{DatabaseType: dbType, TableName: "schema_migrations"}
	switch dbType {
	case DatabaseTypePostgres:
		cfg.DatabaseURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		cfg.DatabaseURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		cfg.DatabaseURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
		if strings.EqualFold(dbCfg.Driver, "sqlite-pure") {
			cfg.SQLDriver = "sqlite"
		}
	}
	return NewMigrator(cfg)
}

// NewMigratorFromURL creates a migrator from a raw database URL.
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL})
}
