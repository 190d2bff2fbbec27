package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/knowflow/config"

	_ "modernc.org/sqlite" // 纯 Go sqlite，注册名 "sqlite"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"sqlite-pure", DatabaseTypeSQLite, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/kf?sslmode=disable",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "kf", "u", "p", "disable"))
	assert.Equal(t, "postgres://u:p@db:5432/kf?sslmode=require",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "kf", "u", "p", ""))
	assert.Equal(t, "u:p@tcp(db:3306)/kf?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DatabaseTypeMySQL, "db", 3306, "kf", "u", "p", ""))
	assert.Equal(t, "file:/data/kf.db?mode=rwc",
		BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/data/kf.db", "", "", ""))
}

func TestAvailableMigrations_AllDialectsMatch(t *testing.T) {
	var reference []migrationFile
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		files, err := availableMigrations(dt)
		require.NoError(t, err, dt)
		require.NotEmpty(t, files, dt)
		for i := 1; i < len(files); i++ {
			assert.Greater(t, files[i].version, files[i-1].version)
		}
		if reference == nil {
			reference = files
			continue
		}
		assert.Equal(t, reference, files, "dialect %s diverges", dt)
	}
	assert.Equal(t, "workflow_schema", reference[0].name)
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	assert.Error(t, err)
}

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "knowflow.db")
	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  dbPath,
		SQLDriver:    "sqlite",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func tableNames(t *testing.T, dbPath string) []string {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestMigrator_SQLiteLifecycle(t *testing.T) {
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// 重复 Up 不报错
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 2, info.TotalMigrations)
	assert.Equal(t, 0, info.PendingMigrations)

	assert.Equal(t, []string{
		"execution_log",
		"node_executions",
		"schema_migrations",
		"tool_calls",
		"workflow_definitions",
		"workflow_runs",
	}, tableNames(t, dbPath))

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.NotContains(t, tableNames(t, dbPath), "tool_calls")

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.Goto(ctx, 2))
	require.NoError(t, m.DownAll(ctx))
	assert.Equal(t, []string{"schema_migrations"}, tableNames(t, dbPath))
}

func TestCLI_Run(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()

	var out bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&out)

	require.NoError(t, cli.Run(ctx, []string{"version"}))
	assert.Contains(t, out.String(), "No migrations applied yet")

	out.Reset()
	require.NoError(t, cli.Run(ctx, []string{"up"}))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, cli.Run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), "workflow_schema")
	assert.Contains(t, out.String(), "Applied: 2, Pending: 0")

	out.Reset()
	require.NoError(t, cli.Run(ctx, []string{"steps", "-1"}))
	require.NoError(t, cli.Run(ctx, []string{"reset"}))
	assert.Contains(t, out.String(), "Reset complete. Current version: 2")

	assert.Error(t, cli.Run(ctx, nil))
	assert.Error(t, cli.Run(ctx, []string{"goto"}))
	assert.Error(t, cli.Run(ctx, []string{"force", "abc"}))
	assert.Error(t, cli.Run(ctx, []string{"sideways"}))
}

func TestNewMigratorFromDatabaseConfig(t *testing.T) {
	_, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)

	m, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{
		Driver: "sqlite-pure",
		Name:   filepath.Join(t.TempDir(), "cfg.db"),
	})
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, "sqlite", m.config.SQLDriver)
	require.NoError(t, m.Up(context.Background()))
}
