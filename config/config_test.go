package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{"DATABASE_URL", "DB_HOST", "DB_USER", "DB_DRIVER", "RANKING_AGGREGATE_POLICY", "HTTP_PORT", "BCRYPT_COST"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "average_rank", cfg.Engine.AggregatePolicy)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Redis.LockTTL)
	assert.False(t, cfg.Engine.StrictSections)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_PostgresFromComponents(t *testing.T) {
	isolate(t)
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "portal")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://portal:secret@db:5432/scores?sslmode=disable", cfg.Database.URL)
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RANKING_AGGREGATE_POLICY=average_score\nDB_DRIVER=memory\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables that are already set, so unset them
	require.NoError(t, os.Unsetenv("RANKING_AGGREGATE_POLICY"))
	require.NoError(t, os.Unsetenv("DB_DRIVER"))
	t.Cleanup(func() {
		os.Unsetenv("RANKING_AGGREGATE_POLICY")
		os.Unsetenv("DB_DRIVER")
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "average_score", cfg.Engine.AggregatePolicy)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestValidate_CollectsErrors(t *testing.T) {
	isolate(t)
	t.Setenv("DB_DRIVER", "oracle")
	t.Setenv("RANKING_AGGREGATE_POLICY", "median")
	t.Setenv("HTTP_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "RANKING_AGGREGATE_POLICY")
	assert.Contains(t, err.Error(), "HTTP_PORT")
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	isolate(t)
	t.Setenv("DB_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
