package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-portal/score-portal/config"
)

func TestOpen_EmbeddedDrivers(t *testing.T) {
	ctx := context.Background()

	for _, cfg := range []config.DatabaseConfig{
		{Driver: config.DriverMemory},
		{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "scores.db")},
	} {
		t.Run(cfg.Driver, func(t *testing.T) {
			b, err := Open(ctx, cfg, nil)
			require.NoError(t, err)
			defer b.Close()

			assert.NoError(t, b.Ping(ctx))
			n, err := b.Migrate(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			status, err := b.MigrationStatus(ctx)
			require.NoError(t, err)
			assert.Empty(t, status)
			assert.Error(t, b.Rollback(ctx))
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)
}
