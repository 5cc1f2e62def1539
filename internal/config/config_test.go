package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Card.TokenTTL)
	assert.Equal(t, "10000", cfg.Card.DefaultSpendingLimit)
	assert.Equal(t, "0 0 * * *", cfg.Scheduler.Cron)
	assert.Equal(t, 1, cfg.Scheduler.Workers)
	assert.Equal(t, time.UTC, cfg.Scheduler.Location())
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
database:
  driver: sqlite
  sqlite:
    path: /tmp/ledger.db
card:
  token_ttl: 2m
scheduler:
  workers: 3
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("LEDGER_SERVER_PORT", "9090")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.SQLite.Path)
	assert.Equal(t, 2*time.Minute, cfg.Card.TokenTTL)
	assert.Equal(t, 3, cfg.Scheduler.Workers)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_DRIVER", "oracle")

	_, err := LoadConfig("")
	assert.EqualError(t, err, `unsupported database driver "oracle"`)
}

func TestLoadConfig_RejectsSharedSigningSecret(t *testing.T) {
	t.Setenv("LEDGER_AUTH_JWT_SECRET", "shared")
	t.Setenv("LEDGER_CARD_TOKEN_SECRET", "shared")

	_, err := LoadConfig("")
	assert.EqualError(t, err, "card.token_secret must differ from auth.jwt_secret")

	t.Setenv("LEDGER_CARD_TOKEN_SECRET", "card-only")
	_, err = LoadConfig("")
	assert.NoError(t, err)
}

func TestSchedulerConfig_LocationFallsBackToUTC(t *testing.T) {
	c := SchedulerConfig{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, c.Location())
}
