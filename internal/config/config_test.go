package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/circulation-go/internal/config"
)

func Test_Load_ReturnsDefaults_WhenNoFileExists(t *testing.T) {
	// arrange
	chdir(t, t.TempDir())

	// act
	cfg, err := config.Load("")

	// assert
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, config.StorageMemory, cfg.Storage)
	assert.Equal(t, 30, cfg.LoanPeriodDays)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
}

func Test_Load_ReadsYAMLFile(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `
listen: ":9090"
storage: sqlite
sqlite_path: /var/lib/circulation.db
loan_period_days: 14
daily_fine_rate: 1.25
sweep_interval: 15m
logging:
  format: json
  level: debug
`)

	// act
	cfg, err := config.Load(path)

	// assert
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, config.StorageSQLite, cfg.Storage)
	assert.Equal(t, "/var/lib/circulation.db", cfg.SQLitePath)
	assert.Equal(t, 14, cfg.LoanPeriodDays)
	assert.Equal(t, 1.25, cfg.DailyFineRate)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func Test_Load_EnvironmentOverridesFile(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `listen: ":9090"`)
	t.Setenv("CIRCULATION_LISTEN", ":7070")

	// act
	cfg, err := config.Load(path)

	// assert
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
}

func Test_Load_FailsOnMissingExplicitFile(t *testing.T) {
	// act
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))

	// assert
	assert.Error(t, err)
}

func Test_Validate_RejectsUnknownStorage(t *testing.T) {
	// arrange
	cfg := config.Default()
	cfg.Storage = "cassette-tape"

	// act
	err := cfg.Validate()

	// assert
	assert.ErrorIs(t, err, config.ErrUnknownStorage)
}

func Test_Validate_RequiresSQLitePath(t *testing.T) {
	// arrange
	cfg := config.Default()
	cfg.Storage = config.StorageSQLite

	// act
	err := cfg.Validate()

	// assert
	assert.ErrorIs(t, err, config.ErrMissingSQLitePath)
}

func Test_Validate_RequiresPostgresDSN(t *testing.T) {
	// arrange
	cfg := config.Default()
	cfg.Storage = config.StoragePostgres

	// act
	err := cfg.Validate()

	// assert
	assert.ErrorIs(t, err, config.ErrMissingPostgresDSN)
}

func Test_Validate_RejectsUnknownPostgresDriver(t *testing.T) {
	// arrange
	cfg := config.Default()
	cfg.Storage = config.StoragePostgres
	cfg.PostgresDSN = "postgres://localhost/circulation"
	cfg.PostgresDriver = "odbc"

	// act
	err := cfg.Validate()

	// assert
	assert.ErrorIs(t, err, config.ErrUnknownPostgresDriver)
}

/***** helpers *****/

func chdir(t *testing.T, dir string) {
	t.Helper()

	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(previous) })
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "circulationd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}
