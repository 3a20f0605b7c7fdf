// Package config loads the circulationd server configuration from an
// optional YAML file plus CIRCULATION_* environment variables. Missing
// values fall back to defaults that run the server against the in-memory
// engine.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openshelf/circulation-go/circulation"
)

// Storage backends the server can be configured with.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Postgres driver choices. They all speak to the same database; the
// driver only decides which client library manages the connections.
const (
	DriverPGX   = "pgx"
	DriverSQLDB = "sqldb"
	DriverSQLX  = "sqlx"
)

var (
	ErrUnknownStorage        = errors.New("storage must be memory, sqlite or postgres")
	ErrUnknownPostgresDriver = errors.New("postgres driver must be pgx, sqldb or sqlx")
	ErrMissingSQLitePath     = errors.New("sqlite storage requires a database path")
	ErrMissingPostgresDSN    = errors.New("postgres storage requires a connection string")
)

// Config is the full circulationd configuration.
type Config struct {
	Listen string `mapstructure:"listen"`

	Storage        string `mapstructure:"storage"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	PostgresDriver string `mapstructure:"postgres_driver"`
	TablePrefix    string `mapstructure:"table_prefix"`

	LoanPeriodDays int           `mapstructure:"loan_period_days"`
	DailyFineRate  float64       `mapstructure:"daily_fine_rate"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig selects the log output format and level.
type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Listen:         ":8080",
		Storage:        StorageMemory,
		PostgresDriver: DriverPGX,
		LoanPeriodDays: circulation.DefaultLoanPeriodDays,
		DailyFineRate:  circulation.DefaultDailyFineRate,
		LockTimeout:    5 * time.Second,
		SweepInterval:  time.Hour,
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads the configuration. A non-empty path names an explicit config
// file; otherwise circulationd.yaml is searched in the working directory.
// Environment variables use the CIRCULATION_ prefix with underscores, for
// example CIRCULATION_POSTGRES_DSN or CIRCULATION_LOGGING_LEVEL.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("listen", defaults.Listen)
	v.SetDefault("storage", defaults.Storage)
	v.SetDefault("sqlite_path", defaults.SQLitePath)
	v.SetDefault("postgres_dsn", defaults.PostgresDSN)
	v.SetDefault("postgres_driver", defaults.PostgresDriver)
	v.SetDefault("table_prefix", defaults.TablePrefix)
	v.SetDefault("loan_period_days", defaults.LoanPeriodDays)
	v.SetDefault("daily_fine_rate", defaults.DailyFineRate)
	v.SetDefault("lock_timeout", defaults.LockTimeout)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.level", defaults.Logging.Level)

	v.SetEnvPrefix("CIRCULATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("circulationd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration for contradictions before the server
// starts wiring engines.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return ErrMissingSQLitePath
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return ErrMissingPostgresDSN
		}
		switch c.PostgresDriver {
		case DriverPGX, DriverSQLDB, DriverSQLX:
		default:
			return ErrUnknownPostgresDriver
		}
	default:
		return ErrUnknownStorage
	}

	if c.LoanPeriodDays <= 0 {
		return circulation.ErrInvalidLoanPeriod
	}

	if c.DailyFineRate < 0 {
		return circulation.ErrInvalidFineRate
	}

	return nil
}
