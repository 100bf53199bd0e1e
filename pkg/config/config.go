package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource/snowflake"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
)

// Config holds all configuration for one writer run.
// Configuration comes from a YAML file with environment variable overrides.
// Secrets (the warehouse password) must only come from environment variables.
type Config struct {
	// DataDir contains in/tables/<table_id>.csv.manifest for every input table.
	DataDir  string `yaml:"data_dir" env:"DATA_DIR" env-default:"/data"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// Concurrency is the number of tables loaded in parallel. Each load owns its own connection.
	Concurrency int `yaml:"concurrency" env:"WRITER_CONCURRENCY" env-default:"1"`

	DB     DatabaseConfig `yaml:"db"`
	Tables []TableConfig  `yaml:"tables"`
}

// DatabaseConfig holds Snowflake connection settings.
type DatabaseConfig struct {
	Host               string `yaml:"host" env:"SNOWFLAKE_HOST"`
	Port               int    `yaml:"port" env:"SNOWFLAKE_PORT" env-default:"443"`
	User               string `yaml:"user" env:"SNOWFLAKE_USER"`
	Password           string `yaml:"-" env:"SNOWFLAKE_PASSWORD"` // Secret - not in YAML
	Database           string `yaml:"database" env:"SNOWFLAKE_DATABASE"`
	Schema             string `yaml:"schema" env:"SNOWFLAKE_SCHEMA"`
	Warehouse          string `yaml:"warehouse" env:"SNOWFLAKE_WAREHOUSE"`
	RunID              string `yaml:"run_id" env:"KBC_RUNID"`
	Driver             string `yaml:"driver" env:"SNOWFLAKE_ODBC_DRIVER"`
	MaxBackoffAttempts int    `yaml:"max_backoff_attempts" env-default:"5"`
	LoginTimeout       int    `yaml:"login_timeout" env-default:"30"`
	NetworkTimeout     int    `yaml:"network_timeout"`
	QueryTimeout       int    `yaml:"query_timeout"`
	Tracing            int    `yaml:"tracing"`
}

// TableConfig is one table entry of the configuration.
type TableConfig struct {
	TableID     string              `yaml:"table_id"`
	DBName      string              `yaml:"db_name"`
	Export      *bool               `yaml:"export"` // nil means true
	Incremental bool                `yaml:"incremental"`
	PrimaryKey  []string            `yaml:"primary_key"`
	Items       []models.ColumnSpec `yaml:"items"`
}

// Load reads configuration from path with environment variable overrides.
// Environment variables override YAML values. SNOWFLAKE_PASSWORD must come
// from the environment (yaml:"-" field).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, apperrors.NewUserError(err, "failed to read %s: %s", path, err.Error())
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return cfg, nil
}

// DatabaseConfig returns the connection settings for the Snowflake adapter.
func (c *Config) DatabaseConfig() *snowflake.Config {
	return &snowflake.Config{
		Host:               c.DB.Host,
		Port:               c.DB.Port,
		User:               c.DB.User,
		Password:           c.DB.Password,
		Database:           c.DB.Database,
		Schema:             c.DB.Schema,
		Warehouse:          c.DB.Warehouse,
		RunID:              c.DB.RunID,
		Driver:             c.DB.Driver,
		MaxBackoffAttempts: c.DB.MaxBackoffAttempts,
		LoginTimeout:       c.DB.LoginTimeout,
		NetworkTimeout:     c.DB.NetworkTimeout,
		QueryTimeout:       c.DB.QueryTimeout,
		Tracing:            c.DB.Tracing,
	}
}

// TableSpecs converts the table entries into validated table specs.
// Target table names must be unique across the configuration.
func (c *Config) TableSpecs() ([]models.TableSpec, error) {
	specs := make([]models.TableSpec, 0, len(c.Tables))
	seen := make(map[string]string, len(c.Tables))

	for _, t := range c.Tables {
		spec := t.TableSpec()
		if err := spec.Validate(); err != nil {
			return nil, apperrors.NewUserError(err, "table %q: %s", t.TableID, err.Error())
		}

		key := strings.ToLower(spec.DBName)
		if other, ok := seen[key]; ok {
			return nil, apperrors.NewUserError(apperrors.ErrInvalidSpec,
				"tables %q and %q both write to %q", other, t.TableID, spec.DBName)
		}
		seen[key] = t.TableID

		specs = append(specs, spec)
	}
	return specs, nil
}

// TableSpec converts a single table entry.
func (t TableConfig) TableSpec() models.TableSpec {
	mode := models.LoadModeFull
	if t.Incremental {
		mode = models.LoadModeIncremental
	}
	export := t.Export == nil || *t.Export

	return models.TableSpec{
		TableID:    t.TableID,
		DBName:     t.DBName,
		Export:     export,
		Columns:    append([]models.ColumnSpec(nil), t.Items...),
		PrimaryKey: append([]string(nil), t.PrimaryKey...),
		LoadMode:   mode,
	}
}

// Dump renders the effective configuration as YAML. Secrets are omitted.
func (c *Config) Dump() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
