// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/amr/amr/internal/domain/labresult"
	"github.com/amr/amr/internal/ingest"
	"github.com/amr/amr/internal/platform/blobstore"
	"github.com/amr/amr/internal/platform/db"
)

type Config struct {
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema      string `mapstructure:"DB_SCHEMA"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	WideThreshold     int    `mapstructure:"WIDE_THRESHOLD"`
	AgePolicy         string `mapstructure:"AGE_POLICY"`
	DefaultAge        int    `mapstructure:"DEFAULT_AGE"`
	StrictAntibiotics bool   `mapstructure:"STRICT_ANTIBIOTICS"`
	AliasesFile       string `mapstructure:"ALIASES_FILE"`
	CommitPolicy      string `mapstructure:"COMMIT_POLICY"`

	MaxUploadBytes  int64  `mapstructure:"MAX_UPLOAD_BYTES"`
	S3Region        string `mapstructure:"S3_REGION"`
	S3Endpoint      string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle     bool   `mapstructure:"S3_PATH_STYLE"`
	MetricsTextfile string `mapstructure:"METRICS_TEXTFILE"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS",
	"DB_MIN_CONNS", "DB_SCHEMA", "SQLITE_PATH", "MIGRATIONS_DIR",
	"WIDE_THRESHOLD", "AGE_POLICY", "DEFAULT_AGE", "STRICT_ANTIBIOTICS",
	"ALIASES_FILE", "COMMIT_POLICY", "MAX_UPLOAD_BYTES", "S3_REGION",
	"S3_ENDPOINT", "S3_PATH_STYLE", "METRICS_TEXTFILE",
}

// Load reads configuration from the environment and ./.env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads configuration from the environment and the dotenv file at
// path. Environment variables win over the file. A missing file is not an
// error.
func LoadFile(path string) (*Config, error) {
	// Export the file so libraries reading the environment directly, such
	// as the AWS credential chain, see it too.
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", labresult.DriverSQLite)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "amr")
	v.SetDefault("SQLITE_PATH", "data/amr.db")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("WIDE_THRESHOLD", ingest.DefaultWideThreshold)
	v.SetDefault("AGE_POLICY", string(ingest.AgeDefault))
	v.SetDefault("DEFAULT_AGE", 0)
	v.SetDefault("COMMIT_POLICY", string(labresult.CommitPartial))
	v.SetDefault("MAX_UPLOAD_BYTES", blobstore.DefaultMaxBytes)
	v.SetDefault("S3_REGION", "us-east-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading the file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks enum values and the settings the selected store needs.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case labresult.DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", c.StoreDriver)
		}
		if err := db.ValidateSchema(c.DBSchema); err != nil {
			return fmt.Errorf("DB_SCHEMA: %w", err)
		}
	case labresult.DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", labresult.DriverPostgres, labresult.DriverSQLite, c.StoreDriver)
	}
	if _, err := ingest.ParseAgePolicy(c.AgePolicy); err != nil {
		return fmt.Errorf("AGE_POLICY: %w", err)
	}
	if _, err := labresult.ParseCommitPolicy(c.CommitPolicy); err != nil {
		return fmt.Errorf("COMMIT_POLICY: %w", err)
	}
	if c.WideThreshold < 1 {
		return fmt.Errorf("WIDE_THRESHOLD must be positive, got %d", c.WideThreshold)
	}
	if c.DefaultAge < 0 || c.DefaultAge > ingest.MaxAge {
		return fmt.Errorf("DEFAULT_AGE must be between 0 and %d, got %d", ingest.MaxAge, c.DefaultAge)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must not be negative")
	}
	return nil
}

// IngestOptions builds normalizer options, merging ALIASES_FILE over the
// built-in tables when set.
func (c *Config) IngestOptions() (ingest.Options, error) {
	policy, err := ingest.ParseAgePolicy(c.AgePolicy)
	if err != nil {
		return ingest.Options{}, err
	}
	if c.DefaultAge < 0 || c.DefaultAge > ingest.MaxAge {
		return ingest.Options{}, fmt.Errorf("DEFAULT_AGE must be between 0 and %d, got %d", ingest.MaxAge, c.DefaultAge)
	}
	opts := ingest.DefaultOptions()
	opts.AgePolicy = policy
	opts.DefaultAge = c.DefaultAge
	opts.StrictAntibiotics = c.StrictAntibiotics
	if c.WideThreshold > 0 {
		opts.WideThreshold = c.WideThreshold
	}

	if c.AliasesFile != "" {
		f, err := os.Open(c.AliasesFile)
		if err != nil {
			return ingest.Options{}, fmt.Errorf("open aliases file: %w", err)
		}
		defer f.Close()
		if opts.Tables, err = ingest.LoadTables(f, opts.Tables); err != nil {
			return ingest.Options{}, fmt.Errorf("load aliases file %s: %w", c.AliasesFile, err)
		}
	}
	return opts, nil
}

// Commit returns the configured commit policy.
func (c *Config) Commit() (labresult.CommitPolicy, error) {
	return labresult.ParseCommitPolicy(c.CommitPolicy)
}

func (c *Config) StoreConfig() labresult.StoreConfig {
	return labresult.StoreConfig{
		Driver:     c.StoreDriver,
		SQLitePath: c.SQLitePath,
		Postgres:   c.PoolConfig(),
	}
}

func (c *Config) PoolConfig() db.PoolConfig {
	return db.PoolConfig{
		URL:      c.DatabaseURL,
		MaxConns: c.DBMaxConns,
		MinConns: c.DBMinConns,
		Schema:   c.DBSchema,
	}
}

func (c *Config) BlobConfig() blobstore.Config {
	return blobstore.Config{
		MaxBytes:    c.MaxUploadBytes,
		S3Region:    c.S3Region,
		S3Endpoint:  c.S3Endpoint,
		S3PathStyle: c.S3PathStyle,
	}
}
