package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Source and sink selectors.
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"

	SinkFile     = "file"
	SinkPostgres = "postgres"
	SinkBoth     = "both"
)

type Config struct {
	Env        string `mapstructure:"ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	Port       string `mapstructure:"PORT"`
	DataPath   string `mapstructure:"DATA_PATH"`
	FileType   string `mapstructure:"FILE_TYPE"`
	OutputPath string `mapstructure:"OUTPUT_PATH"`
	OutputCSV  bool   `mapstructure:"OUTPUT_CSV"`
	SiteConfig string `mapstructure:"SITE_CONFIG"`
	Source     string `mapstructure:"SOURCE"`
	Sink       string `mapstructure:"SINK"`
	Workers    int    `mapstructure:"WORKERS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`
	InputSchema string `mapstructure:"DB_INPUT_SCHEMA"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("DATA_PATH", "./data")
	v.SetDefault("FILE_TYPE", "parquet")
	v.SetDefault("OUTPUT_PATH", "./output/intermediate")
	v.SetDefault("OUTPUT_CSV", false)
	v.SetDefault("SOURCE", SourceFile)
	v.SetDefault("SINK", SinkFile)
	v.SetDefault("WORKERS", 4)
	v.SetDefault("CORS_ORIGINS", "http://localhost:8050")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "mobilization")
	v.SetDefault("DB_INPUT_SCHEMA", "public")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("PORT")
	v.BindEnv("DATA_PATH")
	v.BindEnv("FILE_TYPE")
	v.BindEnv("OUTPUT_PATH")
	v.BindEnv("OUTPUT_CSV")
	v.BindEnv("SITE_CONFIG")
	v.BindEnv("SOURCE")
	v.BindEnv("SINK")
	v.BindEnv("WORKERS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_SCHEMA")
	v.BindEnv("DB_INPUT_SCHEMA")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development), console log output enabled.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesPostgres reports whether either end of the run touches the database.
func (c *Config) UsesPostgres() bool {
	return c.Source == SourcePostgres || c.Sink == SinkPostgres || c.Sink == SinkBoth
}

// Validate checks selector values and the settings each selector needs.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceFile, SourcePostgres:
	default:
		return fmt.Errorf("SOURCE must be %q or %q, got %q", SourceFile, SourcePostgres, c.Source)
	}
	switch c.Sink {
	case SinkFile, SinkPostgres, SinkBoth:
	default:
		return fmt.Errorf("SINK must be %q, %q or %q, got %q", SinkFile, SinkPostgres, SinkBoth, c.Sink)
	}
	if c.Source == SourceFile {
		switch c.FileType {
		case "csv", "parquet":
		default:
			return fmt.Errorf("FILE_TYPE must be csv or parquet, got %q", c.FileType)
		}
	}
	if c.UsesPostgres() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when SOURCE or SINK uses postgres")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	return nil
}
