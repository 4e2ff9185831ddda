package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/rpattn/revlog/internal/db"
	"github.com/rpattn/revlog/internal/domain"
)

// Config is the full engine configuration: database connection, report
// output location, and the per-type tracked-field declarations.
type Config struct {
	DB        db.Config
	ReportDir string
	// Tracking maps entity type -> field name -> redaction policy name.
	Tracking map[string]map[string]string
}

// Load reads config.yaml from the given path, with env overrides.
func Load(configPath string) (Config, error) {
	// Start with defaults
	cfg := Config{
		DB:       db.DefaultConfig(),
		Tracking: map[string]map[string]string{},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()         // allow environment overrides
	v.SetEnvPrefix("REVLOG") // map env vars like REVLOG_DATABASE.HOST

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("report.dir")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("report.dir") {
		cfg.ReportDir = v.GetString("report.dir")
	}
	if v.IsSet("tracking") {
		if err := v.UnmarshalKey("tracking", &cfg.Tracking); err != nil {
			return Config{}, fmt.Errorf("failed to parse tracking config: %w", err)
		}
	}

	return cfg, nil
}

// BuildRegistry freezes the configured tracked-field declarations into an
// immutable registry. Misconfiguration surfaces here, at startup.
func (c Config) BuildRegistry() (*domain.Registry, error) {
	builder := domain.NewRegistryBuilder()
	for entityType, fields := range c.Tracking {
		for field, policy := range fields {
			builder.Track(entityType, field, domain.Policy(policy))
		}
	}
	return builder.Build()
}
