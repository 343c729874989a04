package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	OrthancURL      string        `mapstructure:"ORTHANC_URL"`
	OrthancUsername string        `mapstructure:"ORTHANC_USERNAME"`
	OrthancPassword string        `mapstructure:"ORTHANC_PASSWORD"`
	IngestWorkers   int           `mapstructure:"INGEST_CONCURRENCY"`
	IngestJobTTL    time.Duration `mapstructure:"INGEST_JOB_TTL"`
	IngestResultTTL time.Duration `mapstructure:"INGEST_RESULT_TTL"`
	AuthJWTSecret   string        `mapstructure:"AUTH_JWT_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("INGEST_CONCURRENCY", 10)
	v.SetDefault("INGEST_JOB_TTL", "1h")
	v.SetDefault("INGEST_RESULT_TTL", "1h")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("ORTHANC_URL")
	v.BindEnv("ORTHANC_USERNAME")
	v.BindEnv("ORTHANC_PASSWORD")
	v.BindEnv("INGEST_CONCURRENCY")
	v.BindEnv("INGEST_JOB_TTL")
	v.BindEnv("INGEST_RESULT_TTL")
	v.BindEnv("AUTH_JWT_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.OrthancURL == "" {
		return nil, fmt.Errorf("ORTHANC_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Admin routes accept unauthenticated requests in this mode.")
		log.Println("WARNING: Set ENV=production and AUTH_JWT_SECRET for production use.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production a JWT
// secret must be set so that admin routes are actually protected, and the
// ingest queue tuning values must be sane.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("INGEST_CONCURRENCY must be at least 1, got %d", c.IngestWorkers)
	}
	if c.IngestJobTTL <= 0 {
		return fmt.Errorf("INGEST_JOB_TTL must be positive, got %s", c.IngestJobTTL)
	}
	if c.IngestResultTTL <= 0 {
		return fmt.Errorf("INGEST_RESULT_TTL must be positive, got %s", c.IngestResultTTL)
	}
	return nil
}
