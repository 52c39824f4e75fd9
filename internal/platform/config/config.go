package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Addr                 string
	Environment          string
	DatabaseURL          string
	DBMaxConns           int32
	JWTSecret            string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	LogLevel             string
	LogFormat            string
	RunMigrations        bool
	RunSeed              bool
	LegalParametersFile  string
	PayrollWorkers       int
	PayrollBatchTimeout  time.Duration
	PayrollLockTTL       time.Duration
	FormulaFailurePolicy string
	RubricFlagPolicy     string
	JobQueueSize         int
	MaxBodyBytes         int64
	MetricsEnabled       bool
	RateLimitPerMinute   int
}

// Load reads an optional .env file, then the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("APP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("RUN_SEED", false)
	v.SetDefault("LEGAL_PARAMETERS_FILE", "")
	v.SetDefault("PAYROLL_WORKERS", 4)
	v.SetDefault("PAYROLL_BATCH_TIMEOUT", 5*time.Minute)
	v.SetDefault("PAYROLL_LOCK_TTL", 2*time.Minute)
	v.SetDefault("FORMULA_FAILURE_POLICY", "fail")
	v.SetDefault("RUBRIC_FLAG_POLICY", "uniform")
	v.SetDefault("JOB_QUEUE_SIZE", 32)
	v.SetDefault("MAX_BODY_BYTES", 1048576)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.AutomaticEnv()
	return v
}

func FromViper(v *viper.Viper) Config {
	cfg := Config{
		Addr:                 v.GetString("APP_ADDR"),
		Environment:          v.GetString("APP_ENV"),
		DatabaseURL:          v.GetString("DATABASE_URL"),
		DBMaxConns:           v.GetInt32("DB_MAX_CONNS"),
		JWTSecret:            v.GetString("JWT_SECRET"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFormat:            v.GetString("LOG_FORMAT"),
		RunMigrations:        v.GetBool("RUN_MIGRATIONS"),
		RunSeed:              v.GetBool("RUN_SEED"),
		LegalParametersFile:  v.GetString("LEGAL_PARAMETERS_FILE"),
		PayrollWorkers:       v.GetInt("PAYROLL_WORKERS"),
		PayrollBatchTimeout:  v.GetDuration("PAYROLL_BATCH_TIMEOUT"),
		PayrollLockTTL:       v.GetDuration("PAYROLL_LOCK_TTL"),
		FormulaFailurePolicy: strings.ToLower(v.GetString("FORMULA_FAILURE_POLICY")),
		RubricFlagPolicy:     strings.ToLower(v.GetString("RUBRIC_FLAG_POLICY")),
		JobQueueSize:         v.GetInt("JOB_QUEUE_SIZE"),
		MaxBodyBytes:         v.GetInt64("MAX_BODY_BYTES"),
		MetricsEnabled:       v.GetBool("METRICS_ENABLED"),
		RateLimitPerMinute:   v.GetInt("RATE_LIMIT_PER_MINUTE"),
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c Config) Validate() error {
	if c.IsProduction() {
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if len(strings.TrimSpace(c.JWTSecret)) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.PayrollWorkers <= 0 {
		return fmt.Errorf("PAYROLL_WORKERS must be positive")
	}
	if c.PayrollLockTTL <= 0 {
		return fmt.Errorf("PAYROLL_LOCK_TTL must be positive")
	}
	if c.PayrollBatchTimeout < 0 {
		return fmt.Errorf("PAYROLL_BATCH_TIMEOUT must not be negative")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.JobQueueSize <= 0 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be positive")
	}
	switch c.FormulaFailurePolicy {
	case "fail", "annotate":
	default:
		return fmt.Errorf("FORMULA_FAILURE_POLICY must be fail or annotate, got %q", c.FormulaFailurePolicy)
	}
	switch c.RubricFlagPolicy {
	case "uniform", "flags":
	default:
		return fmt.Errorf("RUBRIC_FLAG_POLICY must be uniform or flags, got %q", c.RubricFlagPolicy)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}
