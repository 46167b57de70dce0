package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string `mapstructure:"PORT"`
	Env                   string `mapstructure:"ENV"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32  `mapstructure:"DB_MIN_CONNS"`
	RateLimitIPPerMinute  int    `mapstructure:"RATE_LIMIT_IP_PER_MINUTE"`
	RateLimitIPBurst      int    `mapstructure:"RATE_LIMIT_IP_BURST"`
	RateLimitEmpPerMinute int    `mapstructure:"RATE_LIMIT_EMPLOYEE_PER_MINUTE"`
	RateLimitEmpBurst     int    `mapstructure:"RATE_LIMIT_EMPLOYEE_BURST"`
	NoShowGraceMinutes    int    `mapstructure:"NO_SHOW_GRACE_MINUTES"`
	SweepBatchSize        int    `mapstructure:"SWEEP_BATCH_SIZE"`
	ShutdownTimeoutSec    int    `mapstructure:"SHUTDOWN_TIMEOUT_SEC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("RATE_LIMIT_IP_PER_MINUTE", 300)
	v.SetDefault("RATE_LIMIT_IP_BURST", 60)
	v.SetDefault("RATE_LIMIT_EMPLOYEE_PER_MINUTE", 120)
	v.SetDefault("RATE_LIMIT_EMPLOYEE_BURST", 30)
	v.SetDefault("NO_SHOW_GRACE_MINUTES", 30)
	v.SetDefault("SWEEP_BATCH_SIZE", 100)
	v.SetDefault("SHUTDOWN_TIMEOUT_SEC", 10)

	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("RATE_LIMIT_IP_PER_MINUTE")
	v.BindEnv("RATE_LIMIT_IP_BURST")
	v.BindEnv("RATE_LIMIT_EMPLOYEE_PER_MINUTE")
	v.BindEnv("RATE_LIMIT_EMPLOYEE_BURST")
	v.BindEnv("NO_SHOW_GRACE_MINUTES")
	v.BindEnv("SWEEP_BATCH_SIZE")
	v.BindEnv("SHUTDOWN_TIMEOUT_SEC")

	// The .env file is optional; environment variables win either way.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.NoShowGraceMinutes < 0 {
		return nil, fmt.Errorf("NO_SHOW_GRACE_MINUTES must not be negative")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) NoShowGrace() time.Duration {
	return time.Duration(c.NoShowGraceMinutes) * time.Minute
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
