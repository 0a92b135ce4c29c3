package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	PollInterval      time.Duration `mapstructure:"POLL_INTERVAL"`
	MinResultDelay    time.Duration `mapstructure:"MIN_RESULT_DELAY"`
	PollStageTimeout  time.Duration `mapstructure:"POLL_STAGE_TIMEOUT"`
	LabGatewayURL     string        `mapstructure:"LAB_GATEWAY_URL"`
	RequisitionPrefix string        `mapstructure:"REQUISITION_PREFIX"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("POLL_INTERVAL", "30s")
	v.SetDefault("MIN_RESULT_DELAY", "30s")
	v.SetDefault("POLL_STAGE_TIMEOUT", "2m")
	v.SetDefault("REQUISITION_PREFIX", "LAB")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("POLL_INTERVAL")
	v.BindEnv("MIN_RESULT_DELAY")
	v.BindEnv("POLL_STAGE_TIMEOUT")
	v.BindEnv("LAB_GATEWAY_URL")
	v.BindEnv("REQUISITION_PREFIX")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token get clinician access.")
		log.Println("WARNING: Set ENV=production and JWT_SECRET for production.")
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

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret must be set so that real authentication is enforced, and the
// lab gateway must be configured so approved orders can actually be
// transmitted rather than silently piling up.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.LabGatewayURL == "" {
		return fmt.Errorf("LAB_GATEWAY_URL is required in production")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.MinResultDelay < 0 {
		return fmt.Errorf("MIN_RESULT_DELAY must not be negative, got %s", c.MinResultDelay)
	}
	if c.PollStageTimeout <= 0 {
		return fmt.Errorf("POLL_STAGE_TIMEOUT must be positive, got %s", c.PollStageTimeout)
	}
	return nil
}
