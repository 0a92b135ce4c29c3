package config

import (
	"testing"
	"time"
)

func baseConfig() *Config {
	return &Config{
		Port:              "8000",
		Env:               "development",
		DatabaseURL:       "postgres://localhost/labcore",
		DBMaxConns:        20,
		DBMinConns:        5,
		PollInterval:      30 * time.Second,
		MinResultDelay:    30 * time.Second,
		PollStageTimeout:  2 * time.Minute,
		RequisitionPrefix: "LAB",
	}
}

func TestValidate_DevDefaults(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ProductionRequiresJWTSecret(t *testing.T) {
	cfg := baseConfig()
	cfg.Env = "production"
	cfg.LabGatewayURL = "https://lab.example.com/transmit"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when JWT_SECRET is empty in production")
	}
	cfg.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ProductionRequiresGatewayURL(t *testing.T) {
	cfg := baseConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "secret"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when LAB_GATEWAY_URL is empty in production")
	}
}

func TestValidate_RejectsBadDurations(t *testing.T) {
	cfg := baseConfig()
	cfg.PollInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero poll interval")
	}

	cfg = baseConfig()
	cfg.MinResultDelay = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative result delay")
	}

	cfg = baseConfig()
	cfg.PollStageTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero stage timeout")
	}
}

func TestIsDev(t *testing.T) {
	cfg := baseConfig()
	if !cfg.IsDev() {
		t.Error("expected IsDev for ENV=development")
	}
	cfg.Env = "production"
	if cfg.IsDev() {
		t.Error("did not expect IsDev for ENV=production")
	}
	if !cfg.IsProduction() {
		t.Error("expected IsProduction for ENV=production")
	}
}
