// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionDB   string
	SessionTTL  time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	Planner PlannerConfig
	Advisor AdvisorConfig

	ResumeMaxRounds  int
	WaitReadyTimeout time.Duration
}

// PlannerConfig holds credentials for the external planning/execution service
// and the tool integrations it drives on our behalf.
type PlannerConfig struct {
	BaseURL          string
	APIKey           string
	XeroClientID     string
	XeroClientSecret string
}

// AdvisorConfig controls the LLM pre-processing gate.
type AdvisorConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/tradeflow.db"),
		SessionDB:   getEnv("SESSION_DB_PATH", "./data/sessions"),
		SessionTTL:  getEnvDuration("SESSION_TTL", time.Hour),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		TokenTTL:    getEnvDuration("TOKEN_TTL", 24*time.Hour),
		Planner: PlannerConfig{
			BaseURL:          getEnv("PLANNER_BASE_URL", "https://api.portialabs.ai"),
			APIKey:           getEnv("PLANNER_API_KEY", ""),
			XeroClientID:     getEnv("XERO_CLIENT_ID", ""),
			XeroClientSecret: getEnv("XERO_CLIENT_SECRET", ""),
		},
		Advisor: AdvisorConfig{
			Enabled: getEnvBool("ADVISOR_ENABLED", true),
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("ADVISOR_MODEL", "gpt-4o-mini"),
		},
		ResumeMaxRounds:  getEnvInt("RESUME_MAX_ROUNDS", 5),
		WaitReadyTimeout: getEnvDuration("WAIT_READY_TIMEOUT", 2*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionDB == "" {
		return fmt.Errorf("SESSION_DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ResumeMaxRounds <= 0 {
		return fmt.Errorf("RESUME_MAX_ROUNDS must be > 0")
	}
	if !c.IsDevelopment() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required outside development")
		}
		if c.Planner.APIKey == "" {
			return fmt.Errorf("PLANNER_API_KEY is required outside development")
		}
	}
	if c.Advisor.Enabled && c.Advisor.APIKey == "" && !c.IsDevelopment() {
		return fmt.Errorf("OPENAI_API_KEY is required when the advisor is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin allowlist: the local development
// origins plus the configured production frontend, matching the deployment
// shape of the hosted chat client.
func (c *Config) AllowedOrigins() []string {
	origins := []string{"http://localhost:8501", "http://localhost"}
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
