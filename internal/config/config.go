package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig indicates how many requests are allowed within a given interval.
type RateLimitConfig struct {
	Requests int
	Interval time.Duration
}

// StoreConfig identifies the document store and the credential used to write to it.
type StoreConfig struct {
	ProjectID   string
	Dataset     string
	WriteToken  string
	DatabaseURL string
}

// MissingSettingsError lists every required setting that was not provided.
type MissingSettingsError struct {
	Missing []string
}

// Error implements the error interface.
func (e *MissingSettingsError) Error() string {
	return fmt.Sprintf("missing required settings: %s", strings.Join(e.Missing, ", "))
}

// Config aggregates application-wide configuration values.
type Config struct {
	Env               string
	Port              string
	Store             StoreConfig
	PlacesAPIKey      string
	RedisURL          string
	DetailsCacheTTL   time.Duration
	EnrichDelay       time.Duration
	PhoneRegion       string
	WorkerBaseURL     string
	RateLimitPipeline RateLimitConfig
}

// Load reads configuration from environment variables and applies sane defaults.
// Store settings are not checked here; callers that touch the store use
// LoadStore or Store.Validate.
func Load() (*Config, error) {
	cfg := &Config{
		Env:             getEnv("APP_ENV", "production"),
		Port:            getEnv("PORT", "8080"),
		Store:           storeFromEnv(),
		PlacesAPIKey:    os.Getenv("GOOGLE_PLACES_API_KEY"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DetailsCacheTTL: parseDuration(getEnv("DETAILS_CACHE_TTL", "168h"), 168*time.Hour),
		EnrichDelay:     parseDuration(getEnv("ENRICH_DELAY", "200ms"), 200*time.Millisecond),
		PhoneRegion:     getEnv("PHONE_REGION", "CZ"),
		WorkerBaseURL:   os.Getenv("WORKER_BASE_URL"),
	}

	rl, err := parseRateLimit(getEnv("RATE_LIMIT_PIPELINE", "30/min"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PIPELINE value: %w", err)
	}
	cfg.RateLimitPipeline = rl

	return cfg, nil
}

// LoadStore resolves the store settings from the environment at call time
// and fails if any of them is missing.
func LoadStore() (StoreConfig, error) {
	store := storeFromEnv()
	if err := store.Validate(); err != nil {
		return StoreConfig{}, err
	}
	return store, nil
}

// Validate reports all missing store settings at once.
func (s StoreConfig) Validate() error {
	var missing []string
	if s.ProjectID == "" {
		missing = append(missing, "STORE_PROJECT_ID")
	}
	if s.Dataset == "" {
		missing = append(missing, "STORE_DATASET")
	}
	if s.WriteToken == "" {
		missing = append(missing, "STORE_WRITE_TOKEN")
	}
	if s.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return &MissingSettingsError{Missing: missing}
	}
	return nil
}

// RequirePlacesKey fails when enrichment is requested without a provider key.
func (c *Config) RequirePlacesKey() error {
	if c.PlacesAPIKey == "" {
		return &MissingSettingsError{Missing: []string{"GOOGLE_PLACES_API_KEY"}}
	}
	return nil
}

func storeFromEnv() StoreConfig {
	return StoreConfig{
		ProjectID:   strings.TrimSpace(os.Getenv("STORE_PROJECT_ID")),
		Dataset:     strings.TrimSpace(os.Getenv("STORE_DATASET")),
		WriteToken:  strings.TrimSpace(os.Getenv("STORE_WRITE_TOKEN")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
}

func parseRateLimit(value string) (RateLimitConfig, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 2 {
		return RateLimitConfig{}, fmt.Errorf("expected format <requests>/<interval>, got %q", value)
	}

	requests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid request count: %v", parts[0])
	}

	unit := strings.ToLower(strings.TrimSpace(parts[1]))
	var interval time.Duration
	switch unit {
	case "s", "sec", "second", "seconds":
		interval = time.Second
	case "m", "min", "minute", "minutes":
		interval = time.Minute
	case "h", "hr", "hour", "hours":
		interval = time.Hour
	default:
		return RateLimitConfig{}, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	return RateLimitConfig{Requests: requests, Interval: interval}, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseDuration(input string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(input)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
