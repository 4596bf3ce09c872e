package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database
	DatabaseURL string

	// Server
	Port    int
	LogMode string

	// Trigger authentication
	CronSecret string
	AdminToken string

	// Content API
	ContentAPIURL      string
	ContentAPIKey      string
	ContentLookback    int
	ContentMinBody     int
	ContentTimeout     time.Duration
	EnrichShortBodies  bool
	SectionsConfigPath string
	Sections           []Section

	// Summarization
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAITimeout     time.Duration
	InputCostPer1K    float64
	OutputCostPer1K   float64
	SummaryInputLimit int

	// Pipeline
	SlugMaxAttempts      int
	DefaultIngestCount   int
	IngestInterval       time.Duration
	StaleProcessingAfter time.Duration

	// RSS Feed
	FeedTitle       string
	FeedDescription string
	FeedLink        string
	FeedAuthor      string
}

// Load reads configuration from the environment, after loading a .env file if one exists
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		Port:                 getEnvAsInt("PORT", 8080),
		LogMode:              getEnv("LOG_MODE", "dev"),
		CronSecret:           getEnv("CRON_SECRET", ""),
		AdminToken:           getEnv("ADMIN_TOKEN", ""),
		ContentAPIURL:        getEnv("CONTENT_API_URL", "https://content.guardianapis.com"),
		ContentAPIKey:        getEnv("CONTENT_API_KEY", ""),
		ContentLookback:      getEnvAsInt("CONTENT_LOOKBACK_DAYS", 3),
		ContentMinBody:       getEnvAsInt("CONTENT_MIN_BODY_CHARS", 500),
		ContentTimeout:       getEnvAsDuration("CONTENT_TIMEOUT", 30*time.Second),
		EnrichShortBodies:    getEnvAsBool("CONTENT_ENRICH_SHORT_BODIES", false),
		SectionsConfigPath:   getEnv("SECTIONS_CONFIG", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITimeout:        getEnvAsDuration("OPENAI_TIMEOUT", 120*time.Second),
		InputCostPer1K:       getEnvAsFloat("OPENAI_INPUT_COST_PER_1K", 0.00015),
		OutputCostPer1K:      getEnvAsFloat("OPENAI_OUTPUT_COST_PER_1K", 0.0006),
		SummaryInputLimit:    getEnvAsInt("SUMMARY_MAX_INPUT_CHARS", 15000),
		SlugMaxAttempts:      getEnvAsInt("SLUG_MAX_ATTEMPTS", 100),
		DefaultIngestCount:   getEnvAsInt("INGEST_DEFAULT_COUNT", 12),
		IngestInterval:       getEnvAsDuration("INGEST_INTERVAL", 0),
		StaleProcessingAfter: getEnvAsDuration("STALE_PROCESSING_AFTER", 0),
		FeedTitle:            getEnv("FEED_TITLE", "Newsroom Briefings"),
		FeedDescription:      getEnv("FEED_DESCRIPTION", "AI-summarized news from around the world"),
		FeedLink:             getEnv("FEED_LINK", "http://localhost:8080"),
		FeedAuthor:           getEnv("FEED_AUTHOR", "Newsroom"),
	}

	sections, err := LoadSections(cfg.SectionsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}
	cfg.Sections = sections

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"CONTENT_API_KEY", c.ContentAPIKey},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"CRON_SECRET", c.CronSecret},
		{"ADMIN_TOKEN", c.AdminToken},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(c.Sections) == 0 {
		return fmt.Errorf("at least one content section is required")
	}
	if c.SlugMaxAttempts <= 0 {
		return fmt.Errorf("SLUG_MAX_ATTEMPTS must be positive")
	}
	if c.DefaultIngestCount <= 0 {
		return fmt.Errorf("INGEST_DEFAULT_COUNT must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
