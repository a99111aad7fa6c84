package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the catalog sync pipeline.
type Config struct {
	// Shopify credentials
	ShopDomain  string
	AccessToken string
	APIVersion  string

	// Request behavior
	RequestTimeout time.Duration
	RateDelay      time.Duration
	MaxRetries     int

	// Image upload behavior. Shopify needs processing time after product
	// creation, so images get their own, longer retry schedule.
	ImageMaxRetries  int
	ImageSettleDelay time.Duration
	ImageRetryStep   time.Duration

	// Identity and protection tags
	ScraperTag   string
	KeepDraftTag string
	IgnoreTags   []string

	// Inventory routing: location selected by name, else first available
	LocationName string

	// Placeholder detection keywords, substring-matched against the primary
	// image URL. Provisional list, kept configurable.
	PlaceholderKeywords []string
}

// Load loads configuration from environment variables, auto-loading a local
// .env file first if one exists.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg := &Config{
		ShopDomain:  strings.TrimSpace(getEnv("SHOPIFY_DOMAIN", "")),
		AccessToken: strings.TrimSpace(getEnv("SHOPIFY_ADMIN_TOKEN", "")),
		APIVersion:  strings.TrimSpace(getEnv("SHOPIFY_API_VERSION", "2024-07")),

		RequestTimeout: getEnvAsDuration("SHOPIFY_TIMEOUT", 30*time.Second),
		RateDelay:      getEnvAsDuration("SHOPIFY_RATE_DELAY", 750*time.Millisecond),
		MaxRetries:     getEnvAsInt("SHOPIFY_MAX_RETRIES", 3),

		ImageMaxRetries:  getEnvAsInt("SHOPIFY_IMAGE_MAX_RETRIES", 5),
		ImageSettleDelay: getEnvAsDuration("SHOPIFY_IMAGE_SETTLE_DELAY", 1500*time.Millisecond),
		ImageRetryStep:   getEnvAsDuration("SHOPIFY_IMAGE_RETRY_STEP", 2500*time.Millisecond),

		ScraperTag:   strings.TrimSpace(getEnv("SHOPIFY_SCRAPER_TAG", "padel-scraper-1")),
		KeepDraftTag: strings.TrimSpace(getEnv("SHOPIFY_KEEP_DRAFT_TAG", "scraper:keep-draft")),
		IgnoreTags:   getEnvAsList("SHOPIFY_IGNORE_TAGS", []string{"scraper:ignore", "no tocar"}),

		LocationName: strings.TrimSpace(getEnv("SHOPIFY_LOCATION_NAME", "")),

		PlaceholderKeywords: getEnvAsList("SHOPIFY_PLACEHOLDER_KEYWORDS",
			[]string{"no-image", "placeholder", "sin-imagen", "default"}),
	}

	if cfg.ScraperTag == "" {
		cfg.ScraperTag = "padel-scraper-1"
	}

	if cfg.ShopDomain == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("SHOPIFY_DOMAIN and SHOPIFY_ADMIN_TOKEN are required")
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvAsDuration gets an environment variable as a duration with a default
// value. Bare numbers are read as seconds for compatibility with the older
// pipeline configuration.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvAsList gets a comma-separated environment variable as a slice,
// trimming whitespace and dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
