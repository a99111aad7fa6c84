package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("SHOPIFY_DOMAIN", "")
	t.Setenv("SHOPIFY_ADMIN_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHOPIFY_DOMAIN", "tienda.myshopify.com")
	t.Setenv("SHOPIFY_ADMIN_TOKEN", "shpat_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "2024-07", cfg.APIVersion)
	assert.Equal(t, 750*time.Millisecond, cfg.RateDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "padel-scraper-1", cfg.ScraperTag)
	assert.Equal(t, "scraper:keep-draft", cfg.KeepDraftTag)
	assert.Contains(t, cfg.IgnoreTags, "scraper:ignore")
	assert.Contains(t, cfg.PlaceholderKeywords, "no-image")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHOPIFY_DOMAIN", "tienda.myshopify.com")
	t.Setenv("SHOPIFY_ADMIN_TOKEN", "shpat_test")
	t.Setenv("SHOPIFY_RATE_DELAY", "2")
	t.Setenv("SHOPIFY_IMAGE_SETTLE_DELAY", "500ms")
	t.Setenv("SHOPIFY_IGNORE_TAGS", "uno, dos ,")
	t.Setenv("SHOPIFY_MAX_RETRIES", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.RateDelay, "bare numbers are seconds")
	assert.Equal(t, 500*time.Millisecond, cfg.ImageSettleDelay)
	assert.Equal(t, []string{"uno", "dos"}, cfg.IgnoreTags)
	assert.Equal(t, 7, cfg.MaxRetries)
}
