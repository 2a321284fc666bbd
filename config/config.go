package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the pipeline configuration. It is built once at startup and
// treated as immutable afterwards.
type Config struct {
	BaseURL           string
	ListingPath       string // printf template with one %d verb for the page index
	Pages             int
	StartPage         int
	MaxConcurrency    int // global cap on in-flight HTTP attempts
	BatchSize         int // listing pages per checkpoint chunk
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	RetryBackoffMax   time.Duration
	RequestsPerSecond float64 // 0 disables the rate limiter
	OutputDir         string
	OutputFormat      string // csv, json, or dual
	UserAgent         string
	MetricsAddr       string
	Resume            bool
	Verbose           bool
}

// DefaultConfig returns conservative defaults for the game catalog.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://www.metacritic.com",
		ListingPath:       "/browse/game/?page=%d",
		Pages:             50,
		StartPage:         1,
		MaxConcurrency:    8,
		BatchSize:         5,
		Timeout:           15 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      500 * time.Millisecond,
		RetryBackoffMax:   8 * time.Second,
		RequestsPerSecond: 4,
		OutputDir:         "output",
		OutputFormat:      "csv",
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MetricsAddr:       "",
		Resume:            false,
		Verbose:           false,
	}
}

// ListingURL renders the listing page URL for a page index.
func (c *Config) ListingURL(page int) string {
	return strings.TrimSuffix(c.BaseURL, "/") + fmt.Sprintf(c.ListingPath, page)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if !strings.Contains(c.ListingPath, "%d") {
		return fmt.Errorf("listing path must contain a %%d page placeholder")
	}
	if c.Pages <= 0 {
		return fmt.Errorf("pages must be positive")
	}
	if c.StartPage <= 0 {
		return fmt.Errorf("start page must be positive")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
