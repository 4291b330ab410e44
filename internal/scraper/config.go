package scraper

import (
	"fmt"
	"time"
)

// Config holds Wikipedia scraper configuration.
type Config struct {
	// BaseURL points at a MediaWiki action API endpoint.
	BaseURL   string `json:"base_url" yaml:"base_url"`
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// MaxContentChars caps the article text kept per species.
	MaxContentChars int `json:"max_content_chars" yaml:"max_content_chars"`

	// ValidationChars is how much of a page summary is scanned for
	// taxonomic vocabulary before the page is accepted.
	ValidationChars int `json:"validation_chars" yaml:"validation_chars"`

	// RequestDelay is the minimum spacing between upstream requests.
	RequestDelay time.Duration `json:"request_delay" yaml:"request_delay"`

	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	SearchLimit    int           `json:"search_limit" yaml:"search_limit"`
	Workers        int           `json:"workers" yaml:"workers"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://en.wikipedia.org/w/api.php",
		UserAgent:       "wildchat-scraper/1.0",
		MaxContentChars: 15000,
		ValidationChars: 500,
		RequestDelay:    100 * time.Millisecond,
		RequestTimeout:  30 * time.Second,
		SearchLimit:     5,
		Workers:         3,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.MaxContentChars < 1 {
		return fmt.Errorf("max_content_chars must be positive")
	}
	if c.ValidationChars < 1 {
		return fmt.Errorf("validation_chars must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.SearchLimit < 1 {
		return fmt.Errorf("search_limit must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	return nil
}
