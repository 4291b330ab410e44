package pinecone

import (
	"fmt"
	"time"
)

// Config holds Pinecone connection configuration.
type Config struct {
	APIKey        string        `json:"api_key" yaml:"api_key"`
	ControllerURL string        `json:"controller_url" yaml:"controller_url"`
	Cloud         string        `json:"cloud" yaml:"cloud"`
	Region        string        `json:"region" yaml:"region"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`

	// UpsertBatchSize bounds the number of vectors sent per upsert call.
	UpsertBatchSize int `json:"upsert_batch_size" yaml:"upsert_batch_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ControllerURL:   "https://api.pinecone.io",
		Cloud:           "aws",
		Region:          "us-east-1",
		Timeout:         30 * time.Second,
		UpsertBatchSize: 100,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ControllerURL == "" {
		return fmt.Errorf("controller_url is required")
	}
	if c.Cloud == "" {
		return fmt.Errorf("cloud is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UpsertBatchSize < 1 {
		return fmt.Errorf("upsert_batch_size must be at least 1")
	}
	return nil
}
