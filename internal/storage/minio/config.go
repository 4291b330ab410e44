package minio

import (
	"fmt"
	"time"
)

// Config holds MinIO connection configuration for the image blob store.
type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
	Region    string `json:"region" yaml:"region"`

	// Bucket holds uploaded chat images.
	Bucket string `json:"bucket" yaml:"bucket"`

	// PublicBaseURL overrides the URL prefix returned for uploaded
	// objects; empty derives it from the endpoint.
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`

	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// MaxImageBytes caps a single upload.
	MaxImageBytes int64 `json:"max_image_bytes" yaml:"max_image_bytes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:9000",
		AccessKey:      "minioadmin",
		SecretKey:      "minioadmin",
		UseSSL:         false,
		Region:         "us-east-1",
		Bucket:         "chat-images",
		RequestTimeout: 30 * time.Second,
		MaxImageBytes:  10 * 1024 * 1024,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access_key is required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxImageBytes < 1 {
		return fmt.Errorf("max_image_bytes must be positive")
	}
	return nil
}
