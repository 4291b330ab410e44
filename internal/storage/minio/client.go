// Package minio stores uploaded chat images in object storage and serves
// them by public URL.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// Client provides an interface to interact with MinIO object storage.
type Client struct {
	config      *Config
	minioClient *minio.Client
	logger      *logrus.Logger
	mu          sync.RWMutex
	connected   bool
}

// NewClient creates a new MinIO client.
func NewClient(config *Config, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes the connection and ensures the image bucket exists.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	minioClient, err := minio.New(c.config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.config.AccessKey, c.config.SecretKey, ""),
		Secure: c.config.UseSSL,
		Region: c.config.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		err = minioClient.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.config.Bucket, err)
		}
		c.logger.WithField("bucket", c.config.Bucket).Info("Image bucket created")
	}

	c.minioClient = minioClient
	c.connected = true
	c.logger.Info("Connected to MinIO")
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close releases the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.minioClient = nil
	return nil
}

// UploadImage stores image bytes under a fresh key and returns the public
// URL.
func (c *Client) UploadImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	c.mu.RLock()
	minioClient := c.minioClient
	connected := c.connected
	c.mu.RUnlock()

	if !connected || minioClient == nil {
		return "", fmt.Errorf("not connected to MinIO")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image data is empty")
	}
	if int64(len(data)) > c.config.MaxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", c.config.MaxImageBytes)
	}

	key := ObjectKey(mimeType)

	uploadCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	_, err := minioClient.PutObject(uploadCtx, c.config.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	url := c.PublicURL(key)
	c.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Info("Image uploaded")
	return url, nil
}

// PublicURL returns the externally reachable URL for an object key.
func (c *Client) PublicURL(key string) string {
	if c.config.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", c.config.PublicBaseURL, c.config.Bucket, key)
	}
	scheme := "http"
	if c.config.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.config.Endpoint, c.config.Bucket, key)
}

// ObjectKey generates a unique storage key with an extension derived from
// the MIME type.
func ObjectKey(mimeType string) string {
	return "images/" + uuid.NewString() + extensionFor(mimeType)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
