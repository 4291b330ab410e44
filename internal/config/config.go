// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StoreBackendDurable = "durable"
	StoreBackendMemory  = "memory"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Redis       RedisConfig
	Embedding   EmbeddingConfig
	VectorIndex VectorIndexConfig
	LLM         LLMConfig
	Media       MediaConfig
	Hub         HubConfig
	Monitoring  MonitoringConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	Mode         string // "debug" or "release"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StoreConfig struct {
	Backend string // "durable" or "memory"
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

type EmbeddingConfig struct {
	APIKey    string
	BaseURL   string
	Region    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

type VectorIndexConfig struct {
	APIKey      string
	BaseURL     string
	PlantIndex  string
	AnimalIndex string
	Timeout     time.Duration
	BatchSize   int
}

type LLMConfig struct {
	Provider string // "gemini" or "mistral"
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

type MediaConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type HubConfig struct {
	PingInterval time.Duration
}

type MonitoringConfig struct {
	LogLevel    string
	MetricsPath string
}

// Load builds the configuration from environment variables, applying
// defaults for anything unset.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("PORT", "8001"),
			Mode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", StoreBackendMemory),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		},
		Embedding: EmbeddingConfig{
			APIKey:    getEnv("EMBEDDING_API_KEY", ""),
			BaseURL:   embeddingBaseURL(),
			Region:    getEnv("EMBEDDING_REGION", ""),
			Model:     getEnv("EMBEDDING_MODEL", "embed-english-v3.0"),
			Dimension: getIntEnv("EMBEDDING_DIMENSION", 1024),
			Timeout:   getDurationEnv("EMBEDDING_TIMEOUT", 2*time.Second),
		},
		VectorIndex: VectorIndexConfig{
			APIKey:      getEnv("VECTOR_INDEX_API_KEY", ""),
			BaseURL:     getEnv("VECTOR_INDEX_BASE_URL", "https://api.pinecone.io"),
			PlantIndex:  getEnv("VECTOR_INDEX_PLANT_NAME", "plant-knowledge-base"),
			AnimalIndex: getEnv("VECTOR_INDEX_ANIMAL_NAME", "animal-knowledge-base"),
			Timeout:     getDurationEnv("VECTOR_INDEX_TIMEOUT", 30*time.Second),
			BatchSize:   getIntEnv("VECTOR_INDEX_BATCH_SIZE", 100),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", "gemini"),
			APIKey:   getEnv("LLM_API_KEY", ""),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			Model:    getEnv("LLM_MODEL_NAME", ""),
			Timeout:  getDurationEnv("LLM_TIMEOUT", 30*time.Second),
		},
		Media: MediaConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "chat-images"),
			UseSSL:    getBoolEnv("MINIO_USE_SSL", false),
			Region:    getEnv("MINIO_REGION", "us-east-1"),
		},
		Hub: HubConfig{
			PingInterval: time.Duration(getIntEnv("PING_INTERVAL_SECONDS", 30)) * time.Second,
		},
		Monitoring: MonitoringConfig{
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			MetricsPath: getEnv("METRICS_PATH", "/metrics"),
		},
	}
}

// embeddingBaseURL resolves the embedding endpoint. An explicit
// EMBEDDING_BASE_URL always wins; otherwise EMBEDDING_REGION selects the
// region-scoped endpoint.
func embeddingBaseURL() string {
	if url := os.Getenv("EMBEDDING_BASE_URL"); url != "" {
		return url
	}
	if region := os.Getenv("EMBEDDING_REGION"); region != "" {
		return fmt.Sprintf("https://api.%s.cohere.com", region)
	}
	return "https://api.cohere.com"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
