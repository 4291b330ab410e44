// IntoTheWild chat service: REST API, WebSocket messaging and the
// AI-augmented wildlife bot.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/intothewild/wildchat/internal/chat"
	"github.com/intothewild/wildchat/internal/config"
	"github.com/intothewild/wildchat/internal/embedding"
	"github.com/intothewild/wildchat/internal/handlers"
	"github.com/intothewild/wildchat/internal/hub"
	"github.com/intothewild/wildchat/internal/llm/gemini"
	"github.com/intothewild/wildchat/internal/llm/mistral"
	"github.com/intothewild/wildchat/internal/metrics"
	"github.com/intothewild/wildchat/internal/rag"
	"github.com/intothewild/wildchat/internal/storage/minio"
	"github.com/intothewild/wildchat/internal/store"
	"github.com/intothewild/wildchat/internal/vectordb/pinecone"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := newLogger(cfg.Monitoring.LogLevel)
	gin.SetMode(cfg.Server.Mode)

	dataStore, cleanup, err := newStore(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}
	defer cleanup()

	wsHub := hub.NewHub(dataStore, cfg.Hub.PingInterval, logger)
	defer wsHub.Close()

	responder, err := newResponder(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize AI services")
	}

	images := newImageStore(cfg, logger)

	serviceMetrics := metrics.New(prometheus.DefaultRegisterer)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))

	restHandler := handlers.NewHandler(dataStore, wsHub, images, logger)
	restHandler.RegisterRoutes(router)

	chatHandler := chat.NewHandler(dataStore, wsHub, responder, images, serviceMetrics, logger)
	chatHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Starting chat server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func newStore(cfg *config.Config, logger *logrus.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendDurable:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		redisStore := store.NewRedisStore(client)
		if err := redisStore.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis unreachable: %w", err)
		}

		logger.WithField("addr", cfg.Redis.Host+":"+cfg.Redis.Port).Info("Using durable store")
		return redisStore, func() { _ = client.Close() }, nil

	case config.StoreBackendMemory:
		logger.Info("Using in-memory store")
		return store.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newResponder(cfg *config.Config, logger *logrus.Logger) (chat.Responder, error) {
	embedConfig := embedding.DefaultConfig()
	embedConfig.APIKey = cfg.Embedding.APIKey
	embedConfig.BaseURL = cfg.Embedding.BaseURL
	embedConfig.Model = cfg.Embedding.Model
	embedConfig.Dimension = cfg.Embedding.Dimension
	embedConfig.Timeout = cfg.Embedding.Timeout

	embedClient, err := embedding.NewClient(embedConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}

	indexConfig := pinecone.DefaultConfig()
	indexConfig.APIKey = cfg.VectorIndex.APIKey
	indexConfig.ControllerURL = cfg.VectorIndex.BaseURL
	indexConfig.Timeout = cfg.VectorIndex.Timeout
	indexConfig.UpsertBatchSize = cfg.VectorIndex.BatchSize

	indexClient, err := pinecone.NewClient(indexConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("vector index client: %w", err)
	}

	var llmClient rag.LLMClient
	switch cfg.LLM.Provider {
	case "mistral":
		llmClient = mistral.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, logger)
	case "gemini":
		llmClient = gemini.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}

	retriever := rag.NewRetriever(embedClient, indexClient, cfg.VectorIndex.PlantIndex, cfg.VectorIndex.AnimalIndex, logger)
	classifier := rag.NewClassifier(llmClient, logger)
	return rag.NewOrchestrator(classifier, retriever, llmClient, logger), nil
}

// newImageStore connects to MinIO when credentials are configured. Image
// sending still works without it, limited to URL passthrough.
func newImageStore(cfg *config.Config, logger *logrus.Logger) chat.ImageStore {
	if cfg.Media.AccessKey == "" || cfg.Media.SecretKey == "" {
		logger.Info("Image storage disabled, no MinIO credentials")
		return nil
	}

	mediaConfig := minio.DefaultConfig()
	mediaConfig.Endpoint = cfg.Media.Endpoint
	mediaConfig.AccessKey = cfg.Media.AccessKey
	mediaConfig.SecretKey = cfg.Media.SecretKey
	mediaConfig.UseSSL = cfg.Media.UseSSL
	mediaConfig.Region = cfg.Media.Region
	mediaConfig.Bucket = cfg.Media.Bucket

	client, err := minio.NewClient(mediaConfig, logger)
	if err != nil {
		logger.WithError(err).Warn("Image storage disabled, invalid MinIO config")
		return nil
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		logger.WithError(err).Warn("Image storage disabled, MinIO unreachable")
		return nil
	}
	return client
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
