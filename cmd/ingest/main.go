// Offline ingestion pipeline: species records (scraped or from file) are
// chunked, embedded and upserted into the wildlife knowledge bases.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/intothewild/wildchat/internal/config"
	"github.com/intothewild/wildchat/internal/embedding"
	"github.com/intothewild/wildchat/internal/models"
	"github.com/intothewild/wildchat/internal/rag"
	"github.com/intothewild/wildchat/internal/scraper"
	"github.com/intothewild/wildchat/internal/vectordb/pinecone"
)

func main() {
	var (
		domainFlag = flag.String("domain", "", "knowledge domain: plant or animal")
		fileFlag   = flag.String("file", "", "species records JSON file to ingest")
		scrapeFlag = flag.String("scrape", "", "taxonomy categories JSON file to scrape from Wikipedia")
		outFlag    = flag.String("out", "", "write scraped records to this JSON file")
		batchFlag  = flag.Int("batch", 0, "upsert batch size (default from config)")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	domain, indexName, err := resolveDomain(cfg, *domainFlag)
	if err != nil {
		logger.WithError(err).Fatal("Invalid domain")
	}
	if *fileFlag == "" && *scrapeFlag == "" {
		logger.Fatal("Either -file or -scrape is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var records []models.SpeciesRecord
	switch {
	case *scrapeFlag != "":
		records, err = scrapeRecords(ctx, *scrapeFlag, logger)
	default:
		records, err = loadRecords(*fileFlag)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to load species records")
	}
	logger.WithField("records", len(records)).Info("Species records loaded")

	if *outFlag != "" {
		if err := writeRecords(*outFlag, records); err != nil {
			logger.WithError(err).Fatal("Failed to write records file")
		}
		logger.WithField("file", *outFlag).Info("Records written")
	}

	batchSize := cfg.VectorIndex.BatchSize
	if *batchFlag > 0 {
		batchSize = *batchFlag
	}

	pipeline, err := newPipeline(cfg, domain, indexName, batchSize, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize pipeline")
	}

	stats, err := pipeline.Run(ctx, records)
	if err != nil {
		logger.WithError(err).Fatal("Ingestion failed")
	}

	logger.WithFields(logrus.Fields{
		"records":       stats.Records,
		"skipped":       stats.Skipped,
		"chunks":        stats.Chunks,
		"failed_chunks": stats.FailedChunks,
		"upserted":      stats.Upserted,
		"collisions":    stats.Collisions,
	}).Info("Ingestion complete")
}

func resolveDomain(cfg *config.Config, value string) (rag.Domain, string, error) {
	switch value {
	case "plant":
		return rag.DomainPlant, cfg.VectorIndex.PlantIndex, nil
	case "animal":
		return rag.DomainAnimal, cfg.VectorIndex.AnimalIndex, nil
	default:
		return "", "", fmt.Errorf("domain must be plant or animal, got %q", value)
	}
}

func loadRecords(path string) ([]models.SpeciesRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	var records []models.SpeciesRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records file: %w", err)
	}
	return records, nil
}

func writeRecords(path string, records []models.SpeciesRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func scrapeRecords(ctx context.Context, categoriesPath string, logger *logrus.Logger) ([]models.SpeciesRecord, error) {
	categories, err := scraper.LoadCategories(categoriesPath)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories in %s", categoriesPath)
	}

	client, err := scraper.NewClient(scraper.DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}

	records := client.ScrapeBatch(ctx, categories)

	stats := client.Stats()
	logger.WithFields(logrus.Fields{
		"processed":  stats.Processed,
		"successful": stats.Successful,
		"failed":     stats.Failed,
		"not_found":  stats.NotFound,
	}).Info("Scraping complete")

	return records, nil
}

func newPipeline(cfg *config.Config, domain rag.Domain, indexName string, batchSize int, logger *logrus.Logger) (*rag.Pipeline, error) {
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
	indexConfig.UpsertBatchSize = batchSize

	indexClient, err := pinecone.NewClient(indexConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("vector index client: %w", err)
	}

	return rag.NewPipeline(embedClient, indexClient, indexName, domain, batchSize, logger), nil
}
