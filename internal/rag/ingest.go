package rag

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/intothewild/wildchat/internal/models"
	"github.com/intothewild/wildchat/internal/vectordb/pinecone"
)

// IngestStats summarizes one pipeline run.
type IngestStats struct {
	Records      int
	Skipped      int
	Chunks       int
	FailedChunks int
	Upserted     int
	Collisions   int
}

// Pipeline indexes species records into a vector index. Re-running over the
// same records upserts over the same IDs, so partial runs are safe to
// repeat.
type Pipeline struct {
	embedder  Embedder
	index     VectorIndex
	indexName string
	domain    Domain
	batchSize int
	logger    *logrus.Logger
}

// NewPipeline creates an ingestion pipeline targeting one domain index.
func NewPipeline(embedder Embedder, index VectorIndex, indexName string, domain Domain, batchSize int, logger *logrus.Logger) *Pipeline {
	if batchSize < 1 {
		batchSize = 100
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		embedder:  embedder,
		index:     index,
		indexName: indexName,
		domain:    domain,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run chunks, embeds and upserts the given records. Per-chunk embedding
// failures are logged and skipped; an unreachable index or a failed upsert
// aborts the run. Progress already flushed stays in the index.
func (p *Pipeline) Run(ctx context.Context, records []models.SpeciesRecord) (IngestStats, error) {
	stats := IngestStats{}

	if err := p.index.EnsureIndex(ctx, p.indexName, p.embedder.Dimension()); err != nil {
		return stats, fmt.Errorf("failed to prepare index %s: %w", p.indexName, err)
	}

	seen := make(map[string]string) // sanitized base ID -> scientific name
	buffer := make([]pinecone.Vector, 0, p.batchSize)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := p.index.Upsert(ctx, p.indexName, buffer); err != nil {
			return fmt.Errorf("failed to upsert batch: %w", err)
		}
		stats.Upserted += len(buffer)
		p.logger.WithFields(logrus.Fields{
			"index":    p.indexName,
			"upserted": stats.Upserted,
		}).Info("Indexed chunk batch")
		buffer = buffer[:0]
		return nil
	}

	for i, record := range records {
		if record.Error != "" {
			stats.Skipped++
			continue
		}
		stats.Records++

		baseID := SanitizeID(record.ScientificName)
		if prev, ok := seen[baseID]; ok && prev != record.ScientificName {
			stats.Collisions++
			p.logger.WithFields(logrus.Fields{
				"id":       baseID,
				"previous": prev,
				"current":  record.ScientificName,
			}).Warn("Sanitized ID collision, later record overwrites earlier chunks")
		}
		seen[baseID] = record.ScientificName

		for _, chunk := range ChunkSpecies(record, p.domain) {
			stats.Chunks++

			vector, err := p.embedder.EmbedDocument(ctx, chunk.Text)
			if err != nil {
				stats.FailedChunks++
				p.logger.WithError(err).WithField("chunk_id", chunk.ID).Warn("Skipping chunk, embedding failed")
				continue
			}

			buffer = append(buffer, pinecone.Vector{
				ID:       chunk.ID,
				Values:   vector,
				Metadata: chunk.Metadata,
			})
			if len(buffer) >= p.batchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}

		if (i+1)%100 == 0 {
			p.logger.WithFields(logrus.Fields{
				"processed": i + 1,
				"total":     len(records),
			}).Info("Ingestion progress")
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}

	p.logger.WithFields(logrus.Fields{
		"index":      p.indexName,
		"records":    stats.Records,
		"skipped":    stats.Skipped,
		"chunks":     stats.Chunks,
		"failed":     stats.FailedChunks,
		"upserted":   stats.Upserted,
		"collisions": stats.Collisions,
	}).Info("Ingestion complete")

	return stats, nil
}
