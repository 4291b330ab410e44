package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// oversampleFactor widens the raw vector query so that grouping by species
// still yields topK distinct species with enough chunks to reconstruct.
const oversampleFactor = 5

// Retriever turns a free-text query into a formatted context bundle for one
// knowledge domain.
type Retriever struct {
	embedder    Embedder
	index       VectorIndex
	plantIndex  string
	animalIndex string
	logger      *logrus.Logger
}

// NewRetriever creates a retriever over the two domain indexes.
func NewRetriever(embedder Embedder, index VectorIndex, plantIndex, animalIndex string, logger *logrus.Logger) *Retriever {
	if logger == nil {
		logger = logrus.New()
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		plantIndex:  plantIndex,
		animalIndex: animalIndex,
		logger:      logger,
	}
}

type speciesChunk struct {
	text       string
	chunkType  string
	chunkIndex int
	score      float32
}

type speciesGroup struct {
	scientificName string
	maxScore       float32
	metadata       map[string]interface{}
	chunks         []speciesChunk
}

// Retrieve embeds the query, searches the domain index with oversampling,
// and reconstructs per-species dossiers from the returned chunks. An empty
// query or an embedding failure yields an empty bundle, not an error; the
// caller degrades to a no-context prompt.
func (r *Retriever) Retrieve(ctx context.Context, domain Domain, query string, topK int) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.WithError(err).Warn("Query embedding failed, returning empty context")
		return "", nil
	}

	indexName := r.plantIndex
	if domain == DomainAnimal {
		indexName = r.animalIndex
	}

	matches, err := r.index.Query(ctx, indexName, vector, topK*oversampleFactor, true)
	if err != nil {
		return "", fmt.Errorf("vector query failed: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}

	groups := make(map[string]*speciesGroup)
	for _, match := range matches {
		scientificName := metaString(match.Metadata, "scientific_name")
		if scientificName == "" {
			continue
		}

		group, ok := groups[scientificName]
		if !ok {
			group = &speciesGroup{scientificName: scientificName, maxScore: match.Score, metadata: match.Metadata}
			groups[scientificName] = group
		}
		if match.Score > group.maxScore {
			group.maxScore = match.Score
			group.metadata = match.Metadata
		}
		group.chunks = append(group.chunks, speciesChunk{
			text:       metaString(match.Metadata, "chunk_text"),
			chunkType:  metaString(match.Metadata, "type"),
			chunkIndex: metaInt(match.Metadata, "chunk_index"),
			score:      match.Score,
		})
	}

	ordered := make([]*speciesGroup, 0, len(groups))
	for _, group := range groups {
		ordered = append(ordered, group)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].maxScore != ordered[j].maxScore {
			return ordered[i].maxScore > ordered[j].maxScore
		}
		return ordered[i].scientificName < ordered[j].scientificName
	})
	if len(ordered) > topK {
		ordered = ordered[:topK]
	}

	r.logger.WithFields(logrus.Fields{
		"index":   indexName,
		"matches": len(matches),
		"species": len(ordered),
	}).Debug("Context retrieved")

	return formatBundle(domain, ordered), nil
}

func formatBundle(domain Domain, groups []*speciesGroup) string {
	label := "Plant"
	if domain == DomainAnimal {
		label = "Animal"
	}

	parts := []string{fmt.Sprintf("Relevant %s Information:", label)}

	for i, group := range groups {
		commonName := metaString(group.metadata, "common_name")
		parts = append(parts, fmt.Sprintf("\n--- %s %d: %s (%s) ---", label, i+1, group.scientificName, commonName))

		appendMetaLine(&parts, group.metadata, "family", "Family")
		appendMetaLine(&parts, group.metadata, "genus", "Genus")
		if domain == DomainAnimal {
			appendMetaLine(&parts, group.metadata, "order", "Order")
			appendMetaLine(&parts, group.metadata, "class", "Class")
			appendMetaLine(&parts, group.metadata, "phylum", "Phylum")
			appendMetaLine(&parts, group.metadata, "kingdom", "Kingdom")
		}
		appendMetaLine(&parts, group.metadata, "summary", "Summary")

		if details := reassembleDetails(group.chunks); details != "" {
			parts = append(parts, "Details: "+details)
		}

		appendMetaLine(&parts, group.metadata, "wikipedia_url", "Source")
	}

	parts = append(parts, fmt.Sprintf("\n=== END OF %s INFORMATION ===\n", strings.ToUpper(label)))
	return strings.Join(parts, "\n")
}

// reassembleDetails rebuilds species text from whichever chunks the query
// actually returned: basic info first, then content chunks in index order.
func reassembleDetails(chunks []speciesChunk) string {
	var basic string
	var content []speciesChunk
	for _, chunk := range chunks {
		if chunk.chunkType == ChunkTypeBasic {
			basic = chunk.text
		} else {
			content = append(content, chunk)
		}
	}
	sort.Slice(content, func(i, j int) bool {
		return content[i].chunkIndex < content[j].chunkIndex
	})

	texts := make([]string, 0, len(content)+1)
	if basic != "" {
		texts = append(texts, basic)
	}
	for _, chunk := range content {
		if chunk.text != "" {
			texts = append(texts, chunk.text)
		}
	}
	return strings.Join(texts, " ")
}

func appendMetaLine(parts *[]string, metadata map[string]interface{}, key, label string) {
	if value := metaString(metadata, key); value != "" {
		*parts = append(*parts, label+": "+value)
	}
}

func metaString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key].(string); ok {
		return value
	}
	return ""
}

func metaInt(metadata map[string]interface{}, key string) int {
	if metadata == nil {
		return -1
	}
	switch value := metadata[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return -1
	}
}
