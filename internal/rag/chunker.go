package rag

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/intothewild/wildchat/internal/models"
)

// Chunk type tags stored in vector metadata.
const (
	ChunkTypeBasic   = "basic_info"
	ChunkTypeContent = "detailed_content"
)

// maxChunkChars bounds the size of a detailed content chunk. Splits happen
// on word boundaries only, so chunks can slightly exceed this.
const maxChunkChars = 1000

// Chunk is one indexable unit of a species record. Text drives the
// embedding; Metadata is what the index stores and returns, including a
// chunk_text copy of Text for reconstruction at retrieval time.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
}

var asciiFoldReplacer = strings.NewReplacer(
	"×", "x",
	"é", "e",
	"è", "e",
	"ê", "e",
	"ë", "e",
	"à", "a",
	"á", "a",
	"â", "a",
	"ä", "a",
	"ù", "u",
	"ú", "u",
	"û", "u",
	"ü", "u",
	"ö", "o",
	"ó", "o",
	"ò", "o",
	"ô", "o",
	"ç", "c",
	"ñ", "n",
	"ß", "ss",
)

var (
	nonIDChars          = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// SanitizeID converts a scientific name into an ASCII-safe vector ID base.
// Hybrid markers and accented letters fold to plain ASCII; anything left
// over becomes an underscore. Distinct names can collide after
// sanitization; the ingester tracks and reports such collisions.
func SanitizeID(scientificName string) string {
	id := strings.ToLower(scientificName)
	id = asciiFoldReplacer.Replace(id)

	// Decompose accented characters, then drop every non-ASCII byte.
	id = norm.NFKD.String(id)
	var b strings.Builder
	for _, r := range id {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	id = b.String()

	id = nonIDChars.ReplaceAllString(id, "_")
	id = repeatedUnderscores.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_")

	if id == "" {
		return "unknown"
	}
	return id
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// ChunkSpecies splits a species record into one basic_info chunk plus zero
// or more detailed_content chunks. Animal records carry extra taxonomy
// ranks in both the basic text and the metadata.
func ChunkSpecies(record models.SpeciesRecord, domain Domain) []Chunk {
	baseID := SanitizeID(record.ScientificName)

	basicLines := []string{
		"Scientific Name: " + valueOrUnknown(record.ScientificName),
		"Common Name: " + valueOrUnknown(record.CommonName),
		"Family: " + valueOrUnknown(record.Family),
		"Genus: " + valueOrUnknown(record.Genus),
	}
	if domain == DomainAnimal {
		basicLines = append(basicLines,
			"Order: "+valueOrUnknown(record.Order),
			"Class: "+valueOrUnknown(record.Class),
			"Phylum: "+valueOrUnknown(record.Phylum),
			"Kingdom: "+valueOrUnknown(record.Kingdom),
		)
	}
	basicLines = append(basicLines, "Summary: "+record.Summary)
	basicText := strings.Join(basicLines, "\n")

	chunks := []Chunk{{
		ID:       baseID + "_basic",
		Text:     basicText,
		Metadata: chunkMetadata(record, domain, basicText, ChunkTypeBasic, -1),
	}}

	for i, text := range splitContent(record.Content) {
		chunks = append(chunks, Chunk{
			ID:       fmt.Sprintf("%s_content_%d", baseID, i),
			Text:     text,
			Metadata: chunkMetadata(record, domain, text, ChunkTypeContent, i),
		})
	}

	return chunks
}

func chunkMetadata(record models.SpeciesRecord, domain Domain, chunkText, chunkType string, chunkIndex int) map[string]interface{} {
	metadata := map[string]interface{}{
		"scientific_name": record.ScientificName,
		"common_name":     record.CommonName,
		"family":          record.Family,
		"genus":           record.Genus,
		"summary":         record.Summary,
		"wikipedia_url":   record.WikipediaURL,
		"chunk_text":      chunkText,
		"type":            chunkType,
	}
	if domain == DomainAnimal {
		metadata["order"] = record.Order
		metadata["class"] = record.Class
		metadata["phylum"] = record.Phylum
		metadata["kingdom"] = record.Kingdom
	}
	if chunkType == ChunkTypeContent {
		metadata["chunk_index"] = chunkIndex
	}
	return metadata
}

// splitContent breaks article text into word-boundary chunks of roughly
// maxChunkChars characters. Empty content yields no chunks.
func splitContent(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0

	for _, word := range words {
		wordLen := len(word) + 1
		if currentLen+wordLen > maxChunkChars && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = []string{word}
			currentLen = wordLen
		} else {
			current = append(current, word)
			currentLen += wordLen
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}
