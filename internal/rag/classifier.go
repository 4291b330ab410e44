package rag

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// Intent is the routing decision for a user query. IsBoth and IsAmbiguous
// are mutually exclusive; when the model claims both, IsBoth wins.
type Intent struct {
	IsPlant     bool `json:"is_plant"`
	IsAnimal    bool `json:"is_animal"`
	IsBoth      bool `json:"is_both"`
	IsAmbiguous bool `json:"is_ambiguous"`
}

func ambiguousIntent() Intent {
	return Intent{IsAmbiguous: true}
}

const classifyPromptTemplate = `You are a query router for a wildlife knowledge base.
Decide whether the user's question is about plants, animals, both, or is too ambiguous to tell.

Respond with ONLY a JSON object, no other text, in exactly this shape:
{"is_plant": <bool>, "is_animal": <bool>, "is_both": <bool>, "is_ambiguous": <bool>}

Rules:
- "is_plant": the question is specifically about plants.
- "is_animal": the question is specifically about animals.
- "is_both": the question explicitly involves both plants and animals.
- "is_ambiguous": the subject cannot be determined from the question alone.

User question: `

// Classifier routes queries to knowledge domains using a fixed LLM prompt.
type Classifier struct {
	llm    LLMClient
	logger *logrus.Logger
}

// NewClassifier creates an intent classifier.
func NewClassifier(llm LLMClient, logger *logrus.Logger) *Classifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Classifier{llm: llm, logger: logger}
}

// Classify determines the knowledge domains relevant to a query. Any model
// failure or malformed response falls back to ambiguous, which routes to
// both indexes.
func (c *Classifier) Classify(ctx context.Context, query string) Intent {
	response, err := c.llm.GenerateText(ctx, classifyPromptTemplate+query)
	if err != nil {
		c.logger.WithError(err).Warn("Intent classification failed, treating query as ambiguous")
		return ambiguousIntent()
	}

	intent, ok := parseIntent(response)
	if !ok {
		c.logger.WithField("response", truncate(response, 200)).Warn("Unparseable intent response, treating query as ambiguous")
		return ambiguousIntent()
	}

	if intent.IsBoth && intent.IsAmbiguous {
		intent.IsAmbiguous = false
	}
	if !intent.IsPlant && !intent.IsAnimal && !intent.IsBoth && !intent.IsAmbiguous {
		intent.IsAmbiguous = true
	}

	c.logger.WithFields(logrus.Fields{
		"is_plant":     intent.IsPlant,
		"is_animal":    intent.IsAnimal,
		"is_both":      intent.IsBoth,
		"is_ambiguous": intent.IsAmbiguous,
	}).Debug("Query intent classified")

	return intent
}

// parseIntent extracts the JSON object from a model response, tolerating
// code fences and surrounding prose. All four keys must be present.
func parseIntent(response string) (Intent, bool) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return Intent{}, false
	}
	cleaned = cleaned[start : end+1]

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return Intent{}, false
	}

	var intent Intent
	fields := []struct {
		key string
		dst *bool
	}{
		{"is_plant", &intent.IsPlant},
		{"is_animal", &intent.IsAnimal},
		{"is_both", &intent.IsBoth},
		{"is_ambiguous", &intent.IsAmbiguous},
	}
	for _, field := range fields {
		value, ok := raw[field.key]
		if !ok {
			return Intent{}, false
		}
		b, ok := coerceBool(value)
		if !ok {
			return Intent{}, false
		}
		*field.dst = b
	}

	return intent, true
}

func coerceBool(value interface{}) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
