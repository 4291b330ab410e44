package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     Intent
	}{
		{
			"plain json",
			`{"is_plant": true, "is_animal": false, "is_both": false, "is_ambiguous": false}`,
			Intent{IsPlant: true},
		},
		{
			"code fenced",
			"```json\n{\"is_plant\": false, \"is_animal\": true, \"is_both\": false, \"is_ambiguous\": false}\n```",
			Intent{IsAnimal: true},
		},
		{
			"surrounded by prose",
			`Sure! Here is the classification: {"is_plant": false, "is_animal": false, "is_both": true, "is_ambiguous": false} Hope that helps.`,
			Intent{IsBoth: true},
		},
		{
			"string booleans",
			`{"is_plant": "true", "is_animal": "false", "is_both": "false", "is_ambiguous": "false"}`,
			Intent{IsPlant: true},
		},
		{
			"both and ambiguous resolves to both",
			`{"is_plant": false, "is_animal": false, "is_both": true, "is_ambiguous": true}`,
			Intent{IsBoth: true},
		},
		{
			"all false promotes to ambiguous",
			`{"is_plant": false, "is_animal": false, "is_both": false, "is_ambiguous": false}`,
			ambiguousIntent(),
		},
		{
			"missing key falls back",
			`{"is_plant": true, "is_animal": false, "is_both": false}`,
			ambiguousIntent(),
		},
		{
			"non boolean value falls back",
			`{"is_plant": 1, "is_animal": false, "is_both": false, "is_ambiguous": false}`,
			ambiguousIntent(),
		},
		{
			"garbage falls back",
			"the query is about plants I think",
			ambiguousIntent(),
		},
		{
			"empty response falls back",
			"",
			ambiguousIntent(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{textResponses: []string{tt.response}}
			classifier := NewClassifier(llm, nil)

			got := classifier.Classify(context.Background(), "tell me about foxes")
			assert.Equal(t, tt.want, got)
			assert.False(t, got.IsBoth && got.IsAmbiguous)
		})
	}
}

func TestClassifyLLMErrorFallsBack(t *testing.T) {
	llm := &scriptedLLM{textErr: errors.New("upstream down")}
	classifier := NewClassifier(llm, nil)

	assert.Equal(t, ambiguousIntent(), classifier.Classify(context.Background(), "what eats nettles"))
}

func TestClassifyPromptIncludesQuery(t *testing.T) {
	llm := &scriptedLLM{textResponses: []string{`{"is_plant": true, "is_animal": false, "is_both": false, "is_ambiguous": false}`}}
	classifier := NewClassifier(llm, nil)

	classifier.Classify(context.Background(), "is a dandelion edible")
	require.Len(t, llm.textPrompts, 1)
	assert.Contains(t, llm.textPrompts[0], "is a dandelion edible")
	assert.Contains(t, llm.textPrompts[0], `"is_ambiguous"`)
}
