package rag

import (
	"context"
	"errors"
	"sync"

	"github.com/intothewild/wildchat/internal/vectordb/pinecone"
)

type fakeEmbedder struct {
	queryVector []float32
	docVector   []float32
	queryErr    error
	docErr      func(text string) error

	mu         sync.Mutex
	queryTexts []string
	docTexts   []string
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queryTexts = append(f.queryTexts, text)
	f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryVector != nil {
		return f.queryVector, nil
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.docTexts = append(f.docTexts, text)
	f.mu.Unlock()
	if f.docErr != nil {
		if err := f.docErr(text); err != nil {
			return nil, err
		}
	}
	if f.docVector != nil {
		return f.docVector, nil
	}
	return []float32{0.3, 0.4}, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

type queryCall struct {
	index string
	topK  int
}

type fakeIndex struct {
	matches    map[string][]pinecone.Match // per index name
	queryErr   error
	upsertErr  error
	ensureErr  error
	mu         sync.Mutex
	queryCalls []queryCall
	upserts    [][]pinecone.Vector
	ensured    []string
}

func (f *fakeIndex) EnsureIndex(_ context.Context, name string, _ int) error {
	f.mu.Lock()
	f.ensured = append(f.ensured, name)
	f.mu.Unlock()
	return f.ensureErr
}

func (f *fakeIndex) Upsert(_ context.Context, _ string, vectors []pinecone.Vector) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	copied := make([]pinecone.Vector, len(vectors))
	copy(copied, vectors)
	f.upserts = append(f.upserts, copied)
	f.mu.Unlock()
	return nil
}

func (f *fakeIndex) Query(_ context.Context, index string, _ []float32, topK int, _ bool) ([]pinecone.Match, error) {
	f.mu.Lock()
	f.queryCalls = append(f.queryCalls, queryCall{index: index, topK: topK})
	f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.matches[index], nil
}

// scriptedLLM returns queued text responses in order; vision calls share
// their own queue. Prompts are recorded for assertions.
type scriptedLLM struct {
	mu              sync.Mutex
	textResponses   []string
	visionResponses []string
	textErr         error
	visionErr       error
	textPrompts     []string
	visionPrompts   []string
}

var errScriptExhausted = errors.New("no scripted response left")

func (s *scriptedLLM) GenerateText(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textPrompts = append(s.textPrompts, prompt)
	if s.textErr != nil {
		return "", s.textErr
	}
	if len(s.textResponses) == 0 {
		return "", errScriptExhausted
	}
	response := s.textResponses[0]
	s.textResponses = s.textResponses[1:]
	return response, nil
}

func (s *scriptedLLM) GenerateVision(_ context.Context, prompt string, _ []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visionPrompts = append(s.visionPrompts, prompt)
	if s.visionErr != nil {
		return "", s.visionErr
	}
	if len(s.visionResponses) == 0 {
		return "", errScriptExhausted
	}
	response := s.visionResponses[0]
	s.visionResponses = s.visionResponses[1:]
	return response, nil
}

func (s *scriptedLLM) textCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.textPrompts)
}
