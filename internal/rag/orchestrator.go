package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Call deadlines for the bot answer path.
const (
	defaultLLMTimeout      = 30 * time.Second
	defaultRetrieveTimeout = 5 * time.Second
)

const systemPrompt = `You are a knowledgeable wildlife assistant in a chat application.
When plant or animal information is provided below, you MUST answer using ONLY that information.
Do not draw on prior knowledge when context is supplied. If the provided information does not
cover the question, say that you do not have that information. Keep replies conversational and concise.`

const noContextBlock = `No knowledge base information is available for this question.
You must tell the user you do not have information on this topic and decline to answer from memory.`

const identifyPrompt = `Identify the species shown in this image.
Respond with ONLY the scientific (binomial) name in the form "Genus species".
If you cannot identify the species with confidence, respond with exactly: UNKNOWN`

// binomialPattern matches a Latin binomial (or trinomial) name such as
// "Taraxacum officinale" in the identification response.
var binomialPattern = regexp.MustCompile(`[A-Z][a-z]+(?:\s+[a-z]+)+`)

// Orchestrator coordinates classification, retrieval and generation to
// produce bot replies. It never returns an error to the caller; every
// failure path degrades to a usable reply string.
type Orchestrator struct {
	classifier *Classifier
	retriever  *Retriever
	llm        LLMClient
	logger     *logrus.Logger

	llmTimeout      time.Duration
	retrieveTimeout time.Duration

	// modelDown latches when the model endpoint reports a 404 class
	// error; further calls short-circuit to the fallback reply.
	mu        sync.Mutex
	modelDown bool
}

// NewOrchestrator creates the RAG orchestrator.
func NewOrchestrator(classifier *Classifier, retriever *Retriever, llm LLMClient, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		classifier:      classifier,
		retriever:       retriever,
		llm:             llm,
		logger:          logger,
		llmTimeout:      defaultLLMTimeout,
		retrieveTimeout: defaultRetrieveTimeout,
	}
}

// AnswerText produces a bot reply for a text message. The reply is always
// non-empty; upstream failures degrade to a canned fallback.
func (o *Orchestrator) AnswerText(ctx context.Context, userMessage string, history []HistoryEntry) string {
	if o.isModelDown() {
		return fallbackReply(userMessage)
	}

	intent := o.classifyWithTimeout(ctx, userMessage)
	contextBundle := o.retrieveForIntent(ctx, intent, userMessage)

	prompt := buildPrompt(contextBundle, "", history, userMessage)

	reply, err := o.generateText(ctx, prompt)
	if err != nil {
		o.noteGenerationFailure(err)
		return fallbackReply(userMessage)
	}
	return reply
}

// AnswerImage produces a bot reply for an image message. Identification
// runs first; a recognized species grounds the final answer in both
// knowledge bases.
func (o *Orchestrator) AnswerImage(ctx context.Context, imageData []byte, mimeType, userMessage string, history []HistoryEntry) string {
	if o.isModelDown() {
		return fallbackReply(userMessage)
	}

	species := o.identifySpecies(ctx, imageData, mimeType)

	var contextBundle string
	if species != "" {
		contextBundle = o.retrieveBoth(ctx, species, 3)
	}

	question := userMessage
	if strings.TrimSpace(question) == "" {
		question = "What can you tell me about this image?"
	}

	var prompt string
	if species != "" {
		prompt = buildPrompt(contextBundle, "IDENTIFIED SPECIES: "+species, history, question)
	} else {
		unknownBlock := `The species in the image could not be identified.
Describe what is visible in the image, but decline to make detailed claims about the species.`
		prompt = buildPrompt("", unknownBlock, history, question)
	}

	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()
	reply, err := o.llm.GenerateVision(llmCtx, prompt, imageData, mimeType)
	if err != nil {
		o.noteGenerationFailure(err)
		return fallbackReply(userMessage)
	}
	return strings.TrimSpace(reply)
}

// identifySpecies asks the vision model for a binomial name. An empty
// result means unidentified.
func (o *Orchestrator) identifySpecies(ctx context.Context, imageData []byte, mimeType string) string {
	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()

	response, err := o.llm.GenerateVision(llmCtx, identifyPrompt, imageData, mimeType)
	if err != nil {
		o.logger.WithError(err).Warn("Species identification failed")
		return ""
	}

	response = strings.TrimSpace(response)
	if strings.Contains(strings.ToUpper(response), "UNKNOWN") {
		return ""
	}

	species := binomialPattern.FindString(response)
	if species == "" {
		o.logger.WithField("response", truncate(response, 100)).Warn("No binomial name in identification response")
		return ""
	}

	o.logger.WithField("species", species).Info("Species identified from image")
	return species
}

func (o *Orchestrator) classifyWithTimeout(ctx context.Context, query string) Intent {
	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()
	return o.classifier.Classify(llmCtx, query)
}

// retrieveForIntent routes retrieval by classified intent. Both-domain
// queries split the budget two per index; single-domain queries get three.
func (o *Orchestrator) retrieveForIntent(ctx context.Context, intent Intent, query string) string {
	switch {
	case intent.IsBoth || intent.IsAmbiguous:
		return o.retrieveBoth(ctx, query, 2)
	case intent.IsAnimal:
		return o.retrieveOne(ctx, DomainAnimal, query, 3)
	case intent.IsPlant:
		return o.retrieveOne(ctx, DomainPlant, query, 3)
	default:
		return o.retrieveBoth(ctx, query, 2)
	}
}

func (o *Orchestrator) retrieveBoth(ctx context.Context, query string, topK int) string {
	plant := o.retrieveOne(ctx, DomainPlant, query, topK)
	animal := o.retrieveOne(ctx, DomainAnimal, query, topK)

	switch {
	case plant == "":
		return animal
	case animal == "":
		return plant
	default:
		return plant + "\n" + animal
	}
}

func (o *Orchestrator) retrieveOne(ctx context.Context, domain Domain, query string, topK int) string {
	retrieveCtx, cancel := context.WithTimeout(ctx, o.retrieveTimeout)
	defer cancel()

	bundle, err := o.retriever.Retrieve(retrieveCtx, domain, query, topK)
	if err != nil {
		o.logger.WithError(err).WithField("domain", domain).Warn("Retrieval failed, continuing without context")
		return ""
	}
	return bundle
}

// buildPrompt assembles the generation prompt: system role, knowledge
// context (or an explicit no-context instruction), an optional tag line,
// recent history in chronological order, the current message, and the
// assistant cue.
func buildPrompt(contextBundle, tagBlock string, history []HistoryEntry, userMessage string) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	if contextBundle != "" {
		b.WriteString(contextBundle)
		b.WriteString("\n")
	} else {
		b.WriteString(noContextBlock)
		b.WriteString("\n")
	}

	if tagBlock != "" {
		b.WriteString("\n")
		b.WriteString(tagBlock)
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		start := 0
		if len(history) > 10 {
			start = len(history) - 10
		}
		for _, entry := range history[start:] {
			if entry.IsBot {
				b.WriteString("Assistant: ")
			} else {
				b.WriteString(entry.AuthorName + ": ")
			}
			b.WriteString(entry.Text)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nUser: ")
	b.WriteString(userMessage)
	b.WriteString("\nAssistant:")
	return b.String()
}

func (o *Orchestrator) generateText(ctx context.Context, prompt string) (string, error) {
	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()

	response, err := o.llm.GenerateText(llmCtx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

func (o *Orchestrator) isModelDown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.modelDown
}

// noteGenerationFailure latches the circuit breaker when the model
// endpoint itself is gone, as opposed to a transient failure.
func (o *Orchestrator) noteGenerationFailure(err error) {
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "404") || strings.Contains(message, "not found") {
		o.mu.Lock()
		o.modelDown = true
		o.mu.Unlock()
		o.logger.WithError(err).Error("Model endpoint unavailable, disabling generation")
		return
	}
	o.logger.WithError(err).Error("Generation failed")
}

func fallbackReply(userMessage string) string {
	return fmt.Sprintf("I'm sorry, I can't reach my knowledge service right now. You said: %q. Please try again in a little while.", userMessage)
}
