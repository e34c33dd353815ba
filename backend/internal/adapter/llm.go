package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	pkgerrors "engram/backend/pkg/errors"
	"engram/backend/pkg/logger"
)

// httpTimeout is the transport-level ceiling on any single request. Callers
// bound individual calls more tightly through their context.
const httpTimeout = 60 * time.Second

// LLMAdapter handles communication with the embedding and chat models via a
// LiteLLM-compatible endpoint.
type LLMAdapter struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	mu             sync.RWMutex // Protects model fields for concurrent access
	logger         *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, chatModel, embeddingModel string) *LLMAdapter {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	config.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &LLMAdapter{
		client:         openai.NewClientWithConfig(config),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		logger:         logger.Get(),
	}
}

// SetChatModel updates the chat model used for disambiguation
func (a *LLMAdapter) SetChatModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.chatModel = model
		a.mu.Unlock()
		a.logger.Debug("LLM adapter chat model updated", zap.String("model", model))
	}
}

// GetChatModel returns the current chat model
func (a *LLMAdapter) GetChatModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chatModel
}

// Embed converts text into an embedding vector
func (a *LLMAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	a.mu.RLock()
	model := a.embeddingModel
	a.mu.RUnlock()

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{text},
	}

	resp, err := a.withRetry(ctx, "embedding", model, func() (interface{}, error) {
		return a.client.CreateEmbeddings(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	embResp := resp.(openai.EmbeddingResponse)
	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	return embResp.Data[0].Embedding, nil
}

// DisambiguationCandidate is one existing entity offered to the disambiguator.
type DisambiguationCandidate struct {
	EntityKey   string  `json:"entity_key"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// DisambiguationResult is the model's verdict: the key of the matched
// candidate, or empty when the mention is a genuinely new entity.
type DisambiguationResult struct {
	MatchedEntityKey string  `json:"matched_entity_key"`
	Confidence       float64 `json:"confidence"`
}

// Disambiguate asks the chat model whether a mention refers to one of the
// candidate entities. The model answers with JSON; anything unparseable is
// treated as "no match" rather than guessed at.
func (a *LLMAdapter) Disambiguate(ctx context.Context, mentionName, mentionContext string, candidates []DisambiguationCandidate) (*DisambiguationResult, error) {
	if len(candidates) == 0 {
		return &DisambiguationResult{}, nil
	}

	candidateJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}

	systemPrompt := "You resolve entity mentions against a list of known entities. " +
		"Reply with JSON only: {\"matched_entity_key\": \"<key or empty string>\", \"confidence\": <0..1>}. " +
		"Use an empty matched_entity_key when the mention is a different entity from every candidate."

	userMsg := fmt.Sprintf("Mention: %q", mentionName)
	if mentionContext != "" {
		userMsg += fmt.Sprintf("\nContext: %s", mentionContext)
	}
	userMsg += fmt.Sprintf("\nCandidates: %s", string(candidateJSON))

	a.mu.RLock()
	model := a.chatModel
	a.mu.RUnlock()

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: 0.0,
	}

	resp, err := a.withRetry(ctx, "disambiguation", model, func() (interface{}, error) {
		return a.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to disambiguate: %w", err)
	}

	chatResp := resp.(openai.ChatCompletionResponse)
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in LLM response")
	}

	result, err := parseDisambiguation(chatResp.Choices[0].Message.Content)
	if err != nil {
		a.logger.Warn("Disambiguator returned unparseable content, treating as no match",
			zap.String("mention", mentionName),
			zap.Error(err),
		)
		return &DisambiguationResult{}, nil
	}

	// The model must name one of the offered candidates; anything else is a
	// hallucinated key and counts as no match.
	if result.MatchedEntityKey != "" {
		known := false
		for _, c := range candidates {
			if c.EntityKey == result.MatchedEntityKey {
				known = true
				break
			}
		}
		if !known {
			a.logger.Warn("Disambiguator named an unknown entity key, treating as no match",
				zap.String("mention", mentionName),
				zap.String("returned_key", result.MatchedEntityKey),
			)
			return &DisambiguationResult{}, nil
		}
	}

	a.logger.Debug("Disambiguation complete",
		zap.String("mention", mentionName),
		zap.String("matched", result.MatchedEntityKey),
		zap.Float64("confidence", result.Confidence),
	)

	return result, nil
}

// withRetry runs an LLM call with exponential backoff
func (a *LLMAdapter) withRetry(ctx context.Context, operation, model string, call func() (interface{}, error)) (interface{}, error) {
	var resp interface{}
	var err error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.logger.Warn("Retrying LLM request",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err = call()
		if err == nil {
			return resp, nil
		}

		a.logger.Error("LLM request failed",
			zap.String("operation", operation),
			zap.Error(err),
			zap.Int("attempt", attempt+1),
		)

		// Context cancellation will not recover on retry
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, pkgerrors.NewLLMRequestFailed(model, maxRetries, true, err)
}

// parseDisambiguation extracts the JSON verdict from model output, tolerating
// code fences and surrounding prose.
func parseDisambiguation(content string) (*DisambiguationResult, error) {
	content = strings.TrimSpace(content)

	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var result DisambiguationResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse disambiguation response: %w", err)
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return &result, nil
}
