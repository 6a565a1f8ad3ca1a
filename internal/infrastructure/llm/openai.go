// Package llm implements the language-model provider router on top of the
// OpenAI-compatible API surface. The router owns retry with exponential
// backoff and jitter plus per-deployment cooldowns; callers treat surfaced
// errors as per-cell errors.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/gridify/gentable/internal/domain"
	domainerrors "github.com/gridify/gentable/internal/domain/errors"
)

// Config configures the OpenAI-backed router.
type Config struct {
	APIKey         string
	BaseURL        string
	RerankURL      string
	DefaultModel   string
	EmbeddingModel string
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Cooldown       time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the default router configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		DefaultModel:   "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		MaxRetries:     3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Cooldown:       30 * time.Second,
		RequestTimeout: 5 * time.Minute,
	}
}

// OpenAIRouter implements domain.Router against any OpenAI-compatible
// endpoint.
type OpenAIRouter struct {
	client *openai.Client
	http   *http.Client
	cfg    Config

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

// NewOpenAIRouter creates a router from the given configuration.
func NewOpenAIRouter(cfg Config) *OpenAIRouter {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	return &OpenAIRouter{
		client:    openai.NewClientWithConfig(clientConfig),
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		cfg:       cfg,
		cooldowns: make(map[string]time.Time),
	}
}

func (r *OpenAIRouter) model(model string) string {
	if model == "" {
		return r.cfg.DefaultModel
	}
	return model
}

// inCooldown reports whether the deployment was recently marked overloaded.
func (r *OpenAIRouter) inCooldown(model string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.cooldowns[model]
	return ok && time.Now().Before(until)
}

func (r *OpenAIRouter) markCooldown(model string) {
	if r.cfg.Cooldown <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[model] = time.Now().Add(r.cfg.Cooldown)
}

// retryable reports whether the provider error is worth retrying.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusRequestTimeout:
			return true
		}
		return false
	}
	// Network-level failures are retryable; context cancellation is not.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// retryDelay computes the exponential backoff with 10% jitter for the given
// attempt.
func (r *OpenAIRouter) retryDelay(attempt int) time.Duration {
	delay := float64(r.cfg.InitialDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.cfg.MaxDelay) {
		delay = float64(r.cfg.MaxDelay)
	}
	jitter := delay * 0.1 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1)
	return time.Duration(delay + jitter)
}

// withRetry runs call with bounded retries. When retries are exhausted on an
// overload, the deployment cools down and a mapped error is surfaced.
func (r *OpenAIRouter) withRetry(ctx context.Context, model string, call func() error) error {
	if r.inCooldown(model) {
		return domainerrors.Overloaded(
			fmt.Sprintf("Model %q is cooling down after repeated overloads.", model), nil)
	}
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		log.Warn().
			Err(lastErr).
			Str("model", model).
			Int("attempt", attempt).
			Msg("Provider call failed, retrying")
		if attempt == r.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retryDelay(attempt)):
		}
	}
	r.markCooldown(model)
	return domainerrors.Overloaded(
		fmt.Sprintf("Model %q failed after %d attempts.", model, r.cfg.MaxRetries), lastErr)
}

// toOpenAIMessages converts domain messages, expanding multimodal parts.
func toOpenAIMessages(messages []domain.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if m.Parts == nil {
			msg.Content = m.Content
			out[i] = msg
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case domain.ContentText:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			case domain.ContentImageURL:
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
				})
			case domain.ContentInputAudio:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeInputAudio,
					InputAudio: &openai.ChatMessageInputAudio{
						Data:   p.AudioData,
						Format: p.AudioFormat,
					},
				})
			}
		}
		msg.MultiContent = parts
		out[i] = msg
	}
	return out
}

func (r *OpenAIRouter) chatRequest(req *domain.ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:           r.model(req.Model),
		Messages:        toOpenAIMessages(req.Messages),
		Temperature:     float32(req.Temperature),
		TopP:            float32(req.TopP),
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
		Stream:          stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

// Chat performs a unary chat completion.
func (r *OpenAIRouter) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	model := r.model(req.Model)
	var resp openai.ChatCompletionResponse
	err := r.withRetry(ctx, model, func() error {
		var callErr error
		resp, callErr = r.client.CreateChatCompletion(ctx, r.chatRequest(req, false))
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model %q returned no choices", model)
	}
	choice := resp.Choices[0]
	return &domain.ChatResponse{
		ID:               resp.ID,
		Model:            resp.Model,
		Content:          choice.Message.Content,
		ReasoningContent: choice.Message.ReasoningContent,
		FinishReason:     string(choice.FinishReason),
		Usage: domain.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatStream performs a streaming chat completion, forwarding every delta on
// the returned channel. The channel closes at end of stream; a terminal
// error arrives on the error channel.
func (r *OpenAIRouter) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta, 16)
	errs := make(chan error, 1)
	model := r.model(req.Model)

	go func() {
		defer close(deltas)
		defer close(errs)

		if r.inCooldown(model) {
			errs <- domainerrors.Overloaded(
				fmt.Sprintf("Model %q is cooling down after repeated overloads.", model), nil)
			return
		}
		stream, err := r.client.CreateChatCompletionStream(ctx, r.chatRequest(req, true))
		if err != nil {
			if retryable(err) {
				r.markCooldown(model)
			}
			errs <- err
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("stream error: %w", err)
				return
			}
			delta := domain.StreamDelta{ID: resp.ID, Model: resp.Model}
			if len(resp.Choices) > 0 {
				choice := resp.Choices[0]
				delta.Content = choice.Delta.Content
				delta.ReasoningContent = choice.Delta.ReasoningContent
				delta.FinishReason = string(choice.FinishReason)
			}
			if resp.Usage != nil {
				delta.Usage = &domain.ChatUsage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			select {
			case deltas <- delta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return deltas, errs
}

// Embed embeds the given texts with the named model.
func (r *OpenAIRouter) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = r.cfg.EmbeddingModel
	}
	var resp openai.EmbeddingResponse
	err := r.withRetry(ctx, model, func() error {
		var callErr error
		resp, callErr = r.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(model),
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
